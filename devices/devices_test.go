package devices

import "testing"

func TestClassifyBluetooth(t *testing.T) {
	if got := classify("Sony WH-1000XM4"); got != KindBluetooth {
		t.Fatalf("expected bluetooth, got %v", got)
	}
	if got := classify("AirPods Pro"); got != KindBluetooth {
		t.Fatalf("expected bluetooth, got %v", got)
	}
}

func TestClassifyWired(t *testing.T) {
	if got := classify("USB Condenser Microphone"); got != KindWired {
		t.Fatalf("expected wired, got %v", got)
	}
	if got := classify("Built-in Microphone"); got != KindWired {
		t.Fatalf("expected wired, got %v", got)
	}
}

func TestClassifyUnknown(t *testing.T) {
	if got := classify("Some Weird Device"); got != KindUnknown {
		t.Fatalf("expected unknown, got %v", got)
	}
}

func TestFriendlyStripsHardwareNoise(t *testing.T) {
	cases := map[string]string{
		"HDA Intel PCH: ALC256 (hw:0,0)":  "HDA Intel PCH: ALC256",
		"Monitor of Built-in Audio.monitor": "Monitor of Built-in Audio",
		"USB Audio Device card 2 device 0": "USB Audio Device",
	}
	for input, want := range cases {
		if got := Friendly(input); got != want {
			t.Errorf("Friendly(%q) = %q, want %q", input, got, want)
		}
	}
}
