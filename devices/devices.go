// Package devices enumerates capture devices, classifies them by kind, and
// picks safe defaults for the mic/system slots. It wraps the capture
// backend's raw enumeration (audio.Capture.ListDevices) with the
// name-normalization and classification rules C2 needs.
package devices

import (
	"fmt"
	"regexp"
	"runtime"
	"strings"

	"durablemeet/audio"
)

// Kind classifies a device's connection for the adaptive-buffering decision
// in the mixing pipeline (C4).
type Kind string

const (
	KindBluetooth Kind = "bluetooth"
	KindWired     Kind = "wired"
	KindUnknown   Kind = "unknown"
)

// Device is a registry entry: the raw audio.AudioDevice plus its classified
// kind and normalized friendly name.
type Device struct {
	audio.AudioDevice
	Kind     Kind
	Friendly string
}

var bluetoothHints = []string{
	"airpods", "bluetooth", "bt ", " bt", "buds", "beats", "headset",
	"wh-1000", "wf-1000", "soundcore", "jabra", "bose qc",
}

var builtinHints = []string{
	"built-in", "builtin", "internal microphone", "macbook",
}

// classify returns the DeviceKind for a device name using substring
// heuristics, mirroring the teacher's FindBlackHoleDevice substring match.
func classify(name string) Kind {
	lower := strings.ToLower(name)
	for _, hint := range bluetoothHints {
		if strings.Contains(lower, hint) {
			return KindBluetooth
		}
	}
	if strings.Contains(lower, "usb") || strings.Contains(lower, "wired") {
		return KindWired
	}
	for _, hint := range builtinHints {
		if strings.Contains(lower, hint) {
			return KindWired
		}
	}
	return KindUnknown
}

var (
	monitorSuffix = regexp.MustCompile(`(?i)\s*\.monitor$`)
	cardDeviceNum = regexp.MustCompile(`(?i)\b(card|device)\s*\d+\b`)
	hardwareID    = regexp.MustCompile(`(?i)\(?\bhw:\d+,\d+\b\)?`)
	usbVendorID   = regexp.MustCompile(`(?i)\b[0-9a-f]{4}:[0-9a-f]{4}\b`)
	extraSpaces   = regexp.MustCompile(`\s{2,}`)
)

// Friendly normalizes a raw platform device name into a deterministic,
// human-readable form. Pure — no I/O, per the C2 contract.
func Friendly(name string) string {
	out := monitorSuffix.ReplaceAllString(name, "")
	out = hardwareID.ReplaceAllString(out, "")
	out = usbVendorID.ReplaceAllString(out, "")
	out = cardDeviceNum.ReplaceAllString(out, "")
	out = strings.Trim(out, " -_,")
	out = extraSpaces.ReplaceAllString(out, " ")
	if out == "" {
		return strings.TrimSpace(name)
	}
	return out
}

// Registry enumerates and classifies capture devices.
type Registry struct {
	capture *audio.Capture
}

// NewRegistry wraps an existing capture backend instance.
func NewRegistry(capture *audio.Capture) *Registry {
	return &Registry{capture: capture}
}

// List enumerates all input and loopback/output devices, classified and
// name-normalized.
func (r *Registry) List() ([]Device, error) {
	raw, err := r.capture.ListDevices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	out := make([]Device, 0, len(raw))
	for _, d := range raw {
		out = append(out, Device{
			AudioDevice: d,
			Kind:        classify(d.Name),
			Friendly:    Friendly(d.Name),
		})
	}
	return out, nil
}

// SafeDefaults picks a default mic and (optional) system device. On
// platforms with unstable sample rates over wireless it overrides a
// Bluetooth selection with the first available wired equivalent,
// independently for each slot. At least one microphone must be selectable,
// else it returns an error.
func (r *Registry) SafeDefaults() (mic *Device, system *Device, err error) {
	all, err := r.List()
	if err != nil {
		return nil, nil, err
	}

	unstableWireless := runtime.GOOS == "darwin" || runtime.GOOS == "windows"

	var mics, systems []Device
	for _, d := range all {
		if d.IsInput {
			mics = append(mics, d)
		}
		if d.IsOutput {
			systems = append(systems, d)
		}
	}
	if len(mics) == 0 {
		return nil, nil, fmt.Errorf("no microphone available")
	}

	mic = pickDefault(mics, unstableWireless)
	if len(systems) > 0 {
		system = pickDefault(systems, unstableWireless)
	}
	return mic, system, nil
}

// pickDefault prefers a wired device over a Bluetooth one when the platform
// has unstable wireless sample rates, else returns the first device. A
// Bluetooth first choice is replaced by the first wired device, or by the
// first non-Bluetooth device when none is classified as wired.
func pickDefault(candidates []Device, avoidBluetooth bool) *Device {
	if !avoidBluetooth || candidates[0].Kind != KindBluetooth {
		d := candidates[0]
		return &d
	}
	for _, d := range candidates {
		if d.Kind == KindWired {
			cp := d
			return &cp
		}
	}
	for _, d := range candidates {
		if d.Kind != KindBluetooth {
			cp := d
			return &cp
		}
	}
	cp := candidates[0]
	return &cp
}
