package control

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"durablemeet/diarization"
	"durablemeet/identify"
	"durablemeet/mixer"
	"durablemeet/preferences"
	"durablemeet/recording"
)

// fakeEncoder assigns one of two fixed embeddings based on the sample's
// first value, mirroring diarization's own test double, so runDiarization
// clusters into two stable speaker labels without a real ONNX model.
type fakeEncoder struct{}

func (fakeEncoder) Encode(samples []float32) ([]float32, error) {
	if len(samples) > 0 && samples[0] > 0.5 {
		return []float32{1, 0, 0}, nil
	}
	return []float32{0, 1, 0}, nil
}

type fakeClient struct {
	sent   []Message
	closed bool
	err    error
}

func (f *fakeClient) Send(msg Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func TestJSONCodecRoundTrip(t *testing.T) {
	c := jsonCodec{}
	msg := Message{Type: "status", Status: "recording", MicLevel: 0.5}
	raw, err := c.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	var out Message
	if err := c.Unmarshal(raw, &out); err != nil {
		t.Fatal(err)
	}
	if out.Type != msg.Type || out.Status != msg.Status || out.MicLevel != msg.MicLevel {
		t.Fatalf("round trip mismatch: got %+v", out)
	}
}

func newPrefsStore(t *testing.T) *preferences.Store {
	t.Helper()
	dir := t.TempDir()
	store, err := preferences.NewStore(dir, filepath.Join(dir, "recordings"))
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func TestTracedAutoSaveUsesPreferenceOverCaller(t *testing.T) {
	store := newPrefsStore(t)
	s := &Server{Prefs: store, clients: make(map[transportClient]bool)}

	// Default preference is auto_save=true; caller claims false.
	if got := s.tracedAutoSave(false); got != true {
		t.Fatalf("expected traced value true to win over received false, got %v", got)
	}
}

func TestTracedAutoSaveNoPreferenceStoreUsesReceived(t *testing.T) {
	s := &Server{clients: make(map[transportClient]bool)}
	if got := s.tracedAutoSave(false); got != false {
		t.Fatalf("expected received value when no preference store is wired, got %v", got)
	}
}

func TestBroadcastDeliversToEveryClient(t *testing.T) {
	s := &Server{clients: make(map[transportClient]bool)}
	a := &fakeClient{}
	b := &fakeClient{}
	s.addClient(a)
	s.addClient(b)

	s.broadcast(Message{Type: "status", Status: "recording"})

	if len(a.sent) != 1 || len(b.sent) != 1 {
		t.Fatalf("expected both clients to receive the broadcast, got a=%d b=%d", len(a.sent), len(b.sent))
	}
}

func TestBroadcastRemovesFailingClient(t *testing.T) {
	s := &Server{clients: make(map[transportClient]bool)}
	bad := &fakeClient{err: os.ErrClosed}
	s.addClient(bad)

	s.broadcast(Message{Type: "status"})

	s.mu.Lock()
	_, stillPresent := s.clients[bad]
	s.mu.Unlock()
	if stillPresent {
		t.Fatal("expected a failing client to be removed from the broadcast set")
	}
	if !bad.closed {
		t.Fatal("expected the failing client to be closed")
	}
}

func TestPublishDeviceEventMessageShape(t *testing.T) {
	s := &Server{clients: make(map[transportClient]bool)}
	client := &fakeClient{}
	s.addClient(client)

	s.PublishDeviceEvent(recording.DeviceEvent{
		Type: recording.EventDisconnected,
		Name: "USB Mic",
		Kind: "wired",
	}, recording.SlotMic)

	if len(client.sent) != 1 {
		t.Fatalf("expected one delivered message, got %d", len(client.sent))
	}
	msg := client.sent[0]
	if msg.Type != "device-event" || msg.Status != "disconnected" || msg.DeviceName != "USB Mic" || msg.DeviceSlot != "mic" {
		t.Fatalf("unexpected message shape: %+v", msg)
	}
}

func TestProcessMessageUnknownTypeReturnsError(t *testing.T) {
	s := &Server{clients: make(map[transportClient]bool)}
	var got Message
	s.processMessage(func(m Message) error { got = m; return nil }, Message{Type: "not_a_real_type"})
	if got.Type != "error" {
		t.Fatalf("expected an error response for an unknown message type, got %+v", got)
	}
}

func TestProcessMessageDiagnoseReturnsReport(t *testing.T) {
	s := &Server{clients: make(map[transportClient]bool), SaveFolder: os.TempDir(), Prefs: newPrefsStore(t)}
	var got Message
	s.processMessage(func(m Message) error { got = m; return nil }, Message{Type: "diagnose"})
	if got.Type != "diagnostic_report" || got.Report == nil {
		t.Fatalf("expected a diagnostic_report response, got %+v", got)
	}
}

func TestRunDiarizationPersistsAndIdentifiesSegments(t *testing.T) {
	store, err := identify.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	diarizer := diarization.NewDiarizer(fakeEncoder{}, []byte("test-salt"))
	s := &Server{clients: make(map[transportClient]bool), Store: store, Diarizer: diarizer}

	speakerA := make([]float32, 4800) // 0.3s @ 16kHz, comfortably over the minimum segment length
	speakerB := make([]float32, 4800)
	for i := range speakerB {
		speakerB[i] = 0.9
	}

	s.beginSpeechSegmentCapture(segmentChannel([]mixer.SpeechSegment{
		{PCM: speakerA, SequenceID: 1},
		{PCM: speakerB, SequenceID: 2},
		{PCM: speakerA, SequenceID: 3},
	}))

	// Let the draining goroutine catch up before reading the buffer.
	for i := 0; i < 1000; i++ {
		s.segMu.Lock()
		n := len(s.segBuf)
		s.segMu.Unlock()
		if n >= 3 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	s.runDiarization(context.Background(), "meeting-1")

	rows, err := store.MappingsForMeeting("meeting-1")
	if err != nil {
		t.Fatal(err)
	}
	// No voice profiles enrolled and no LLM provider configured, so no
	// mappings are expected — this test only asserts the segments made
	// it into the store without the pipeline erroring out.
	if len(rows) != 0 {
		t.Fatalf("expected no mappings without a configured provider, got %+v", rows)
	}

	segs, err := store.SegmentsForMeeting("meeting-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != 3 {
		t.Fatalf("expected 3 persisted speaker segments, got %d", len(segs))
	}
}

func segmentChannel(segs []mixer.SpeechSegment) <-chan mixer.SpeechSegment {
	ch := make(chan mixer.SpeechSegment, len(segs))
	for _, s := range segs {
		ch <- s
	}
	close(ch)
	return ch
}
