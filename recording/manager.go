package recording

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"durablemeet/capture"
	"durablemeet/devices"
	"durablemeet/mixer"
	"durablemeet/recorder"
)

// Manager orchestrates C2-C7 into the session lifecycle: start, pause,
// resume, stop, propagating auto_save end to end. Grounded on the teacher's
// internal/service.RecordingService.StartSession/StopSession.
type Manager struct {
	registry *devices.Registry
	streams  *capture.Manager
	state    *State

	pipeline *mixer.Pipeline
	saver    *recorder.Saver

	monitorCancel context.CancelFunc

	recordingsRoot string
	deviceEvents   chan DeviceEvent
}

// NewManager wires a registry and stream manager into an idle orchestrator.
func NewManager(registry *devices.Registry, streams *capture.Manager, recordingsRoot string) *Manager {
	return NewManagerWithState(registry, streams, recordingsRoot, NewState())
}

// NewManagerWithState is like NewManager but takes an existing State, for
// callers that must construct the capture.Manager's OverflowCounter (the
// State) before the stream manager exists.
func NewManagerWithState(registry *devices.Registry, streams *capture.Manager, recordingsRoot string, state *State) *Manager {
	return &Manager{
		registry:       registry,
		streams:        streams,
		state:          state,
		recordingsRoot: recordingsRoot,
		deviceEvents:   make(chan DeviceEvent, 16),
	}
}

// DeviceEvents fans in both slot monitors' disconnect/reconnect events into
// a single channel, for the control surface to relay to clients.
func (m *Manager) DeviceEvents() <-chan DeviceEvent {
	return m.deviceEvents
}

func (m *Manager) relayMonitorEvents(mon *Monitor) {
	for evt := range mon.Events() {
		select {
		case m.deviceEvents <- evt:
		default:
		}
	}
}

// State exposes the shared recording state for diagnostics/control surfaces.
func (m *Manager) State() *State { return m.state }

// StartWithDefaults uses devices.Registry.SafeDefaults() for device
// selection.
func (m *Manager) StartWithDefaults(autoSave bool) (<-chan mixer.SpeechSegment, error) {
	mic, system, err := m.registry.SafeDefaults()
	if err != nil {
		return nil, fmt.Errorf("safe defaults: %w", err)
	}
	var micName, sysName string
	if mic != nil {
		micName = mic.Name
	}
	if system != nil {
		sysName = system.Name
	}
	return m.Start(micName, sysName, autoSave)
}

// Start validates devices, starts the saver's accumulation sink, the mixing
// pipeline, the stream manager, and the device monitor, in that order
// (§4.8). auto_save as received here must match the value the caller traced
// from preferences; callers are expected to resolve that before calling
// Start (the manager's job is to act on the value it's given).
func (m *Manager) Start(micName, systemName string, autoSave bool) (<-chan mixer.SpeechSegment, error) {
	all, err := m.registry.List()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}

	var mic, system *devices.Device
	for i := range all {
		if all[i].Name == micName && all[i].IsInput {
			mic = &all[i]
		}
		if all[i].Name == systemName {
			system = &all[i]
		}
	}
	if micName != "" && mic == nil {
		return nil, fmt.Errorf("audio system error (recoverable): mic device %q not found", micName)
	}

	meetingID := time.Now().UTC().Format("20060102T150405Z")
	meetingRoot := filepath.Join(m.recordingsRoot, meetingID)
	m.saver = recorder.NewSaver(meetingRoot, mixer.TargetSampleRate)
	if err := m.saver.StartAccumulation(autoSave, meetingID, ""); err != nil {
		return nil, fmt.Errorf("start accumulation: %w", err)
	}
	m.saver.SetDeviceInfo(micName, systemName)

	m.pipeline = mixer.NewPipeline(mic, system, capture_SampleRate, capture_SampleRate)
	frames, err := m.streams.Start(mic, system)
	if err != nil {
		return nil, err
	}

	go m.pipeline.Run(frames)
	go m.relayMixedFrames()

	if err := m.state.Start(micName, systemName); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.monitorCancel = cancel
	if mic != nil {
		micMonitor := NewMonitor(SlotMic, micName, mic.Kind, m.registry, m.streams, m.state)
		go m.relayMonitorEvents(micMonitor)
		go micMonitor.Run(ctx, func() bool { return deviceGone(m.registry, micName) })
	}
	if system != nil {
		sysMonitor := NewMonitor(SlotSystem, systemName, system.Kind, m.registry, m.streams, m.state)
		go m.relayMonitorEvents(sysMonitor)
		go sysMonitor.Run(ctx, func() bool { return deviceGone(m.registry, systemName) })
	}

	return m.pipeline.SpeechSegments(), nil
}

const capture_SampleRate = 48000

func (m *Manager) relayMixedFrames() {
	for frame := range m.pipeline.MixedFrames() {
		m.saver.AcceptMixedFrame(frame)
	}
}

// AddTranscriptSegment forwards an ASR result to the saver.
func (m *Manager) AddTranscriptSegment(seg recorder.TranscriptSegment) error {
	return m.saver.AddTranscriptSegment(seg)
}

// Pause/Resume pass through to C6 and the pipeline's playout clock.
func (m *Manager) Pause() {
	m.state.Pause()
	if m.pipeline != nil {
		m.pipeline.SetPaused(true)
	}
}

func (m *Manager) Resume() {
	m.state.Resume()
	if m.pipeline != nil {
		m.pipeline.SetPaused(false)
	}
}

// StopStreamsAndForceFlush stops the monitor first (avoid long device
// polling during teardown), marks state stopped, stops the stream manager,
// force-flushes the mixing pipeline, then cleans up state — the exact order
// specified in §4.8.
func (m *Manager) StopStreamsAndForceFlush() error {
	if m.monitorCancel != nil {
		m.monitorCancel()
	}
	m.state.Stop()

	if err := m.streams.Stop(5 * time.Second); err != nil {
		log.Printf("[Recording] stream manager stop error: %v", err)
	}
	if m.pipeline != nil {
		m.pipeline.ForceFlushAndStop()
	}
	m.state.Cleanup()
	return nil
}

// SaveRecordingOnly finalizes the saver using the active recording duration.
func (m *Manager) SaveRecordingOnly(ctx context.Context) (string, error) {
	dur := m.state.ActiveRecordingDuration().Seconds()
	return m.saver.Finalize(ctx, &dur)
}

// StopRecording stops streams, flushes, and finalizes in one call (the
// teacher's legacy single-call shape, kept for the GUI's "stop" action).
func (m *Manager) StopRecording(ctx context.Context) (string, error) {
	if err := m.StopStreamsAndForceFlush(); err != nil {
		return "", err
	}
	return m.SaveRecordingOnly(ctx)
}

// Events exposes the saver's publication/degradation events, once a session
// has started.
func (m *Manager) Events() <-chan recorder.Event {
	if m.saver == nil {
		return nil
	}
	return m.saver.Events()
}
