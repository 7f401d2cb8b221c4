// Package recording implements the Recording State machine (C6), the
// Device Monitor (C7), and the Recording Manager orchestrator (C8).
package recording

import (
	"sync"
	"time"

	"durablemeet/capture"
	"durablemeet/devices"
)

// Status is one state of the recording lifecycle (§4.6).
type Status string

const (
	StatusIdle         Status = "idle"
	StatusRecording    Status = "recording"
	StatusPaused       Status = "paused"
	StatusReconnecting Status = "reconnecting"
	StatusStopping     Status = "stopping"
	StatusFailed       Status = "failed"
)

// AudioError is a recoverable or fatal error observed by the state machine,
// surfaced to a user-supplied callback.
type AudioError struct {
	Message     string
	Recoverable bool
}

func (e *AudioError) Error() string { return e.Message }

// State is the shared mutable recording state: lifecycle, timing, device
// refs, error counters. It is the only shared mutable object per §5; all
// mutation goes through its methods, which guard with a single mutex (fine-
// grained enough for this object's size — the teacher's session.Session
// uses the same single-RWMutex-per-struct shape).
type State struct {
	mu sync.RWMutex

	status Status

	startedAt        time.Time
	pausedAt         time.Time
	totalPauseDur    time.Duration

	reconnectingKind devices.Kind

	micRef, systemRef string

	errorCount int
	lastError  *AudioError
	fatal      bool

	overflowMic, overflowSystem uint64

	onError func(*AudioError)
}

// NewState returns a fresh Idle state.
func NewState() *State {
	return &State{status: StatusIdle}
}

// OnError registers a callback invoked whenever RecordError is called.
func (s *State) OnError(cb func(*AudioError)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = cb
}

// Status returns the current lifecycle state.
func (s *State) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// IsActive reports whether the session is actively recording (not paused,
// not reconnecting, not stopped).
func (s *State) IsActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status == StatusRecording
}

// Start transitions Idle -> Recording. Refuses if the state is Failed
// (fatal forbids further start until Cleanup), matching §4.6's invariant.
func (s *State) Start(mic, system string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fatal {
		return &AudioError{Message: "cannot start: prior fatal error requires cleanup first", Recoverable: false}
	}
	s.status = StatusRecording
	s.startedAt = time.Now()
	s.totalPauseDur = 0
	s.micRef = mic
	s.systemRef = system
	return nil
}

// Pause transitions Recording -> Paused.
func (s *State) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusRecording {
		return
	}
	s.status = StatusPaused
	s.pausedAt = time.Now()
}

// Resume transitions Paused -> Recording, accumulating the pause interval
// into the monotonically non-decreasing total_pause_duration.
func (s *State) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusPaused {
		return
	}
	s.totalPauseDur += time.Since(s.pausedAt)
	s.status = StatusRecording
}

// Disconnect transitions Recording -> Reconnecting(kind).
func (s *State) Disconnect(kind devices.Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusRecording {
		return
	}
	s.status = StatusReconnecting
	s.reconnectingKind = kind
}

// Reconnect transitions Reconnecting -> Recording.
func (s *State) Reconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusReconnecting {
		return
	}
	s.status = StatusRecording
}

// Stop transitions any active state -> Stopping.
func (s *State) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusIdle || s.status == StatusFailed {
		return
	}
	s.status = StatusStopping
}

// Cleanup transitions Stopping (or Failed) -> Idle, clearing the fatal flag.
func (s *State) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusIdle
	s.fatal = false
	s.micRef = ""
	s.systemRef = ""
}

// RecordError records an observed error and invokes the callback. A fatal
// error forces Failed (terminal until Cleanup) from any state.
func (s *State) RecordError(err *AudioError) {
	s.mu.Lock()
	s.errorCount++
	s.lastError = err
	cb := s.onError
	if !err.Recoverable {
		s.fatal = true
		s.status = StatusFailed
	}
	s.mu.Unlock()

	if cb != nil {
		cb(err)
	}
}

// AddOverflow implements capture.OverflowCounter.
func (s *State) AddOverflow(source capture.SourceTag, n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if source == capture.SourceMic {
		s.overflowMic += n
	} else {
		s.overflowSystem += n
	}
}

// ActiveRecordingDuration returns now - started_at - total_pause_duration,
// per §8.7's duration-accounting property.
func (s *State) ActiveRecordingDuration() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.startedAt.IsZero() {
		return 0
	}
	elapsed := time.Since(s.startedAt)
	pause := s.totalPauseDur
	if s.status == StatusPaused {
		pause += time.Since(s.pausedAt)
	}
	return elapsed - pause
}

// TotalPauseDuration returns the monotonically non-decreasing cumulative
// pause time.
func (s *State) TotalPauseDuration() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalPauseDur
}

// ErrorCount and LastError expose the observable error state.
func (s *State) ErrorCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.errorCount
}

func (s *State) LastError() *AudioError {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

// Overflows reports the per-source ring-buffer overflow counters.
func (s *State) Overflows() (mic, system uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.overflowMic, s.overflowSystem
}
