// Package capture implements the Stream Manager (C3): it opens up to two
// device capture streams (mic, system) and emits raw AudioFrames tagged by
// source into a bounded ring buffer per source, dropping the oldest frame on
// overflow and incrementing an overflow counter.
package capture

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"durablemeet/audio"
	"durablemeet/devices"
)

// SourceTag identifies which physical source an AudioFrame came from.
type SourceTag int

const (
	SourceMic SourceTag = iota
	SourceSystem
)

func (t SourceTag) String() string {
	if t == SourceMic {
		return "mic"
	}
	return "system"
}

// AudioFrame is an immutable, owned buffer of raw captured samples.
type AudioFrame struct {
	Samples          []float32
	SampleRateHz     int
	Channels         int
	SourceTag        SourceTag
	CaptureMonotonic time.Time
}

// ringBuffer is a bounded FIFO of frames; pushing past capacity drops the
// oldest entry and increments Overflows.
type ringBuffer struct {
	mu        sync.Mutex
	frames    []AudioFrame
	capacity  int
	overflows uint64
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{capacity: capacity}
}

func (r *ringBuffer) push(f AudioFrame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) >= r.capacity {
		r.frames = r.frames[1:]
		atomic.AddUint64(&r.overflows, 1)
	}
	r.frames = append(r.frames, f)
}

func (r *ringBuffer) drain() []AudioFrame {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.frames
	r.frames = nil
	return out
}

func (r *ringBuffer) Overflows() uint64 {
	return atomic.LoadUint64(&r.overflows)
}

// OverflowCounter is implemented by the recording state (C6) so the Stream
// Manager can report ring-buffer drops without holding a back-reference to
// the whole state machine.
type OverflowCounter interface {
	AddOverflow(source SourceTag, n uint64)
}

const defaultRingCapacity = 512

// Manager owns the capture backend's device handles exclusively while
// streams are open, per the ownership rules in §3.
type Manager struct {
	backend *audio.Capture

	mu      sync.Mutex
	running bool
	stop    chan struct{}

	micRing *ringBuffer
	sysRing *ringBuffer

	sink     chan AudioFrame
	counters OverflowCounter
}

// NewManager wraps an existing capture backend.
func NewManager(backend *audio.Capture, counters OverflowCounter) *Manager {
	return &Manager{
		backend:  backend,
		micRing:  newRingBuffer(defaultRingCapacity),
		sysRing:  newRingBuffer(defaultRingCapacity),
		sink:     make(chan AudioFrame, defaultRingCapacity*2),
		counters: counters,
	}
}

// Start opens up to two capture streams and begins pushing AudioFrames with
// their source tag into the returned channel (init_sink in the spec's
// terms). Starting a device that is unavailable surfaces a recoverable
// error; the caller decides whether to proceed with the other slot only.
func (m *Manager) Start(mic, system *devices.Device) (<-chan AudioFrame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil, fmt.Errorf("stream manager already running")
	}

	if mic != nil {
		if err := m.backend.SetMicrophoneDevice(mic.ID); err != nil {
			return nil, fmt.Errorf("audio system error (recoverable): open mic %q: %w", mic.Name, err)
		}
	}
	if system != nil {
		m.backend.EnableSystemCapture(true)
		if err := m.backend.SetSystemDeviceByName(system.Name); err != nil {
			return nil, fmt.Errorf("audio system error (recoverable): open system device %q: %w", system.Name, err)
		}
	}

	if err := m.backend.Start(0); err != nil {
		return nil, fmt.Errorf("audio system error (recoverable): start capture: %w", err)
	}

	m.stop = make(chan struct{})
	m.running = true
	go m.pump()

	return m.sink, nil
}

// pump relays raw backend samples into per-source ring buffers and then the
// fan-out sink channel, tagging overflow as it happens.
func (m *Manager) pump() {
	data := m.backend.Data()
	for {
		select {
		case <-m.stop:
			return
		case cd, ok := <-data:
			if !ok {
				return
			}
			tag := SourceMic
			if cd.Channel == audio.ChannelSystem {
				tag = SourceSystem
			}
			frame := AudioFrame{
				Samples:          cd.Samples,
				SampleRateHz:     audio_SampleRate,
				Channels:         1,
				SourceTag:        tag,
				CaptureMonotonic: time.Now(),
			}

			ring := m.micRing
			if tag == SourceSystem {
				ring = m.sysRing
			}
			ring.push(frame)

			if m.counters != nil {
				if n := ring.Overflows(); n > 0 {
					m.counters.AddOverflow(tag, n)
				}
			}

			select {
			case m.sink <- frame:
			default:
				// sink itself is a second bounded buffer; drop silently,
				// the ring already recorded the overflow for this source.
			}
		}
	}
}

// audio_SampleRate is the native capture rate of the backend (teacher's
// malgo devices are configured at this rate in audio.Capture).
const audio_SampleRate = 48000

// Stop closes streams and releases device handles within a bounded
// deadline. It must not perform device enumeration during teardown.
func (m *Manager) Stop(deadline time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return nil
	}

	close(m.stop)
	done := make(chan error, 1)
	go func() { done <- m.backend.Stop() }()

	select {
	case err := <-done:
		m.running = false
		return err
	case <-time.After(deadline):
		m.running = false
		return fmt.Errorf("stream manager stop exceeded deadline %s", deadline)
	}
}

// ActiveCount reports how many of {mic, system} are currently open.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return 0
	}
	n := 0
	if m.micRing != nil {
		n++
	}
	if m.backend.IsSystemCaptureEnabled() {
		n++
	}
	return n
}
