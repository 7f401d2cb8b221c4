// Package mixer implements the Mixing Pipeline (C4): adaptive per-source
// jitter buffering, band-limited resampling to 48kHz mono, sample-accurate
// clamped mixing, and VAD-gated speech segmentation for the ASR fan-out.
package mixer

import (
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"durablemeet/capture"
	"durablemeet/devices"
)

const (
	// TargetSampleRate is the mixed stream's fixed rate (§4.4).
	TargetSampleRate = 48000
	// ASRSampleRate is the rate speech segments are resampled to for ASR.
	ASRSampleRate = 16000
	// blockMs is the fixed output block duration.
	blockMs = 10
)

// MixedFrame is one fixed-size block of the mixed 48kHz mono stream.
type MixedFrame struct {
	Samples     []float32
	StartOffset time.Duration
	Duration    time.Duration
}

// SpeechSegment is a VAD-gated span of mixed audio, resampled for ASR.
type SpeechSegment struct {
	PCM        []float32 // mono @ 16kHz
	StartS     float64
	EndS       float64
	SequenceID uint64
}

// vadConfig mirrors session.VADConfig's silence/hangover shape.
type vadConfig struct {
	EnergyThreshold float64
	HangoverWindow  time.Duration
}

func defaultVADConfig() vadConfig {
	return vadConfig{
		EnergyThreshold: 0.008,
		HangoverWindow:  500 * time.Millisecond,
	}
}

// Pipeline consumes raw capture.AudioFrame and produces MixedFrames (fanned
// to the Recording Saver) and SpeechSegments (fanned to ASR).
type Pipeline struct {
	mic    *sourceBuffer
	system *sourceBuffer
	micResampler, sysResampler *Resampler

	blockSamples int
	vad          vadConfig

	playoutClock time.Duration
	paused       bool
	mu           sync.Mutex

	mixedOut  chan MixedFrame
	speechOut chan SpeechSegment

	speechOpen     bool
	speechStart    time.Duration
	speechSamples  []float32
	lastVoicedAt   time.Duration
	sequenceID     uint64

	underrunsMic, underrunsSys uint64

	stop chan struct{}
	done chan struct{}
}

// NewPipeline builds a mixing pipeline for the given mic/system device
// kinds (drives adaptive buffer depth) and native sample rates.
func NewPipeline(mic, system *devices.Device, micRateHz, sysRateHz int) *Pipeline {
	blockSamples := TargetSampleRate * blockMs / 1000

	micKind := devices.KindUnknown
	if mic != nil {
		micKind = mic.Kind
	}
	sysKind := devices.KindUnknown
	if system != nil {
		sysKind = system.Kind
	}

	p := &Pipeline{
		mic:           newSourceBuffer(micKind, TargetSampleRate, blockSamples),
		system:        newSourceBuffer(sysKind, TargetSampleRate, blockSamples),
		micResampler:  NewResampler(micRateHz, TargetSampleRate),
		sysResampler:  NewResampler(sysRateHz, TargetSampleRate),
		blockSamples:  blockSamples,
		vad:           defaultVADConfig(),
		mixedOut:      make(chan MixedFrame, 256),
		speechOut:     make(chan SpeechSegment, 64),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	return p
}

// MixedFrames returns the mixed-audio fan-out channel.
func (p *Pipeline) MixedFrames() <-chan MixedFrame { return p.mixedOut }

// SpeechSegments returns the VAD-gated fan-out channel.
func (p *Pipeline) SpeechSegments() <-chan SpeechSegment { return p.speechOut }

// SetPaused excludes/includes elapsed time from the playout clock, so
// mixed-frame start offsets reflect active recording duration only.
func (p *Pipeline) SetPaused(paused bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = paused
}

// Run drains frames from the capture fan-in channel, block by block, until
// in is closed or Stop is called. It is meant to run on its own goroutine.
func (p *Pipeline) Run(in <-chan capture.AudioFrame) {
	defer close(p.done)
	ticker := time.NewTicker(blockMs * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case frame, ok := <-in:
			if !ok {
				return
			}
			p.ingest(frame)
		case <-ticker.C:
			p.mu.Lock()
			paused := p.paused
			p.mu.Unlock()
			if !paused {
				p.emitBlock()
			}
		}
	}
}

func (p *Pipeline) ingest(frame capture.AudioFrame) {
	resampled := frame.Samples
	if frame.Channels > 1 {
		resampled = DownmixToMono(resampled, frame.Channels)
	}

	switch frame.SourceTag {
	case capture.SourceMic:
		if frame.SampleRateHz != TargetSampleRate {
			resampled = p.micResampler.Process(resampled)
		}
		p.mic.push(resampled)
	case capture.SourceSystem:
		if frame.SampleRateHz != TargetSampleRate {
			resampled = p.sysResampler.Process(resampled)
		}
		p.system.push(resampled)
	}
}

// emitBlock reads the minimum available head across sources, substitutes
// silence for an underrun side, mixes, and runs VAD on the result.
func (p *Pipeline) emitBlock() {
	micBlock := p.mic.readBlock(TargetSampleRate)
	sysBlock := p.system.readBlock(TargetSampleRate)

	if micBlock == nil {
		atomic.AddUint64(&p.underrunsMic, 1)
		micBlock = make([]float32, p.blockSamples)
	}
	if sysBlock == nil {
		atomic.AddUint64(&p.underrunsSys, 1)
		sysBlock = make([]float32, p.blockSamples)
	}

	mixed := make([]float32, p.blockSamples)
	for i := range mixed {
		mixed[i] = clamp(micBlock[i]+sysBlock[i], -1, 1)
	}

	start := p.playoutClock
	dur := time.Duration(blockMs) * time.Millisecond
	p.playoutClock += dur

	p.mixedOut <- MixedFrame{Samples: mixed, StartOffset: start, Duration: dur}
	p.runVAD(mixed, start, dur)
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// runVAD implements the rising/falling edge detector with a hangover
// window, mirroring session.ChunkBuffer's silence-gap logic but expressed
// as an edge detector over fixed blocks instead of a post-hoc scan.
func (p *Pipeline) runVAD(block []float32, start, dur time.Duration) {
	energy := rmsEnergy(block)
	voiced := energy >= p.vad.EnergyThreshold

	if voiced {
		if !p.speechOpen {
			p.speechOpen = true
			p.speechStart = start
			p.speechSamples = nil
		}
		p.lastVoicedAt = start + dur
		p.speechSamples = append(p.speechSamples, block...)
		return
	}

	if !p.speechOpen {
		return
	}

	// Still within the hangover window: keep accumulating as a trailing
	// pause might be a mid-utterance breath, not the end of speech.
	if start-p.lastVoicedAt < p.vad.HangoverWindow {
		p.speechSamples = append(p.speechSamples, block...)
		return
	}

	p.closeSegment(p.lastVoicedAt)
}

func (p *Pipeline) closeSegment(end time.Duration) {
	if !p.speechOpen || len(p.speechSamples) == 0 {
		p.speechOpen = false
		p.speechSamples = nil
		return
	}

	seq := atomic.AddUint64(&p.sequenceID, 1)
	asrResampler := NewResampler(TargetSampleRate, ASRSampleRate)
	pcm := asrResampler.Process(p.speechSamples)

	seg := SpeechSegment{
		PCM:        pcm,
		StartS:     p.speechStart.Seconds(),
		EndS:       end.Seconds(),
		SequenceID: seq,
	}

	select {
	case p.speechOut <- seg:
	default:
		log.Printf("[Mixer] speech segment channel full, dropping sequence_id=%d", seq)
	}

	p.speechOpen = false
	p.speechSamples = nil
}

func rmsEnergy(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// ForceFlushAndStop stops the pipeline's goroutine, closes one final
// segment if speech is pending, and closes both output channels. Samples
// still held in the per-source buffers are discarded; no final mixed
// block is emitted for them.
func (p *Pipeline) ForceFlushAndStop() {
	close(p.stop)
	<-p.done

	if p.speechOpen && len(p.speechSamples) > 0 {
		p.closeSegment(p.playoutClock)
	}
	close(p.mixedOut)
	close(p.speechOut)
}

// Underruns reports per-source substitution counts for diagnostics.
func (p *Pipeline) Underruns() (mic, system uint64) {
	return atomic.LoadUint64(&p.underrunsMic), atomic.LoadUint64(&p.underrunsSys)
}
