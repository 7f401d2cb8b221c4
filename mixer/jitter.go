package mixer

import (
	"time"

	"durablemeet/capture"
	"durablemeet/devices"
)

// bufferDepth maps a device kind to its playout window, per §4.4's adaptive
// buffering table.
func bufferDepth(kind devices.Kind) time.Duration {
	switch kind {
	case devices.KindBluetooth:
		return 140 * time.Millisecond // midpoint of the 80-200ms band
	case devices.KindWired:
		return 35 * time.Millisecond // midpoint of the 20-50ms band
	default:
		return 50 * time.Millisecond
	}
}

// sourceBuffer is a sliding playout window for one capture source. It is
// not a ring buffer like capture.Manager's overflow-tracked ingress queue;
// it is the mixer's own jitter-absorbing accumulator, read head advancing
// one block at a time.
type sourceBuffer struct {
	kind      devices.Kind
	depth     time.Duration
	samples   []float32
	blockSize int

	underruns uint64
}

func newSourceBuffer(kind devices.Kind, sampleRate, blockSamples int) *sourceBuffer {
	return &sourceBuffer{
		kind:      kind,
		depth:     bufferDepth(kind),
		blockSize: blockSamples,
	}
}

// push appends newly captured (and already resampled-to-target) samples.
func (b *sourceBuffer) push(samples []float32) {
	b.samples = append(b.samples, samples...)
}

// maxDepthSamples bounds how far the window is allowed to grow before the
// oldest audio is considered stale and dropped — keeps a disconnected
// source from accumulating unbounded memory.
func (b *sourceBuffer) maxDepthSamples(sampleRate int) int {
	return int(b.depth.Seconds()*float64(sampleRate)) * 4
}

// readBlock returns the next block-sized slice, or nil plus an underrun if
// fewer than blockSize samples are available. A single call advances the
// read head by exactly one block; it never blocks.
func (b *sourceBuffer) readBlock(sampleRate int) []float32 {
	if len(b.samples) < b.blockSize {
		b.underruns++
		return nil
	}
	block := b.samples[:b.blockSize]
	b.samples = b.samples[b.blockSize:]

	if max := b.maxDepthSamples(sampleRate); len(b.samples) > max {
		b.samples = b.samples[len(b.samples)-max:]
	}
	return block
}

func kindOf(tag capture.SourceTag, mic, system *devices.Device) devices.Kind {
	if tag == capture.SourceMic {
		if mic != nil {
			return mic.Kind
		}
		return devices.KindUnknown
	}
	if system != nil {
		return system.Kind
	}
	return devices.KindUnknown
}
