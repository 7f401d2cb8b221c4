package mixer

import (
	"testing"
	"time"

	"durablemeet/capture"
)

func TestClampMixing(t *testing.T) {
	cases := []struct {
		mic, sys, want float32
	}{
		{0.5, 0.5, 1.0},
		{0.9, 0.9, 1.0},
		{-0.9, -0.9, -1.0},
		{0.2, 0.1, 0.3},
	}
	for _, c := range cases {
		got := clamp(c.mic+c.sys, -1, 1)
		if got != c.want {
			t.Errorf("clamp(%v+%v) = %v, want %v", c.mic, c.sys, got, c.want)
		}
	}
}

func TestPipelineProducesMixedFramesAtTargetRate(t *testing.T) {
	p := NewPipeline(nil, nil, TargetSampleRate, TargetSampleRate)
	in := make(chan capture.AudioFrame, 4)

	go p.Run(in)

	block := make([]float32, p.blockSamples)
	for i := range block {
		block[i] = 0.1
	}
	in <- capture.AudioFrame{Samples: block, SampleRateHz: TargetSampleRate, Channels: 1, SourceTag: capture.SourceMic}

	time.Sleep(50 * time.Millisecond)
	p.ForceFlushAndStop()

	count := 0
	for range p.mixedOut {
		count++
	}
	if count == 0 {
		t.Fatal("expected at least one mixed frame")
	}
}

func TestVADOpensAndClosesSegment(t *testing.T) {
	p := NewPipeline(nil, nil, TargetSampleRate, TargetSampleRate)

	loud := make([]float32, p.blockSamples)
	for i := range loud {
		loud[i] = 0.5
	}
	quiet := make([]float32, p.blockSamples)

	var start time.Duration
	dur := time.Duration(blockMs) * time.Millisecond

	p.runVAD(loud, start, dur)
	if !p.speechOpen {
		t.Fatal("expected speech segment to open on loud block")
	}

	start += dur
	// advance past the hangover window with silence
	for elapsed := time.Duration(0); elapsed < p.vad.HangoverWindow+dur; elapsed += dur {
		p.runVAD(quiet, start, dur)
		start += dur
	}

	if p.speechOpen {
		t.Fatal("expected speech segment to close after hangover window")
	}
}
