// Package diarization implements the Diarization Core (C11): a
// segmenter/embedder/clusterer pipeline that turns a stretch of mixed
// audio plus its transcript segment boundaries into speaker-labeled
// segments. The clusterer (cluster.go) is grounded on the teacher's
// union-find cosine-distance clustering in ai/diarization.go; the
// embedder (encoder.go) adapts the teacher's onnxruntime-backed speaker
// encoder and log-mel frontend out of the ASR engine this package
// otherwise has no dependency on.
package diarization

import "fmt"

// ProcessingMode selects batch or fixed-chunk real-time diarization.
type ProcessingMode int

const (
	Batch ProcessingMode = iota
	RealTime
)

// SegmentBound is a time-bounded region of audio to assign a speaker
// label to, typically one transcript segment.
type SegmentBound struct {
	StartS float64
	EndS   float64
}

// SpeakerSegment is the labeled output unit. EmbeddingHash is a salted
// SHA-256 digest; the raw embedding is never retained past clustering.
type SpeakerSegment struct {
	SpeakerLabel  string
	StartS        float64
	EndS          float64
	Confidence    float64
	EmbeddingHash string
}

// Embedder extracts a fixed-dimension speaker embedding from 16kHz mono
// PCM. *Encoder satisfies this directly.
type Embedder interface {
	Encode(samples []float32) ([]float32, error)
}

const (
	sampleRateHz    = 16000
	minSegmentSecs  = 0.1
	defaultThreshold = 0.65
)

// Diarizer clusters embeddings across a set of segment bounds into
// stable, first-appearance-ordered speaker labels.
type Diarizer struct {
	encoder   Embedder
	threshold float64
	salt      []byte
}

// NewDiarizer builds a Diarizer around an embedder. salt is mixed into
// every embedding hash so stored hashes aren't dictionary-attackable
// across installations; pass the same salt to get stable hashes for the
// same underlying embedding.
func NewDiarizer(encoder Embedder, salt []byte) *Diarizer {
	return &Diarizer{encoder: encoder, threshold: defaultThreshold, salt: salt}
}

// WithThreshold overrides the default cosine-distance clustering
// threshold (0.65).
func (d *Diarizer) WithThreshold(threshold float64) *Diarizer {
	d.threshold = threshold
	return d
}

// Diarize assigns a speaker label to each bound. samples is the full
// 16kHz mono audio the bounds index into. Bounds that are too short to
// embed reliably, or that fail encoding, are always dropped and left out
// of the result, mirroring the teacher's behavior of skipping what it
// can't embed rather than guessing. When fewer than two bounds remain,
// they are all labeled "Speaker 0" without clustering.
func (d *Diarizer) Diarize(bounds []SegmentBound, samples []float32) ([]SpeakerSegment, error) {
	type candidate struct {
		bound     SegmentBound
		embedding []float32
	}

	var valid []candidate
	for _, b := range bounds {
		if b.EndS-b.StartS < minSegmentSecs {
			continue
		}
		startIdx := int(b.StartS * sampleRateHz)
		endIdx := int(b.EndS * sampleRateHz)
		if startIdx < 0 {
			startIdx = 0
		}
		if endIdx > len(samples) {
			endIdx = len(samples)
		}
		if endIdx <= startIdx {
			continue
		}
		embedding, err := d.encoder.Encode(samples[startIdx:endIdx])
		if err != nil {
			continue
		}
		valid = append(valid, candidate{bound: b, embedding: embedding})
	}

	if len(valid) < 2 {
		out := make([]SpeakerSegment, 0, len(valid))
		for _, c := range valid {
			out = append(out, SpeakerSegment{
				SpeakerLabel:  "Speaker 0",
				StartS:        c.bound.StartS,
				EndS:          c.bound.EndS,
				Confidence:    1.0,
				EmbeddingHash: hashEmbedding(c.embedding, d.salt),
			})
		}
		return out, nil
	}

	embeddings := make([][]float32, len(valid))
	for i, c := range valid {
		embeddings[i] = c.embedding
	}
	labels := clusterEmbeddings(embeddings, d.threshold)

	out := make([]SpeakerSegment, len(valid))
	for i, c := range valid {
		out[i] = SpeakerSegment{
			SpeakerLabel:  fmt.Sprintf("Speaker %d", labels[i]),
			StartS:        c.bound.StartS,
			EndS:          c.bound.EndS,
			Confidence:    clusterConfidence(embeddings, labels, i, d.threshold),
			EmbeddingHash: hashEmbedding(c.embedding, d.salt),
		}
	}
	return out, nil
}
