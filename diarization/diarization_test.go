package diarization

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeEncoder struct {
	vectors map[string][]float32
	calls   int
}

func (f *fakeEncoder) Encode(samples []float32) ([]float32, error) {
	f.calls++
	// Deterministic fake: first sample value selects a fixed vector, so
	// tests can control clustering without real audio features.
	key := "a"
	if len(samples) > 0 && samples[0] > 0.5 {
		key = "b"
	}
	return f.vectors[key], nil
}

func newFakeEncoder() *fakeEncoder {
	return &fakeEncoder{vectors: map[string][]float32{
		"a": {1, 0, 0},
		"b": {0, 1, 0},
	}}
}

func TestDiarizeTooFewSegmentsDefaultsToSpeakerZero(t *testing.T) {
	d := NewDiarizer(newFakeEncoder(), []byte("salt"))
	samples := make([]float32, sampleRateHz)
	segs, err := d.Diarize([]SegmentBound{{StartS: 0, EndS: 1}}, samples)
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != 1 || segs[0].SpeakerLabel != "Speaker 0" {
		t.Fatalf("got %+v", segs)
	}
}

func TestDiarizeClustersDistinctSpeakersSeparately(t *testing.T) {
	d := NewDiarizer(newFakeEncoder(), []byte("salt"))
	samples := make([]float32, 4*sampleRateHz)
	for i := 2 * sampleRateHz; i < len(samples); i++ {
		samples[i] = 1.0
	}
	bounds := []SegmentBound{
		{StartS: 0, EndS: 1},
		{StartS: 1, EndS: 2},
		{StartS: 2, EndS: 3},
		{StartS: 3, EndS: 4},
	}
	segs, err := d.Diarize(bounds, samples)
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != 4 {
		t.Fatalf("expected 4 segments, got %d", len(segs))
	}
	if segs[0].SpeakerLabel != segs[1].SpeakerLabel {
		t.Fatal("expected the first two segments to share a speaker label")
	}
	if segs[2].SpeakerLabel != segs[3].SpeakerLabel {
		t.Fatal("expected the last two segments to share a speaker label")
	}
	if segs[0].SpeakerLabel == segs[2].SpeakerLabel {
		t.Fatal("expected distinct embeddings to produce distinct speaker labels")
	}
}

func TestDiarizeSkipsTooShortBoundsAndHashesEmbeddings(t *testing.T) {
	d := NewDiarizer(newFakeEncoder(), []byte("salt"))
	samples := make([]float32, 3*sampleRateHz)
	bounds := []SegmentBound{
		{StartS: 0, EndS: 0.01}, // too short, dropped
		{StartS: 0, EndS: 1},
		{StartS: 1, EndS: 2},
	}
	segs, err := d.Diarize(bounds, samples)
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != 2 {
		t.Fatalf("expected the too-short bound to be dropped, got %d segments", len(segs))
	}
	for _, s := range segs {
		if s.EmbeddingHash == "" || len(s.EmbeddingHash) != 64 {
			t.Fatalf("expected a 64-char hex sha256 hash, got %q", s.EmbeddingHash)
		}
	}
}

func TestHashEmbeddingIsSaltSensitive(t *testing.T) {
	v := []float32{0.1, 0.2, 0.3}
	h1 := hashEmbedding(v, []byte("salt-a"))
	h2 := hashEmbedding(v, []byte("salt-b"))
	if h1 == h2 {
		t.Fatal("expected different salts to produce different hashes")
	}
	if hashEmbedding(v, []byte("salt-a")) != h1 {
		t.Fatal("expected hashing to be deterministic for the same salt and embedding")
	}
}

func TestClusterEmbeddingsFirstAppearanceOrder(t *testing.T) {
	embeddings := [][]float32{
		{0, 1, 0},
		{1, 0, 0},
		{0, 1, 0},
		{1, 0, 0},
	}
	labels := clusterEmbeddings(embeddings, 0.65)
	if labels[0] != 0 {
		t.Fatalf("expected first appearance to be labeled 0, got %d", labels[0])
	}
	if labels[0] != labels[2] {
		t.Fatal("expected identical embeddings to share a cluster")
	}
	if labels[1] != labels[3] {
		t.Fatal("expected identical embeddings to share a cluster")
	}
	if labels[0] == labels[1] {
		t.Fatal("expected orthogonal embeddings to land in different clusters")
	}
}

func TestModelRouterLocalOnlyNeverProbes(t *testing.T) {
	probed := false
	r := NewModelRouter(LocalOnly, func(ctx context.Context) error {
		probed = true
		return nil
	}, time.Minute)
	useExternal, err := r.Choose(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if useExternal {
		t.Fatal("LocalOnly must never choose external")
	}
	if probed {
		t.Fatal("LocalOnly must never call the connectivity check")
	}
}

func TestModelRouterPreferExternalFallsBackOnFailure(t *testing.T) {
	r := NewModelRouter(PreferExternal, func(ctx context.Context) error {
		return errors.New("unreachable")
	}, time.Minute)
	useExternal, err := r.Choose(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if useExternal {
		t.Fatal("expected fallback to local when connectivity check fails")
	}
}

func TestModelRouterExternalOnlyPropagatesError(t *testing.T) {
	wantErr := errors.New("unreachable")
	r := NewModelRouter(ExternalOnly, func(ctx context.Context) error {
		return wantErr
	}, time.Minute)
	if _, err := r.Choose(context.Background()); err == nil {
		t.Fatal("expected ExternalOnly to surface the connectivity error")
	}
}

func TestModelRouterCachesChoiceWithinTTL(t *testing.T) {
	calls := 0
	r := NewModelRouter(PreferExternal, func(ctx context.Context) error {
		calls++
		return nil
	}, time.Hour)
	for i := 0; i < 3; i++ {
		if _, err := r.Choose(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected the connectivity check to run once within the TTL, ran %d times", calls)
	}
}
