package recorder

import (
	"context"
	"path/filepath"
	"testing"
)

func TestCheckpointNaming(t *testing.T) {
	if got := checkpointName(1); got != "000001.mp4" {
		t.Fatalf("checkpointName(1) = %q, want 000001.mp4", got)
	}
	if got := checkpointName(42); got != "000042.mp4" {
		t.Fatalf("checkpointName(42) = %q, want 000042.mp4", got)
	}
}

func TestConcatRejectsGap(t *testing.T) {
	dir := t.TempDir()
	s := NewSaver(dir, 48000)
	s.checkpointsDir = filepath.Join(dir, ".checkpoints")
	s.indices = []int{1, 2, 4}

	err := s.concatUnsafe(context.Background(), filepath.Join(dir, "audio.mp4"))
	if err == nil {
		t.Fatal("expected gap detection error, got nil")
	}
}

func TestConcatRejectsEmpty(t *testing.T) {
	dir := t.TempDir()
	s := NewSaver(dir, 48000)
	err := s.concatUnsafe(context.Background(), filepath.Join(dir, "audio.mp4"))
	if err == nil {
		t.Fatal("expected error for empty checkpoint set")
	}
}

func TestTranscriptUpsertReplacesBySequenceID(t *testing.T) {
	dir := t.TempDir()
	ts := newTranscriptStore(filepath.Join(dir, "transcripts.json"))

	if err := ts.Upsert(TranscriptSegment{ID: "a", Text: "first", SequenceID: 1}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := ts.Upsert(TranscriptSegment{ID: "b", Text: "corrected", SequenceID: 1}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	all := ts.All()
	if len(all) != 1 {
		t.Fatalf("expected 1 segment after upsert, got %d", len(all))
	}
	if all[0].Text != "corrected" {
		t.Fatalf("expected latest write to survive, got %q", all[0].Text)
	}
}

func TestTranscriptOrderingStableBySequenceID(t *testing.T) {
	dir := t.TempDir()
	ts := newTranscriptStore(filepath.Join(dir, "transcripts.json"))

	ts.Upsert(TranscriptSegment{SequenceID: 3})
	ts.Upsert(TranscriptSegment{SequenceID: 1})
	ts.Upsert(TranscriptSegment{SequenceID: 2})

	all := ts.All()
	for i := 1; i < len(all); i++ {
		if all[i-1].SequenceID > all[i].SequenceID {
			t.Fatalf("segments not ordered by sequence_id: %+v", all)
		}
	}
}
