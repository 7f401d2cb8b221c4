package recovery

import "testing"

func TestChunkWriteDegradesGracefully(t *testing.T) {
	c := NewCoordinator()
	strategy := c.Resolve(KindCheckpointChunkWrite)
	if strategy.GracefulDegradation == nil {
		t.Fatal("expected GracefulDegradation strategy for checkpoint chunk write failure")
	}
	if !strategy.GracefulDegradation.PreserveTranscripts {
		t.Fatal("expected transcripts to be preserved on degradation")
	}
}

func TestFFmpegNotFoundAllowsContinuation(t *testing.T) {
	c := NewCoordinator()
	strategy := c.Resolve(KindFFmpegNotFound)
	if strategy.UserIntervention == nil {
		t.Fatal("expected UserIntervention strategy for missing ffmpeg")
	}
	if !strategy.UserIntervention.CanContinueWithout {
		t.Fatal("recording should be able to continue transcript-only without ffmpeg")
	}
}

func TestExponentialBackoffDoubles(t *testing.T) {
	r := &AutoRetry{MaxAttempts: 3, Delay: 100, ExponentialBackoff: true}
	if d := r.BackoffDelay(0); d != 100 {
		t.Fatalf("attempt 0: got %v, want 100", d)
	}
	if d := r.BackoffDelay(1); d != 200 {
		t.Fatalf("attempt 1: got %v, want 200", d)
	}
	if d := r.BackoffDelay(2); d != 400 {
		t.Fatalf("attempt 2: got %v, want 400", d)
	}
}
