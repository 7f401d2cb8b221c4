package recording

import (
	"testing"
	"time"
)

func TestStateTransitions(t *testing.T) {
	s := NewState()
	if s.Status() != StatusIdle {
		t.Fatalf("expected Idle, got %v", s.Status())
	}

	if err := s.Start("mic", ""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.Status() != StatusRecording {
		t.Fatalf("expected Recording, got %v", s.Status())
	}

	s.Pause()
	if s.Status() != StatusPaused {
		t.Fatalf("expected Paused, got %v", s.Status())
	}

	s.Resume()
	if s.Status() != StatusRecording {
		t.Fatalf("expected Recording after resume, got %v", s.Status())
	}

	s.Stop()
	if s.Status() != StatusStopping {
		t.Fatalf("expected Stopping, got %v", s.Status())
	}

	s.Cleanup()
	if s.Status() != StatusIdle {
		t.Fatalf("expected Idle after cleanup, got %v", s.Status())
	}
}

func TestFatalErrorBlocksRestart(t *testing.T) {
	s := NewState()
	s.Start("mic", "")
	s.RecordError(&AudioError{Message: "disk full", Recoverable: false})

	if s.Status() != StatusFailed {
		t.Fatalf("expected Failed, got %v", s.Status())
	}

	if err := s.Start("mic", ""); err == nil {
		t.Fatal("expected Start to refuse while fatal, got nil error")
	}

	s.Cleanup()
	if err := s.Start("mic", ""); err != nil {
		t.Fatalf("expected Start to succeed after cleanup, got %v", err)
	}
}

func TestTotalPauseDurationMonotonic(t *testing.T) {
	s := NewState()
	s.Start("mic", "")

	s.Pause()
	time.Sleep(10 * time.Millisecond)
	s.Resume()

	first := s.TotalPauseDuration()
	if first <= 0 {
		t.Fatalf("expected positive pause duration, got %v", first)
	}

	s.Pause()
	time.Sleep(10 * time.Millisecond)
	s.Resume()

	second := s.TotalPauseDuration()
	if second < first {
		t.Fatalf("total pause duration decreased: %v -> %v", first, second)
	}
}

func TestActiveRecordingDurationExcludesPause(t *testing.T) {
	s := NewState()
	s.Start("mic", "")
	time.Sleep(20 * time.Millisecond)

	s.Pause()
	time.Sleep(30 * time.Millisecond)
	s.Resume()

	active := s.ActiveRecordingDuration()
	wall := s.TotalPauseDuration() + active
	if wall <= 0 {
		t.Fatalf("expected positive wall duration, got %v", wall)
	}
	if active >= wall {
		t.Fatalf("active duration %v should be less than wall duration %v when a pause occurred", active, wall)
	}
}
