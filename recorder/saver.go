// Package recorder implements the Recording Saver (C5): rolling checkpoint
// segments, byte-copy concat finalize, and atomic meeting-folder
// publication.
package recorder

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"durablemeet/mixer"
)

const checkpointRetries = 3

// Event is published on successful publication or device/degradation
// changes, mirroring the teacher's websocket "recording-saved" shape.
type Event struct {
	Kind            string // "recording-saved" | "degraded"
	AudioFile       string
	TranscriptFile  string
	MeetingName     string
	MeetingFolder   string
}

// Saver owns a meeting's on-disk folder exclusively between
// StartAccumulation and Finalize.
type Saver struct {
	root           string
	checkpointsDir string
	sampleRate     int

	mu         sync.Mutex
	autoSave   bool
	degraded   bool
	writer     *checkpointWriter
	nextIndex  int
	indices    []int

	meta       Metadata
	transcript *transcriptStore

	events chan Event
}

// NewSaver creates a saver rooted at meetingRoot (not yet created on disk
// until StartAccumulation).
func NewSaver(meetingRoot string, sampleRate int) *Saver {
	return &Saver{
		root:           meetingRoot,
		checkpointsDir: filepath.Join(meetingRoot, ".checkpoints"),
		sampleRate:     sampleRate,
		events:         make(chan Event, 8),
	}
}

// Events returns the saver's event channel.
func (s *Saver) Events() <-chan Event { return s.events }

// StartAccumulation creates the meeting folder (always) and, iff autoSave,
// the .checkpoints/ directory and the first checkpoint writer.
func (s *Saver) StartAccumulation(autoSave bool, meetingID, meetingName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.root, 0755); err != nil {
		return fmt.Errorf("create meeting folder: %w", err)
	}

	s.autoSave = autoSave
	s.meta = Metadata{
		Version:        MetadataVersion,
		MeetingID:      meetingID,
		MeetingName:    meetingName,
		CreatedAt:      time.Now(),
		TranscriptFile: "transcripts.json",
		SampleRate:     s.sampleRate,
		Status:         StatusRecording,
	}
	s.transcript = newTranscriptStore(filepath.Join(s.root, "transcripts.json"))

	if autoSave {
		if err := os.MkdirAll(s.checkpointsDir, 0755); err != nil {
			return fmt.Errorf("create checkpoints dir: %w", err)
		}
		if err := s.openNextCheckpointUnsafe(); err != nil {
			return err
		}
		s.meta.AudioFile = "audio.mp4"
	}

	return s.persistMetaUnsafe()
}

func (s *Saver) openNextCheckpointUnsafe() error {
	s.nextIndex++
	path := checkpointPath(s.checkpointsDir, s.nextIndex)
	w, err := newCheckpointWriter(path, s.sampleRate)
	if err != nil {
		return fmt.Errorf("open checkpoint %d: %w", s.nextIndex, err)
	}
	s.writer = w
	return nil
}

// AcceptMixedFrame writes one mixed frame to the current checkpoint,
// rolling to a new segment at the ≤30s boundary, and silently drops audio
// when auto_save is false (expected per §4.5).
func (s *Saver) AcceptMixedFrame(frame mixer.MixedFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.autoSave || s.degraded || s.writer == nil {
		return
	}

	if err := s.writeWithRetryUnsafe(frame.Samples); err != nil {
		log.Printf("[Recorder] checkpoint write failed after retries, degrading to transcript-only: %v", err)
		s.degradeUnsafe()
		return
	}

	if s.writer.Duration() >= maxCheckpointDuration {
		if err := s.rollCheckpointUnsafe(); err != nil {
			log.Printf("[Recorder] failed to roll checkpoint, degrading: %v", err)
			s.degradeUnsafe()
		}
	}
}

// writeWithRetryUnsafe retries a failed checkpoint write with exponential
// backoff (up to checkpointRetries attempts), per §4.5's sink-error policy.
func (s *Saver) writeWithRetryUnsafe(samples []float32) error {
	var lastErr error
	for attempt := 0; attempt < checkpointRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(1<<attempt) * 50 * time.Millisecond)
		}
		if err := s.writer.Write(samples); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

func (s *Saver) rollCheckpointUnsafe() error {
	s.indices = append(s.indices, s.nextIndex)
	if err := s.writer.Close(); err != nil {
		return err
	}
	return s.openNextCheckpointUnsafe()
}

// degradeUnsafe flips the session to transcript-only: stop appending audio,
// keep consuming transcripts (Open Question #1 in DESIGN.md).
func (s *Saver) degradeUnsafe() {
	if s.degraded {
		return
	}
	s.degraded = true
	if s.writer != nil {
		s.writer.Abort()
		s.writer = nil
	}
	select {
	case s.events <- Event{Kind: "degraded", MeetingFolder: s.root}:
	default:
	}
}

// AddTranscriptSegment upserts by sequence_id and persists atomically.
func (s *Saver) AddTranscriptSegment(seg TranscriptSegment) error {
	return s.transcript.Upsert(seg)
}

// SetDeviceInfo records which devices fed this session and re-persists
// metadata atomically.
func (s *Saver) SetDeviceInfo(mic, system string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta.Devices = DeviceRefs{Mic: mic, System: system}
	return s.persistMetaUnsafe()
}

func (s *Saver) persistMetaUnsafe() error {
	return writeAtomic(filepath.Join(s.root, "metadata.json"), s.meta)
}

// Finalize concatenates checkpoint segments in index order into audio.mp4,
// updates metadata to completed, writes final transcripts, and emits
// recording-saved. Returns "" (no error) when auto_save was false or the
// session degraded to transcript-only.
func (s *Saver) Finalize(ctx context.Context, actualDurationS *float64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.autoSave || s.degraded {
		if err := s.finalizeMetaUnsafe(actualDurationS); err != nil {
			return "", err
		}
		s.events <- Event{Kind: "recording-saved", TranscriptFile: s.meta.TranscriptFile, MeetingName: s.meta.MeetingName, MeetingFolder: s.root}
		return "", nil
	}

	if s.writer != nil {
		s.indices = append(s.indices, s.nextIndex)
		if err := s.writer.Close(); err != nil {
			return "", fmt.Errorf("finalize: close last checkpoint: %w", err)
		}
		s.writer = nil
	}

	audioPath := filepath.Join(s.root, "audio.mp4")
	if err := s.concatUnsafe(ctx, audioPath); err != nil {
		return "", fmt.Errorf("finalize: %w", err)
	}

	if err := s.finalizeMetaUnsafe(actualDurationS); err != nil {
		return "", err
	}

	s.events <- Event{
		Kind:           "recording-saved",
		AudioFile:      s.meta.AudioFile,
		TranscriptFile: s.meta.TranscriptFile,
		MeetingName:    s.meta.MeetingName,
		MeetingFolder:  s.root,
	}
	return audioPath, nil
}

func (s *Saver) finalizeMetaUnsafe(actualDurationS *float64) error {
	s.transcript.mu.Lock()
	err := s.transcript.persistUnsafe()
	s.transcript.mu.Unlock()
	if err != nil {
		return fmt.Errorf("finalize: write transcripts: %w", err)
	}

	now := time.Now()
	s.meta.CompletedAt = &now
	s.meta.Status = StatusCompleted

	if actualDurationS != nil {
		s.meta.DurationSeconds = actualDurationS
	} else if segs := s.transcript.All(); len(segs) > 0 {
		last := segs[len(segs)-1].AudioEndS
		s.meta.DurationSeconds = &last
	}
	return s.persistMetaUnsafe()
}

// concatUnsafe verifies a contiguous, strictly increasing checkpoint index
// sequence (§8.4) and concatenates via ffmpeg's concat demuxer with a
// copy-only codec (no re-encode).
func (s *Saver) concatUnsafe(ctx context.Context, outPath string) error {
	sort.Ints(s.indices)
	for i, idx := range s.indices {
		if idx != i+1 {
			return fmt.Errorf("checkpoint gap or out-of-order index detected at position %d (index %d); preserving checkpoints for recovery", i, idx)
		}
	}
	if len(s.indices) == 0 {
		return fmt.Errorf("no checkpoint segments to finalize")
	}

	listPath := filepath.Join(s.checkpointsDir, "concat.txt")
	var b strings.Builder
	for _, idx := range s.indices {
		b.WriteString(fmt.Sprintf("file '%s'\n", checkpointName(idx)))
	}
	if err := os.WriteFile(listPath, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("write concat list: %w", err)
	}
	defer os.Remove(listPath)

	cmd := exec.CommandContext(ctx, FFmpegPath(),
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		outPath,
	)
	cmd.Dir = s.checkpointsDir
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("concat failed: %w: %s", err, string(out))
	}
	return nil
}
