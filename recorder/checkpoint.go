package recorder

import (
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"
)

// maxCheckpointDuration bounds a single checkpoint segment per §4.5.
const maxCheckpointDuration = 30 * time.Second

// checkpointWriter streams mixed PCM into one MP4 fragment via an ffmpeg
// subprocess, the same pipe-writer pattern as the teacher's MP3Writer, but
// writing to a temp path and renaming into place only once ffmpeg exits
// cleanly — so a crash mid-segment never leaves a half-file at its final
// name.
type checkpointWriter struct {
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	tmpPath  string
	finalPath string

	sampleRate int
	started    time.Time
	written    int64

	mu     sync.Mutex
	closed bool
}

func newCheckpointWriter(finalPath string, sampleRate int) (*checkpointWriter, error) {
	tmpPath := finalPath + ".tmp"

	cmd := exec.Command(FFmpegPath(),
		"-y",
		"-f", "s16le",
		"-ar", fmt.Sprintf("%d", sampleRate),
		"-ac", "1",
		"-i", "pipe:0",
		"-c:a", "aac",
		"-f", "mp4",
		"-movflags", "frag_keyframe+empty_moov",
		tmpPath,
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("checkpoint: create stdin pipe: %w", err)
	}
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		stdin.Close()
		return nil, fmt.Errorf("checkpoint: start ffmpeg: %w", err)
	}

	return &checkpointWriter{
		cmd:        cmd,
		stdin:      stdin,
		tmpPath:    tmpPath,
		finalPath:  finalPath,
		sampleRate: sampleRate,
		started:    time.Now(),
	}, nil
}

// Write accepts mono float32 samples, converting to signed 16-bit PCM.
func (w *checkpointWriter) Write(samples []float32) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("checkpoint writer is closed")
	}

	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := int16(clampf(s, -1, 1) * 32767)
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	if _, err := w.stdin.Write(buf); err != nil {
		return fmt.Errorf("checkpoint: write pcm: %w", err)
	}
	w.written += int64(len(samples))
	return nil
}

func clampf(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Duration reports how much audio has been written so far.
func (w *checkpointWriter) Duration() time.Duration {
	return time.Duration(float64(w.written) / float64(w.sampleRate) * float64(time.Second))
}

// Close finishes the ffmpeg process and renames the temp file into place.
func (w *checkpointWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.stdin.Close(); err != nil {
		log.Printf("[Recorder] checkpoint stdin close error: %v", err)
	}
	if err := w.cmd.Wait(); err != nil {
		os.Remove(w.tmpPath)
		return fmt.Errorf("checkpoint: ffmpeg exited with error: %w", err)
	}

	if err := os.Rename(w.tmpPath, w.finalPath); err != nil {
		os.Remove(w.tmpPath)
		return fmt.Errorf("checkpoint: rename into place: %w", err)
	}
	return nil
}

// Abort kills the ffmpeg process without renaming — used when a checkpoint
// write failure triggers retry-then-degrade and the partial temp file must
// not become a corrupt final segment.
func (w *checkpointWriter) Abort() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	w.stdin.Close()
	_ = w.cmd.Process.Kill()
	w.cmd.Wait()
	os.Remove(w.tmpPath)
}

func checkpointName(index int) string {
	return fmt.Sprintf("%06d.mp4", index)
}

func checkpointPath(checkpointsDir string, index int) string {
	return filepath.Join(checkpointsDir, checkpointName(index))
}
