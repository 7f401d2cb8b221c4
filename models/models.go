// Package models manages the on-disk cache of ONNX model files the
// diarization pipeline needs (the speaker embedding model and, once
// wired, the Silero VAD model): a small registry of known models plus a
// download-with-progress-and-resume-safe-rename helper, adapted from the
// teacher's Whisper GGML model manager.
package models

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Info describes one downloadable model file.
type Info struct {
	ID          string
	Description string
	DownloadURL string
	SizeBytes   int64
}

// Registry lists the ONNX models this repo knows how to fetch.
var Registry = []Info{
	{
		ID:          "wespeaker-resnet34",
		Description: "WeSpeaker ResNet34 speaker embedding model",
		DownloadURL: "https://huggingface.co/csukuangfj/wespeaker-models/resolve/main/wespeaker_resnet34_LM.onnx",
		SizeBytes:   26_000_000,
	},
	{
		ID:          "silero-vad",
		Description: "Silero voice activity detection model",
		DownloadURL: "https://github.com/snakers4/silero-vad/raw/master/src/silero_vad/data/silero_vad.onnx",
		SizeBytes:   2_300_000,
	},
}

// ByID looks up a registry entry, or nil if unknown.
func ByID(id string) *Info {
	for i := range Registry {
		if Registry[i].ID == id {
			return &Registry[i]
		}
	}
	return nil
}

// ProgressFunc reports download progress as a 0-100 percentage.
type ProgressFunc func(progress float64)

// Manager locates and fetches model files under one directory, keyed by
// registry ID.
type Manager struct {
	modelsDir string
}

// NewManager creates the models directory if needed.
func NewManager(modelsDir string) (*Manager, error) {
	if err := os.MkdirAll(modelsDir, 0755); err != nil {
		return nil, fmt.Errorf("create models directory: %w", err)
	}
	return &Manager{modelsDir: modelsDir}, nil
}

// Path returns where model id is (or would be) stored, regardless of
// whether it has been downloaded yet.
func (m *Manager) Path(id string) string {
	return filepath.Join(m.modelsDir, id+".onnx")
}

// IsDownloaded reports whether id's file already exists on disk.
func (m *Manager) IsDownloaded(id string) bool {
	_, err := os.Stat(m.Path(id))
	return err == nil
}

// Ensure returns the local path to model id, downloading it first if it
// isn't already cached. onProgress may be nil.
func (m *Manager) Ensure(ctx context.Context, id string, onProgress ProgressFunc) (string, error) {
	info := ByID(id)
	if info == nil {
		return "", fmt.Errorf("unknown model %q", id)
	}

	path := m.Path(id)
	if m.IsDownloaded(id) {
		return path, nil
	}

	if err := downloadFile(ctx, info.DownloadURL, path, info.SizeBytes, onProgress); err != nil {
		return "", fmt.Errorf("download model %q: %w", id, err)
	}
	return path, nil
}

// downloadFile streams url to destPath via a temp-file-then-rename, so a
// failed or interrupted download never leaves a corrupt file at
// destPath.
func downloadFile(ctx context.Context, url, destPath string, expectedSize int64, onProgress ProgressFunc) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmpPath := destPath + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer out.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		os.Remove(tmpPath)
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	totalSize := resp.ContentLength
	if totalSize <= 0 {
		totalSize = expectedSize
	}

	reader := &progressReader{reader: resp.Body, totalSize: totalSize, onProgress: onProgress}
	if _, err := io.Copy(out, reader); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("write file: %w", err)
	}
	out.Close()

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// progressReader wraps an io.Reader, reporting cumulative progress at
// most twice a second.
type progressReader struct {
	reader     io.Reader
	totalSize  int64
	downloaded int64
	onProgress ProgressFunc
	lastReport time.Time
}

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	if n > 0 {
		r.downloaded += int64(n)
		now := time.Now()
		if r.onProgress != nil && (now.Sub(r.lastReport) >= 500*time.Millisecond || err == io.EOF) {
			r.lastReport = now
			if r.totalSize > 0 {
				r.onProgress(float64(r.downloaded) / float64(r.totalSize) * 100)
			}
		}
	}
	return n, err
}
