package recorder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// MetadataVersion is the current metadata.json schema version.
const MetadataVersion = "1.0"

// Status is the meeting folder's lifecycle status, per §3.
type Status string

const (
	StatusRecording Status = "recording"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// DeviceRefs names the devices a session recorded from.
type DeviceRefs struct {
	Mic    string `json:"mic,omitempty"`
	System string `json:"system,omitempty"`
}

// Metadata is the on-disk shape of metadata.json (§3, §6 compatibility
// surface).
type Metadata struct {
	Version         string     `json:"version"`
	MeetingID       string     `json:"meetingId,omitempty"`
	MeetingName     string     `json:"meetingName,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
	DurationSeconds *float64   `json:"durationSeconds,omitempty"`
	Devices         DeviceRefs `json:"devices"`
	AudioFile       string     `json:"audioFile,omitempty"`
	TranscriptFile  string     `json:"transcriptFile"`
	SampleRate      int        `json:"sampleRate"`
	Status          Status     `json:"status"`
}

// writeAtomic marshals v as indented JSON and writes it via temp-then-rename.
func writeAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory for %s: %w", filepath.Base(path), err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write temp %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
