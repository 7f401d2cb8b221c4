// Package identify implements the Identification & Mapper (C12):
// LLM-assisted name extraction from a labeled transcript, label→name
// mapping persisted in a local relational store, and a consented voice
// profile store with retention-based cascade delete. Profiles, mappings
// and segments all live in one sqlite schema rather than the teacher's
// temp+rename JSON files; speaker_mappings/speaker_segments are new
// relative to the teacher.
package identify

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS voice_profiles (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	embedding_hash TEXT NOT NULL UNIQUE,
	consented_at TIMESTAMP NOT NULL,
	last_seen_at TIMESTAMP NOT NULL,
	retention_days INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS voice_profile_enrollments (
	id TEXT PRIMARY KEY,
	profile_id TEXT NOT NULL REFERENCES voice_profiles(id) ON DELETE CASCADE,
	meeting_id TEXT NOT NULL,
	speaker_label TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS speaker_mappings (
	meeting_id TEXT NOT NULL,
	speaker_label TEXT NOT NULL,
	speaker_name TEXT NOT NULL,
	confidence REAL NOT NULL,
	is_manual INTEGER NOT NULL DEFAULT 0,
	profile_id TEXT REFERENCES voice_profiles(id) ON DELETE CASCADE,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (meeting_id, speaker_label)
);

CREATE TABLE IF NOT EXISTS speaker_segments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	meeting_id TEXT NOT NULL,
	speaker_label TEXT NOT NULL,
	start_s REAL NOT NULL,
	end_s REAL NOT NULL,
	sequence_id INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_speaker_segments_meeting
	ON speaker_segments(meeting_id, sequence_id);
`

// Store wraps the sqlite-backed relational schema for speaker mappings,
// segments and voice profiles.
type Store struct {
	db *sql.DB
}

// Open creates or migrates the sqlite database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers anyway
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Mapping is one row of speaker_mappings.
type Mapping struct {
	MeetingID    string
	SpeakerLabel string
	SpeakerName  string
	Confidence   float64
	IsManual     bool
	ProfileID    string
	UpdatedAt    time.Time
}

// UpsertMapping inserts or replaces the mapping for (meeting_id,
// speaker_label). An existing manual row is only replaced by another
// manual row; a non-manual upsert onto it leaves it unchanged.
func (s *Store) UpsertMapping(m Mapping) error {
	_, err := s.db.Exec(`
		INSERT INTO speaker_mappings
			(meeting_id, speaker_label, speaker_name, confidence, is_manual, profile_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(meeting_id, speaker_label) DO UPDATE SET
			speaker_name = excluded.speaker_name,
			confidence   = excluded.confidence,
			is_manual    = excluded.is_manual,
			profile_id   = excluded.profile_id,
			updated_at   = excluded.updated_at
		WHERE speaker_mappings.is_manual = 0 OR excluded.is_manual = 1
	`, m.MeetingID, m.SpeakerLabel, m.SpeakerName, m.Confidence, boolToInt(m.IsManual), nullableString(m.ProfileID), m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert mapping: %w", err)
	}
	return nil
}

// MappingsForMeeting returns every mapping row for a meeting.
func (s *Store) MappingsForMeeting(meetingID string) ([]Mapping, error) {
	rows, err := s.db.Query(`
		SELECT meeting_id, speaker_label, speaker_name, confidence, is_manual,
		       COALESCE(profile_id, ''), updated_at
		FROM speaker_mappings WHERE meeting_id = ?
	`, meetingID)
	if err != nil {
		return nil, fmt.Errorf("query mappings: %w", err)
	}
	defer rows.Close()

	var out []Mapping
	for rows.Next() {
		var m Mapping
		var isManual int
		if err := rows.Scan(&m.MeetingID, &m.SpeakerLabel, &m.SpeakerName, &m.Confidence, &isManual, &m.ProfileID, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan mapping: %w", err)
		}
		m.IsManual = isManual != 0
		out = append(out, m)
	}
	return out, rows.Err()
}

// RenameLabel remaps every segment and the mapping row carrying fromLabel
// to toLabel for a meeting, atomically within one transaction, per the
// merge-is-atomic guarantee.
func (s *Store) RenameLabel(meetingID, fromLabel, toLabel string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin rename transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		UPDATE speaker_segments SET speaker_label = ?
		WHERE meeting_id = ? AND speaker_label = ?
	`, toLabel, meetingID, fromLabel); err != nil {
		return fmt.Errorf("remap segments: %w", err)
	}

	if _, err := tx.Exec(`
		DELETE FROM speaker_mappings WHERE meeting_id = ? AND speaker_label = ?
			AND EXISTS (SELECT 1 FROM speaker_mappings WHERE meeting_id = ? AND speaker_label = ?)
	`, meetingID, toLabel, meetingID, fromLabel); err != nil {
		return fmt.Errorf("clear destination mapping: %w", err)
	}

	if _, err := tx.Exec(`
		UPDATE speaker_mappings SET speaker_label = ?
		WHERE meeting_id = ? AND speaker_label = ?
	`, toLabel, meetingID, fromLabel); err != nil {
		return fmt.Errorf("remap mapping: %w", err)
	}

	return tx.Commit()
}

// InsertSegment records a diarized segment's time range for a meeting.
func (s *Store) InsertSegment(meetingID, label string, startS, endS float64, sequenceID uint64) error {
	_, err := s.db.Exec(`
		INSERT INTO speaker_segments (meeting_id, speaker_label, start_s, end_s, sequence_id)
		VALUES (?, ?, ?, ?, ?)
	`, meetingID, label, startS, endS, sequenceID)
	if err != nil {
		return fmt.Errorf("insert segment: %w", err)
	}
	return nil
}

// Segment is a persisted diarized segment, ordered by playback position.
type Segment struct {
	SpeakerLabel string
	StartS       float64
	EndS         float64
	SequenceID   uint64
}

// SegmentsForMeeting returns every diarized segment recorded for a
// meeting, in sequence order, for the GUI shell's speaker-labeled
// transcript view.
func (s *Store) SegmentsForMeeting(meetingID string) ([]Segment, error) {
	rows, err := s.db.Query(`
		SELECT speaker_label, start_s, end_s, sequence_id
		FROM speaker_segments
		WHERE meeting_id = ?
		ORDER BY sequence_id ASC
	`, meetingID)
	if err != nil {
		return nil, fmt.Errorf("query segments: %w", err)
	}
	defer rows.Close()

	var out []Segment
	for rows.Next() {
		var seg Segment
		if err := rows.Scan(&seg.SpeakerLabel, &seg.StartS, &seg.EndS, &seg.SequenceID); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		out = append(out, seg)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
