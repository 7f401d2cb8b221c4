package identify

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultRetentionDays matches the spec default: a profile not seen in
// 90 days is eligible for automatic deletion.
const DefaultRetentionDays = 90

// Profile is a consented, hash-only representation of a speaker that
// can be recognized across sessions by an exact embedding-hash match.
// The raw embedding never reaches this struct or the database.
type Profile struct {
	ID            string
	Name          string
	EmbeddingHash string
	ConsentedAt   time.Time
	LastSeenAt    time.Time
	RetentionDays int
}

var ErrProfileExists = errors.New("identify: a profile already exists for this embedding hash")

// Enroll creates a new profile. Consent is mandatory: callers must have
// already obtained it from the user before calling this.
func (s *Store) Enroll(name, embeddingHash string, retentionDays int) (*Profile, error) {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	now := time.Now()
	p := &Profile{
		ID:            uuid.New().String(),
		Name:          name,
		EmbeddingHash: embeddingHash,
		ConsentedAt:   now,
		LastSeenAt:    now,
		RetentionDays: retentionDays,
	}
	_, err := s.db.Exec(`
		INSERT INTO voice_profiles (id, name, embedding_hash, consented_at, last_seen_at, retention_days)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.ID, p.Name, p.EmbeddingHash, p.ConsentedAt, p.LastSeenAt, p.RetentionDays)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProfileExists, err)
	}
	return p, nil
}

// MatchByHash looks up the profile whose embedding hash exactly equals
// hash, per the spec's "confidence := 1.0 on exact embedding-hash match"
// rule. Returns (nil, nil) on no match.
func (s *Store) MatchByHash(hash string) (*Profile, error) {
	row := s.db.QueryRow(`
		SELECT id, name, embedding_hash, consented_at, last_seen_at, retention_days
		FROM voice_profiles WHERE embedding_hash = ?
	`, hash)
	var p Profile
	err := row.Scan(&p.ID, &p.Name, &p.EmbeddingHash, &p.ConsentedAt, &p.LastSeenAt, &p.RetentionDays)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("match profile: %w", err)
	}
	return &p, nil
}

// TouchLastSeen bumps a profile's last_seen_at so the retention clock
// restarts on recognition.
func (s *Store) TouchLastSeen(profileID string, at time.Time) error {
	_, err := s.db.Exec(`UPDATE voice_profiles SET last_seen_at = ? WHERE id = ?`, at, profileID)
	if err != nil {
		return fmt.Errorf("touch profile: %w", err)
	}
	return nil
}

// RecordEnrollmentSession links a recognized segment back to the
// profile that recognized it, for later cascade delete.
func (s *Store) RecordEnrollmentSession(profileID, meetingID, speakerLabel string) error {
	_, err := s.db.Exec(`
		INSERT INTO voice_profile_enrollments (id, profile_id, meeting_id, speaker_label, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, uuid.New().String(), profileID, meetingID, speakerLabel, time.Now())
	if err != nil {
		return fmt.Errorf("record enrollment session: %w", err)
	}
	return nil
}

// DeleteProfile removes a voice profile; ON DELETE CASCADE takes its
// enrollment sessions and speaker_mappings rows with it.
func (s *Store) DeleteProfile(profileID string) error {
	_, err := s.db.Exec(`DELETE FROM voice_profiles WHERE id = ?`, profileID)
	if err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	return nil
}

// PruneExpired deletes every profile whose last_seen_at is older than
// its own retention window, returning how many were removed. Deletion
// cascades to enrollment sessions and mappings via the schema's
// ON DELETE CASCADE, so no separate cleanup pass is needed here.
func (s *Store) PruneExpired(now time.Time) (int, error) {
	rows, err := s.db.Query(`SELECT id, retention_days, last_seen_at FROM voice_profiles`)
	if err != nil {
		return 0, fmt.Errorf("list profiles for pruning: %w", err)
	}
	var expired []string
	for rows.Next() {
		var id string
		var retentionDays int
		var lastSeen time.Time
		if err := rows.Scan(&id, &retentionDays, &lastSeen); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan profile for pruning: %w", err)
		}
		if now.Sub(lastSeen) > time.Duration(retentionDays)*24*time.Hour {
			expired = append(expired, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, id := range expired {
		if err := s.DeleteProfile(id); err != nil {
			return 0, err
		}
	}
	return len(expired), nil
}
