package identify

import (
	"context"
	"fmt"
	"time"
)

// DefaultConfidenceThreshold is the minimum LLM-extracted confidence
// required before a name is accepted over the numeric label.
const DefaultConfidenceThreshold = 0.7

// SegmentInput is one diarized segment fed into the mapper: its label,
// the salted hash of its embedding (for voice-profile matching), and
// the transcript text spoken during it.
type SegmentInput struct {
	Label         string
	EmbeddingHash string
	Text          string
}

// Mapper resolves each session's numeric speaker labels to real names,
// trying a voice-profile hash match first and an LLM identification
// pass second, per segment label.
type Mapper struct {
	store     *Store
	provider  Provider
	threshold float64
}

// NewMapper builds a Mapper. provider may be nil, in which case
// unmatched labels simply stay numeric. threshold <= 0 uses the
// default of 0.7.
func NewMapper(store *Store, provider Provider, threshold float64) *Mapper {
	if threshold <= 0 {
		threshold = DefaultConfidenceThreshold
	}
	return &Mapper{store: store, provider: provider, threshold: threshold}
}

// IdentifySpeakers resolves names for every distinct label present in
// segments, persisting mappings as it goes. Labels neither matched by
// voice profile nor confidently identified by the LLM are left without
// a mapping row, so they continue to display as their numeric label.
func (m *Mapper) IdentifySpeakers(ctx context.Context, meetingID string, segments []SegmentInput) error {
	order, lines, hashByLabel := groupSegments(segments)

	var unresolved []string
	for _, label := range order {
		hash := hashByLabel[label]
		if hash == "" {
			unresolved = append(unresolved, label)
			continue
		}
		profile, err := m.store.MatchByHash(hash)
		if err != nil {
			return fmt.Errorf("match voice profile for %s: %w", label, err)
		}
		if profile == nil {
			unresolved = append(unresolved, label)
			continue
		}
		now := time.Now()
		if err := m.store.UpsertMapping(Mapping{
			MeetingID:    meetingID,
			SpeakerLabel: label,
			SpeakerName:  profile.Name,
			Confidence:   1.0,
			IsManual:     false,
			ProfileID:    profile.ID,
			UpdatedAt:    now,
		}); err != nil {
			return fmt.Errorf("upsert voice-matched mapping: %w", err)
		}
		if err := m.store.TouchLastSeen(profile.ID, now); err != nil {
			return fmt.Errorf("touch profile last seen: %w", err)
		}
		if err := m.store.RecordEnrollmentSession(profile.ID, meetingID, label); err != nil {
			return fmt.Errorf("record enrollment session: %w", err)
		}
	}

	if len(unresolved) == 0 || m.provider == nil {
		return nil
	}

	raw, err := m.provider.Identify(ctx, BuildIdentificationPrompt(lines))
	if err != nil {
		return fmt.Errorf("llm identification: %w", err)
	}
	guesses, err := ParseIdentificationResponse(raw)
	if err != nil {
		return fmt.Errorf("parse llm identification: %w", err)
	}

	for _, label := range unresolved {
		guess, ok := guesses[label]
		if !ok || guess.Confidence < m.threshold || guess.Name == "" {
			continue
		}
		if err := m.store.UpsertMapping(Mapping{
			MeetingID:    meetingID,
			SpeakerLabel: label,
			SpeakerName:  guess.Name,
			Confidence:   guess.Confidence,
			IsManual:     false,
			UpdatedAt:    time.Now(),
		}); err != nil {
			return fmt.Errorf("upsert llm mapping: %w", err)
		}
	}
	return nil
}

// ManualCorrect records a user-supplied name for a label, overriding
// whatever the automatic pass decided. Manual corrections always carry
// confidence 1.0 and are never displaced by a later automatic pass.
func (m *Mapper) ManualCorrect(meetingID, label, name string) error {
	return m.store.UpsertMapping(Mapping{
		MeetingID:    meetingID,
		SpeakerLabel: label,
		SpeakerName:  name,
		Confidence:   1.0,
		IsManual:     true,
		UpdatedAt:    time.Now(),
	})
}

// MergeLabels remaps every segment and mapping carrying fromLabel onto
// toLabel, atomically, per the diarization-stability guarantee.
func (m *Mapper) MergeLabels(meetingID, fromLabel, toLabel string) error {
	return m.store.RenameLabel(meetingID, fromLabel, toLabel)
}

func groupSegments(segments []SegmentInput) (order []string, lines []TranscriptLine, hashByLabel map[string]string) {
	seen := make(map[string]bool)
	hashByLabel = make(map[string]string)
	for _, seg := range segments {
		if !seen[seg.Label] {
			seen[seg.Label] = true
			order = append(order, seg.Label)
		}
		if hashByLabel[seg.Label] == "" && seg.EmbeddingHash != "" {
			hashByLabel[seg.Label] = seg.EmbeddingHash
		}
		lines = append(lines, TranscriptLine{SpeakerLabel: seg.Label, Text: seg.Text})
	}
	return order, lines, hashByLabel
}
