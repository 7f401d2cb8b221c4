package identify

import (
	"context"
	"testing"
	"time"
)

type fakeProvider struct {
	response string
	err      error
}

func (f *fakeProvider) Identify(ctx context.Context, prompt string) (string, error) {
	return f.response, f.err
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestIdentifySpeakersVoiceProfileMatch(t *testing.T) {
	s := openTestStore(t)
	profile, err := s.Enroll("Alice", "hash-alice", 0)
	if err != nil {
		t.Fatal(err)
	}

	mapper := NewMapper(s, nil, 0)
	err = mapper.IdentifySpeakers(context.Background(), "meeting-1", []SegmentInput{
		{Label: "Speaker 0", EmbeddingHash: "hash-alice", Text: "hello"},
	})
	if err != nil {
		t.Fatal(err)
	}

	mappings, err := s.MappingsForMeeting("meeting-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(mappings) != 1 || mappings[0].SpeakerName != "Alice" || mappings[0].Confidence != 1.0 {
		t.Fatalf("got %+v", mappings)
	}
	if mappings[0].ProfileID != profile.ID {
		t.Fatalf("expected mapping to reference the matched profile")
	}
}

func TestIdentifySpeakersLLMFallbackAboveThreshold(t *testing.T) {
	s := openTestStore(t)
	provider := &fakeProvider{response: `{"Speaker 0": {"name": "Carol", "confidence": 85}}`}
	mapper := NewMapper(s, provider, 0.7)

	err := mapper.IdentifySpeakers(context.Background(), "meeting-2", []SegmentInput{
		{Label: "Speaker 0", EmbeddingHash: "", Text: "this is Carol speaking"},
	})
	if err != nil {
		t.Fatal(err)
	}

	mappings, err := s.MappingsForMeeting("meeting-2")
	if err != nil {
		t.Fatal(err)
	}
	if len(mappings) != 1 || mappings[0].SpeakerName != "Carol" {
		t.Fatalf("got %+v", mappings)
	}
}

func TestIdentifySpeakersLLMBelowThresholdLeavesLabelNumeric(t *testing.T) {
	s := openTestStore(t)
	provider := &fakeProvider{response: `{"Speaker 0": {"name": "Maybe", "confidence": 30}}`}
	mapper := NewMapper(s, provider, 0.7)

	if err := mapper.IdentifySpeakers(context.Background(), "meeting-3", []SegmentInput{
		{Label: "Speaker 0", EmbeddingHash: "", Text: "ambiguous"},
	}); err != nil {
		t.Fatal(err)
	}

	mappings, err := s.MappingsForMeeting("meeting-3")
	if err != nil {
		t.Fatal(err)
	}
	if len(mappings) != 0 {
		t.Fatalf("expected no mapping below the confidence threshold, got %+v", mappings)
	}
}

func TestManualCorrectOverridesWithFullConfidence(t *testing.T) {
	s := openTestStore(t)
	mapper := NewMapper(s, nil, 0)
	if err := mapper.ManualCorrect("meeting-4", "Speaker 0", "Dana"); err != nil {
		t.Fatal(err)
	}
	mappings, err := s.MappingsForMeeting("meeting-4")
	if err != nil {
		t.Fatal(err)
	}
	if len(mappings) != 1 || !mappings[0].IsManual || mappings[0].Confidence != 1.0 {
		t.Fatalf("got %+v", mappings)
	}
}

func TestMergeLabelsRemapsSegmentsAndMappingAtomically(t *testing.T) {
	s := openTestStore(t)
	if err := s.InsertSegment("meeting-5", "Speaker 1", 0, 1, 1); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertSegment("meeting-5", "Speaker 1", 1, 2, 2); err != nil {
		t.Fatal(err)
	}
	mapper := NewMapper(s, nil, 0)
	if err := mapper.ManualCorrect("meeting-5", "Speaker 0", "Eve"); err != nil {
		t.Fatal(err)
	}

	if err := mapper.MergeLabels("meeting-5", "Speaker 1", "Speaker 0"); err != nil {
		t.Fatal(err)
	}

	mappings, err := s.MappingsForMeeting("meeting-5")
	if err != nil {
		t.Fatal(err)
	}
	if len(mappings) != 1 || mappings[0].SpeakerLabel != "Speaker 0" || mappings[0].SpeakerName != "Eve" {
		t.Fatalf("expected the surviving mapping to keep Eve's name under Speaker 0, got %+v", mappings)
	}
}

func TestPruneExpiredCascadesToMappings(t *testing.T) {
	s := openTestStore(t)
	profile, err := s.Enroll("Frank", "hash-frank", 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertMapping(Mapping{
		MeetingID: "meeting-6", SpeakerLabel: "Speaker 0", SpeakerName: "Frank",
		Confidence: 1.0, ProfileID: profile.ID, UpdatedAt: time.Now(),
	}); err != nil {
		t.Fatal(err)
	}

	stale := time.Now().Add(-48 * time.Hour)
	if err := s.TouchLastSeen(profile.ID, stale); err != nil {
		t.Fatal(err)
	}

	pruned, err := s.PruneExpired(time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if pruned != 1 {
		t.Fatalf("expected 1 profile pruned, got %d", pruned)
	}

	mappings, err := s.MappingsForMeeting("meeting-6")
	if err != nil {
		t.Fatal(err)
	}
	if len(mappings) != 0 {
		t.Fatalf("expected the mapping to cascade-delete with its profile, got %+v", mappings)
	}
}
