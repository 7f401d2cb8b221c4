package identify

// mergeGapS and mergeMaxPhraseS bound when two adjacent segments from the
// same speaker label are folded into one displayed phrase, rather than
// shown as separate lines in the transcript view: a short pause after a
// short phrase, or a very short pause regardless of phrase length.
const (
	mergeGapS          = 0.8
	mergeShortPauseS   = 0.3
	mergeMaxPhraseS    = 2.0
)

// DialogueForMeeting returns the meeting's diarized segments with adjacent
// same-speaker segments folded together, so a short acknowledgement split
// across two VAD-gated segments reads as one line instead of two.
func (s *Store) DialogueForMeeting(meetingID string) ([]Segment, error) {
	segs, err := s.SegmentsForMeeting(meetingID)
	if err != nil {
		return nil, err
	}
	return mergeAdjacentSegments(segs), nil
}

func mergeAdjacentSegments(segs []Segment) []Segment {
	if len(segs) <= 1 {
		return segs
	}

	out := make([]Segment, 0, len(segs))
	for i, seg := range segs {
		if i == 0 {
			out = append(out, seg)
			continue
		}

		prev := &out[len(out)-1]
		if prev.SpeakerLabel != seg.SpeakerLabel {
			out = append(out, seg)
			continue
		}

		gap := seg.StartS - prev.EndS
		prevDuration := prev.EndS - prev.StartS
		if gap < mergeShortPauseS || (gap < mergeGapS && prevDuration < mergeMaxPhraseS) {
			prev.EndS = seg.EndS
			continue
		}

		out = append(out, seg)
	}
	return out
}
