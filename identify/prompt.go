package identify

import (
	"fmt"
	"strings"
)

// TranscriptLine is one labeled utterance fed into the identification
// prompt.
type TranscriptLine struct {
	SpeakerLabel string
	Text         string
}

const identificationInstructions = `You are analyzing a meeting transcript where speakers are identified only by number. Look for introduction patterns such as "I'm ...", "This is ...", "My name is ...", or one speaker addressing another by name, and infer each speaker's real name.

Respond with strict JSON only, no prose, mapping each speaker label that appears in the transcript to an object with "name" and "confidence" (0-100, how sure you are). If you cannot infer a name for a label, omit it entirely. Do not invent names that aren't supported by the transcript.

Example response:
{"Speaker 0": {"name": "Alice", "confidence": 90}, "Speaker 1": {"name": "Bob", "confidence": 60}}`

// BuildIdentificationPrompt renders a `Speaker N: text...` transcript
// view followed by the extraction instructions.
func BuildIdentificationPrompt(lines []TranscriptLine) string {
	var b strings.Builder
	for _, l := range lines {
		fmt.Fprintf(&b, "%s: %s\n", l.SpeakerLabel, l.Text)
	}
	b.WriteString("\n")
	b.WriteString(identificationInstructions)
	return b.String()
}
