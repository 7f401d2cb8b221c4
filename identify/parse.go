package identify

import (
	"encoding/json"
	"fmt"
	"strings"
)

// LabelGuess is one speaker label's extracted name and normalized
// confidence, as returned by the identification prompt.
type LabelGuess struct {
	Name       string
	Confidence float64 // normalized to [0, 1]
}

// identificationResponse is the strict JSON shape the prompt asks the
// model for: {"Speaker 0": {"name": "...", "confidence": 87}, ...}.
type identificationResponse map[string]struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// ParseIdentificationResponse parses an LLM's raw reply into per-label
// guesses, tolerating ```json ... ``` or bare ``` ... ``` fences around
// the payload.
func ParseIdentificationResponse(raw string) (map[string]LabelGuess, error) {
	cleaned := stripMarkdownFences(raw)

	var parsed identificationResponse
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return nil, fmt.Errorf("parse identification response: %w", err)
	}

	out := make(map[string]LabelGuess, len(parsed))
	for label, v := range parsed {
		confidence := v.Confidence
		if confidence > 1 {
			confidence = confidence / 100.0
		}
		if confidence < 0 {
			confidence = 0
		}
		if confidence > 1 {
			confidence = 1
		}
		out[label] = LabelGuess{Name: strings.TrimSpace(v.Name), Confidence: confidence}
	}
	return out, nil
}

func stripMarkdownFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		firstLine := strings.TrimSpace(s[:idx])
		if firstLine == "json" || firstLine == "" {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
