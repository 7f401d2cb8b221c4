package identify

import (
	"strings"
	"testing"
)

func TestParseIdentificationResponsePlainJSON(t *testing.T) {
	raw := `{"Speaker 0": {"name": "Alice", "confidence": 90}, "Speaker 1": {"name": "Bob", "confidence": 40}}`
	guesses, err := ParseIdentificationResponse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if guesses["Speaker 0"].Name != "Alice" || guesses["Speaker 0"].Confidence != 0.9 {
		t.Fatalf("got %+v", guesses["Speaker 0"])
	}
	if guesses["Speaker 1"].Confidence != 0.4 {
		t.Fatalf("got %+v", guesses["Speaker 1"])
	}
}

func TestParseIdentificationResponseMarkdownFenced(t *testing.T) {
	raw := "```json\n{\"Speaker 0\": {\"name\": \"Alice\", \"confidence\": 85}}\n```"
	guesses, err := ParseIdentificationResponse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if guesses["Speaker 0"].Name != "Alice" {
		t.Fatalf("got %+v", guesses)
	}
}

func TestParseIdentificationResponseBareFence(t *testing.T) {
	raw := "```\n{\"Speaker 0\": {\"name\": \"Alice\", \"confidence\": 100}}\n```"
	guesses, err := ParseIdentificationResponse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if guesses["Speaker 0"].Confidence != 1.0 {
		t.Fatalf("expected confidence clamped to 1.0, got %+v", guesses["Speaker 0"])
	}
}

func TestParseIdentificationResponseInvalidJSON(t *testing.T) {
	if _, err := ParseIdentificationResponse("not json"); err == nil {
		t.Fatal("expected an error for non-JSON input")
	}
}

func TestBuildIdentificationPromptIncludesLabels(t *testing.T) {
	prompt := BuildIdentificationPrompt([]TranscriptLine{
		{SpeakerLabel: "Speaker 0", Text: "Hi, I'm Alice"},
		{SpeakerLabel: "Speaker 1", Text: "Hey Alice, this is Bob"},
	})
	if !strings.Contains(prompt, "Speaker 0: Hi, I'm Alice") {
		t.Fatalf("prompt missing labeled line: %s", prompt)
	}
}
