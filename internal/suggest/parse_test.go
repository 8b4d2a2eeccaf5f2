package suggest

import (
	"strings"
	"testing"
)

func TestParseSuggestions(t *testing.T) {
	t.Parallel()

	const body = `{"suggestions": [{"topic": "Kubernetes autoscaling", "answer": "HPA scales on observed CPU by default.", "confidence": 0.9}]}`

	tests := []struct {
		name string
		raw  string
	}{
		{name: "plain json", raw: body},
		{name: "fenced", raw: "```\n" + body + "\n```"},
		{name: "fenced with tag", raw: "```json\n" + body + "\n```"},
		{name: "fenced with whitespace", raw: "  ```json\n" + body + "\n```  \n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := parseSuggestions(tt.raw)
			if err != nil {
				t.Fatalf("parseSuggestions() error = %v", err)
			}
			if len(got) != 1 {
				t.Fatalf("got %d suggestions, want 1", len(got))
			}
			if got[0].Topic != "Kubernetes autoscaling" {
				t.Errorf("suggestion = %+v", got[0])
			}
			if got[0].Confidence == nil || *got[0].Confidence != 0.9 {
				t.Errorf("confidence = %v, want 0.9", got[0].Confidence)
			}
		})
	}
}

func TestParseSuggestionsMissingConfidence(t *testing.T) {
	t.Parallel()
	raw := `{"suggestions": [{"topic": "event loops", "answer": "One goroutine per connection is fine."}]}`
	got, err := parseSuggestions(raw)
	if err != nil {
		t.Fatalf("parseSuggestions() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d suggestions, want 1", len(got))
	}
	if got[0].Confidence != nil {
		t.Errorf("confidence = %v, want nil for an omitted field", *got[0].Confidence)
	}
}

func TestParseSuggestionsEmpty(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "   ", "```\n```"} {
		got, err := parseSuggestions(raw)
		if err != nil {
			t.Errorf("parseSuggestions(%q) error = %v", raw, err)
		}
		if len(got) != 0 {
			t.Errorf("parseSuggestions(%q) = %v, want empty", raw, got)
		}
	}
}

func TestParseSuggestionsInvalidJSON(t *testing.T) {
	t.Parallel()
	if _, err := parseSuggestions("I think you should ask about salary."); err == nil {
		t.Fatal("expected error for prose response, got nil")
	}
}

func TestParseSuggestionsTrimsFields(t *testing.T) {
	t.Parallel()
	raw := `{"suggestions": [{"topic": "  rates  ", "answer": " 4.5% ", "confidence": 0.8}]}`
	got, err := parseSuggestions(raw)
	if err != nil {
		t.Fatalf("parseSuggestions() error = %v", err)
	}
	if got[0].Topic != "rates" || got[0].Answer != "4.5%" {
		t.Errorf("fields not trimmed: %+v", got[0])
	}
}

func TestBuildPromptIncludesAvoidList(t *testing.T) {
	t.Parallel()
	prompt := buildPrompt("we were talking about rust and go", []string{"rust", "garbage collection"})
	if !strings.Contains(prompt, "rust, garbage collection") {
		t.Errorf("prompt missing avoid list:\n%s", prompt)
	}
	if !strings.Contains(prompt, "we were talking about rust and go") {
		t.Errorf("prompt missing transcript:\n%s", prompt)
	}

	noAvoid := buildPrompt("transcript", nil)
	if strings.Contains(noAvoid, "do not suggest again") {
		t.Error("empty avoid list should omit the avoid section")
	}
}
