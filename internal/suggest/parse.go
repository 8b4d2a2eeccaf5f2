package suggest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	errProviderRequired = errors.New("suggest: Config.Provider is required")
	errWindowRequired   = errors.New("suggest: Config.Window is required")

	// ErrNotFound is returned by Activate when no visible suggestion has
	// the given ID.
	ErrNotFound = errors.New("suggest: suggestion not found")
)

// candidate is one suggestion proposed by the model, before filtering.
// Confidence is nil when the model omitted the field; an absent confidence
// is acceptable and only a present value below the threshold is filtered.
type candidate struct {
	Topic      string
	Answer     string
	Confidence *float64
}

// analysisResponse is the JSON document the analysis prompt asks the model
// to produce.
type analysisResponse struct {
	Suggestions []struct {
		Topic      string   `json:"topic"`
		Answer     string   `json:"answer"`
		Confidence *float64 `json:"confidence"`
	} `json:"suggestions"`
}

// parseSuggestions decodes the model's analysis output. Models routinely wrap
// JSON in Markdown code fences despite instructions, so fences are stripped
// before decoding.
func parseSuggestions(raw string) ([]candidate, error) {
	cleaned := stripFences(raw)
	if cleaned == "" {
		return nil, nil
	}

	var resp analysisResponse
	if err := json.Unmarshal([]byte(cleaned), &resp); err != nil {
		return nil, fmt.Errorf("suggest: decode analysis response: %w", err)
	}

	out := make([]candidate, 0, len(resp.Suggestions))
	for _, s := range resp.Suggestions {
		out = append(out, candidate{
			Topic:      strings.TrimSpace(s.Topic),
			Answer:     strings.TrimSpace(s.Answer),
			Confidence: s.Confidence,
		})
	}
	return out, nil
}

// stripFences removes a surrounding Markdown code fence, with or without a
// language tag, and trims whitespace.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop the language tag on the opening fence line, if any.
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		first := strings.TrimSpace(s[:i])
		if first == "" || isFenceTag(first) {
			s = s[i+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// isFenceTag reports whether s looks like a code fence language tag.
func isFenceTag(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}

// buildPrompt renders the analysis prompt for one cycle.
func buildPrompt(transcript string, avoid []string) string {
	var b strings.Builder
	b.WriteString("You are an ambient assistant listening to a live conversation. ")
	b.WriteString("Identify at most 2 topics where a short factual answer would genuinely help the participants right now.\n\n")
	b.WriteString("Conversation so far:\n")
	b.WriteString(transcript)
	b.WriteString("\n\n")
	if len(avoid) > 0 {
		b.WriteString("Already covered, do not suggest again: ")
		b.WriteString(strings.Join(avoid, ", "))
		b.WriteString("\n\n")
	}
	b.WriteString("Respond ONLY with JSON in this exact shape, no prose:\n")
	b.WriteString(`{"suggestions": [{"topic": "...", "answer": "...", "confidence": 0.0}]}` + "\n")
	b.WriteString("confidence is your 0-1 estimate that the answer is helpful and correct. ")
	b.WriteString("Omit anything you are not at least moderately confident about.")
	return b.String()
}
