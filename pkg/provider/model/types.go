package model

import "fmt"

// Delta is one incremental unit of model output. At least one of Text and
// Thought is non-empty on data deltas. Arrival order is the only ordering
// guarantee; there are no sequence numbers.
type Delta struct {
	// Text is an incremental fragment of the visible answer.
	Text string

	// Thought is an incremental fragment of the reasoning trace. Text and
	// Thought accumulate independently; a delta may carry either or both.
	Thought string

	// Err, when non-nil, terminates the stream: it is the last delta sent
	// before the channel closes. Context cancellation errors mean the caller
	// cancelled; anything else is a transport or API failure.
	Err error
}

// GenerationParams is the opaque parameter bag passed through to the model
// backend. The engines never reinterpret these values; they are fixed at
// construction and forwarded verbatim.
type GenerationParams struct {
	// Model is the backend model identifier (e.g. "gemini-3-pro-preview").
	Model string

	// SystemPrompt is injected ahead of the conversation history.
	SystemPrompt string

	Temperature     *float64
	TopP            *float64
	TopK            *int
	MaxOutputTokens int

	// Thinking configures the reasoning-trace side channel.
	Thinking ThinkingConfig

	// SafetySettings lists harm-category thresholds, forwarded verbatim.
	SafetySettings []SafetySetting

	// EnableSearch toggles the backend's search grounding tool.
	EnableSearch bool
}

// ThinkingConfig controls whether and how the model emits thought deltas.
type ThinkingConfig struct {
	// IncludeThoughts requests the reasoning trace alongside the answer.
	IncludeThoughts bool

	// Level selects the reasoning effort ("low", "high"). Empty uses the
	// backend default.
	Level string
}

// SafetySetting pairs a harm category with a blocking threshold. Both values
// are backend-defined strings (e.g. "HARM_CATEGORY_HARASSMENT",
// "BLOCK_NONE") and are forwarded without interpretation.
type SafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

// APIError is a structured error returned by the model backend. Its code and
// message are rendered verbatim into the transcript when a generation fails.
type APIError struct {
	// Code is the backend's numeric error code (typically the HTTP status).
	Code int

	// Status is the backend's symbolic status (e.g. "RESOURCE_EXHAUSTED").
	Status string

	// Message is the backend's human-readable error description.
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("model: API error (%d): %s", e.Code, e.Message)
}
