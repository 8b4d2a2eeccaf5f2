// Package gemini implements the model.Provider interface against the Gemini
// streaming REST API (streamGenerateContent with SSE framing).
//
// The provider translates the shared chat history into Gemini "contents",
// forwards the opaque generation parameters, and decodes the SSE event
// stream into model.Delta values, routing thought parts to the Thought
// channel and everything else to Text.
package gemini

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/K8rrik/FreeCluely/pkg/chat"
	"github.com/K8rrik/FreeCluely/pkg/provider/model"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com"
	apiVersion     = "v1beta"

	// requestTimeout bounds a full streamed generation. Long-form answers
	// with thinking enabled can run several minutes.
	requestTimeout = 6 * time.Minute

	// deltaBuf is the buffer depth of the delta channel. Sized to absorb
	// bursts of small SSE events without blocking the read loop.
	deltaBuf = 32
)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithBaseURL overrides the default Gemini API endpoint. Useful for proxies
// and for tests against a local httptest server.
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// Provider implements model.Provider backed by the Gemini streaming API.
type Provider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// Compile-time assertion that Provider satisfies model.Provider.
var _ model.Provider = (*Provider)(nil)

// New creates a Gemini Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: requestTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Stream implements model.Provider. It opens the SSE response and spawns a
// reader goroutine that decodes events into deltas until the stream ends,
// the context is cancelled, or the backend reports an error.
func (p *Provider) Stream(ctx context.Context, history []chat.Message, params model.GenerationParams) (<-chan model.Delta, error) {
	if params.Model == "" {
		return nil, errors.New("gemini: params.Model must not be empty")
	}

	body, err := json.Marshal(buildRequest(history, params))
	if err != nil {
		return nil, fmt.Errorf("gemini: encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/models/%s:streamGenerateContent?alt=sse&key=%s",
		p.baseURL, apiVersion, url.PathEscape(params.Model), url.QueryEscape(p.apiKey))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gemini: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gemini: request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeAPIError(resp)
	}

	ch := make(chan model.Delta, deltaBuf)
	go p.readLoop(ctx, resp.Body, ch)
	return ch, nil
}

// readLoop scans SSE lines from body, decodes each data event, and forwards
// the resulting deltas. The channel is always closed on return.
func (p *Provider) readLoop(ctx context.Context, body io.ReadCloser, ch chan<- model.Delta) {
	defer close(ch)
	defer body.Close()

	sc := bufio.NewScanner(body)
	// SSE events can exceed the default 64 KiB token limit for long
	// answer fragments with inline citations.
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			return
		}

		var ev streamEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			// Malformed events are skipped rather than terminating the
			// stream; the backend occasionally interleaves keep-alives.
			continue
		}

		for _, d := range ev.deltas() {
			select {
			case ch <- d:
			case <-ctx.Done():
				return
			}
		}
	}

	if err := sc.Err(); err != nil {
		// Cancellation surfaces as a read error on the response body; the
		// engine treats context errors as silent, so forward them as-is.
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		select {
		case ch <- model.Delta{Err: fmt.Errorf("gemini: stream read: %w", err)}:
		case <-ctx.Done():
		}
	}
}

// ─── Request encoding ─────────────────────────────────────────────────────────

type requestBody struct {
	Contents          []content       `json:"contents"`
	SystemInstruction *content        `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConf `json:"generationConfig,omitempty"`
	SafetySettings    []model.SafetySetting `json:"safetySettings,omitempty"`
	Tools             []toolDecl      `json:"tools,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`

	// Thought marks reasoning-trace parts in responses.
	Thought bool `json:"thought,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type generationConf struct {
	Temperature     *float64      `json:"temperature,omitempty"`
	TopP            *float64      `json:"topP,omitempty"`
	TopK            *int          `json:"topK,omitempty"`
	MaxOutputTokens int           `json:"maxOutputTokens,omitempty"`
	ThinkingConfig  *thinkingConf `json:"thinkingConfig,omitempty"`
}

type thinkingConf struct {
	IncludeThoughts bool   `json:"includeThoughts,omitempty"`
	ThinkingLevel   string `json:"thinkingLevel,omitempty"`
}

type toolDecl struct {
	GoogleSearch *struct{} `json:"googleSearch,omitempty"`
}

// buildRequest maps the shared chat history and opaque parameters onto the
// Gemini request schema. Roles map user→"user" and assistant→"model";
// attachments become inline JPEG data parts.
func buildRequest(history []chat.Message, params model.GenerationParams) requestBody {
	body := requestBody{
		Contents:       make([]content, 0, len(history)),
		SafetySettings: params.SafetySettings,
	}

	for _, msg := range history {
		role := "user"
		if msg.Role == chat.RoleAssistant {
			role = "model"
		}
		parts := []part{{Text: msg.Text}}
		if len(msg.Attachment) > 0 {
			parts = append(parts, part{InlineData: &inlineData{
				MIMEType: "image/jpeg",
				Data:     base64.StdEncoding.EncodeToString(msg.Attachment),
			}})
		}
		body.Contents = append(body.Contents, content{Role: role, Parts: parts})
	}

	if params.SystemPrompt != "" {
		body.SystemInstruction = &content{Parts: []part{{Text: params.SystemPrompt}}}
	}

	gc := &generationConf{
		Temperature:     params.Temperature,
		TopP:            params.TopP,
		TopK:            params.TopK,
		MaxOutputTokens: params.MaxOutputTokens,
	}
	if params.Thinking.IncludeThoughts || params.Thinking.Level != "" {
		gc.ThinkingConfig = &thinkingConf{
			IncludeThoughts: params.Thinking.IncludeThoughts,
			ThinkingLevel:   params.Thinking.Level,
		}
	}
	if *gc != (generationConf{}) {
		body.GenerationConfig = gc
	}

	if params.EnableSearch {
		body.Tools = []toolDecl{{GoogleSearch: &struct{}{}}}
	}

	return body
}

// ─── Response decoding ────────────────────────────────────────────────────────

type streamEvent struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// deltas converts one SSE event into zero or more deltas. Thought-flagged
// parts feed the Thought channel; all others feed Text.
func (ev streamEvent) deltas() []model.Delta {
	var out []model.Delta
	for _, c := range ev.Candidates {
		for _, p := range c.Content.Parts {
			if p.Text == "" {
				continue
			}
			if p.Thought {
				out = append(out, model.Delta{Thought: p.Text})
			} else {
				out = append(out, model.Delta{Text: p.Text})
			}
		}
	}
	return out
}

type apiErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// decodeAPIError reads a non-200 response body and converts it into a
// *model.APIError. Falls back to a generic error when the body is not the
// structured error shape.
func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	var eb apiErrorBody
	if err := json.Unmarshal(raw, &eb); err == nil && eb.Error.Message != "" {
		return &model.APIError{
			Code:    eb.Error.Code,
			Status:  eb.Error.Status,
			Message: eb.Error.Message,
		}
	}
	return &model.APIError{
		Code:    resp.StatusCode,
		Message: strings.TrimSpace(string(raw)),
	}
}
