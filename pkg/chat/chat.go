// Package chat defines the shared conversation data model: sessions,
// messages, and roles. These types are the currency between the session
// manager, the streaming response engine, the history store, and the UI
// boundary, so they carry JSON tags for persistence and the state API.
package chat

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a [Message].
type Role string

const (
	// RoleUser marks a message typed (or activated) by the user.
	RoleUser Role = "user"

	// RoleAssistant marks a message produced by the model — either streamed
	// by a generation or inserted directly from a suggestion answer.
	RoleAssistant Role = "assistant"
)

// Message is a single entry in a session transcript.
//
// During a generation the assistant message identified by the generation's
// placeholder ID is the only message being mutated: Text and Thought are
// append-only and grow independently as deltas arrive. All other messages
// are immutable once appended.
type Message struct {
	// ID is the message identity. For a streamed assistant message the ID is
	// allocated before the first delta arrives and is the merge key.
	ID uuid.UUID `json:"id"`

	// Role is the message author.
	Role Role `json:"role"`

	// Text is the visible message body.
	Text string `json:"text"`

	// Thought is the model's reasoning trace, accumulated in parallel with
	// Text. Empty when the model emitted no thought parts.
	Thought string `json:"thought,omitempty"`

	// Timestamp records when the message was created.
	Timestamp time.Time `json:"timestamp"`

	// Attachment is an optional binary payload (e.g. a screen capture)
	// forwarded to the model alongside Text.
	Attachment []byte `json:"attachment,omitempty"`

	// Ambient is true only for assistant messages inserted from an activated
	// suggestion, bypassing a live generation.
	Ambient bool `json:"ambient,omitempty"`
}

// NewUserMessage creates a user message with a fresh ID.
func NewUserMessage(text string, attachment []byte) Message {
	return Message{
		ID:         uuid.New(),
		Role:       RoleUser,
		Text:       text,
		Timestamp:  time.Now().UTC(),
		Attachment: attachment,
	}
}

// NewAmbientMessage creates an assistant message carrying a precomputed
// suggestion answer.
func NewAmbientMessage(answer string) Message {
	return Message{
		ID:        uuid.New(),
		Role:      RoleAssistant,
		Text:      answer,
		Timestamp: time.Now().UTC(),
		Ambient:   true,
	}
}

// Session is one conversation. A session is mutable only while it is the
// manager's active session; persisted sessions are snapshots.
type Session struct {
	// ID is the session identity, used for upsert-by-id persistence.
	ID uuid.UUID `json:"id"`

	// Messages is the ordered transcript, oldest first.
	Messages []Message `json:"messages"`

	// CreatedAt orders sessions newest-first in the history list.
	CreatedAt time.Time `json:"createdAt"`
}

// NewSession creates an empty session with a fresh ID.
func NewSession() *Session {
	return &Session{
		ID:        uuid.New(),
		CreatedAt: time.Now().UTC(),
	}
}

// Find returns a pointer to the message with the given ID, or nil.
// The pointer aliases the session's backing array; callers mutating through
// it must hold the session owner's serialization domain.
func (s *Session) Find(id uuid.UUID) *Message {
	for i := range s.Messages {
		if s.Messages[i].ID == id {
			return &s.Messages[i]
		}
	}
	return nil
}

// Empty reports whether the session has no messages.
func (s *Session) Empty() bool {
	return len(s.Messages) == 0
}

// Clone returns a deep copy of the session, suitable for handing to a store
// or across the UI boundary without sharing mutable backing arrays.
func (s *Session) Clone() Session {
	cp := Session{ID: s.ID, CreatedAt: s.CreatedAt}
	if s.Messages != nil {
		cp.Messages = make([]Message, len(s.Messages))
		copy(cp.Messages, s.Messages)
		for i := range cp.Messages {
			if a := s.Messages[i].Attachment; a != nil {
				cp.Messages[i].Attachment = append([]byte(nil), a...)
			}
		}
	}
	return cp
}
