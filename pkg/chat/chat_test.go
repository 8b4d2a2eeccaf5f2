package chat

import (
	"testing"

	"github.com/google/uuid"
)

func TestNewUserMessage(t *testing.T) {
	m := NewUserMessage("hello", []byte{0xff})
	if m.Role != RoleUser {
		t.Errorf("role = %q", m.Role)
	}
	if m.ID == uuid.Nil {
		t.Error("ID not allocated")
	}
	if m.Ambient {
		t.Error("user message marked ambient")
	}
	if len(m.Attachment) != 1 {
		t.Errorf("attachment = %v", m.Attachment)
	}
}

func TestNewAmbientMessage(t *testing.T) {
	m := NewAmbientMessage("use the HPA")
	if m.Role != RoleAssistant {
		t.Errorf("role = %q", m.Role)
	}
	if !m.Ambient {
		t.Error("ambient flag not set")
	}
	if m.Text != "use the HPA" {
		t.Errorf("text = %q", m.Text)
	}
}

func TestSessionFind(t *testing.T) {
	s := NewSession()
	msg := NewUserMessage("hi", nil)
	s.Messages = append(s.Messages, msg)

	got := s.Find(msg.ID)
	if got == nil {
		t.Fatal("Find returned nil for a present message")
	}

	// The pointer aliases the slice so in-place mutation is visible.
	got.Text = "edited"
	if s.Messages[0].Text != "edited" {
		t.Error("Find did not alias the backing array")
	}

	if s.Find(uuid.New()) != nil {
		t.Error("Find returned a message for an unknown ID")
	}
}

func TestSessionClone(t *testing.T) {
	s := NewSession()
	s.Messages = append(s.Messages, NewUserMessage("hi", []byte{1, 2}))

	cp := s.Clone()
	cp.Messages[0].Text = "changed"
	cp.Messages[0].Attachment[0] = 9

	if s.Messages[0].Text != "hi" {
		t.Error("clone shares message backing array")
	}
	if s.Messages[0].Attachment[0] != 1 {
		t.Error("clone shares attachment bytes")
	}
}

func TestSessionEmpty(t *testing.T) {
	s := NewSession()
	if !s.Empty() {
		t.Error("fresh session not empty")
	}
	s.Messages = append(s.Messages, NewUserMessage("hi", nil))
	if s.Empty() {
		t.Error("session with a message reported empty")
	}
}
