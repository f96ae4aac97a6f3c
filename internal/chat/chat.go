package chat

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

const DefaultTitle = "New Session"

// Message is a single turn in a session. Only Text and IsError change after creation.
type Message struct {
	ID        string `json:"id"`
	Role      Role   `json:"role"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
	IsError   bool   `json:"isError,omitempty"`
}

// Session is one persisted conversation. Messages are in display order.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	UpdatedAt int64     `json:"updatedAt"`
}

// NewID returns a time-ordered unique id.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func Millis(t time.Time) int64 { return t.UnixMilli() }

func NewSession(now time.Time) Session {
	return Session{
		ID:        NewID(),
		Title:     DefaultTitle,
		Messages:  []Message{},
		UpdatedAt: Millis(now),
	}
}

func NewMessage(role Role, text string, now time.Time) Message {
	return Message{
		ID:        NewID(),
		Role:      role,
		Text:      text,
		Timestamp: Millis(now),
	}
}

// IsPlaceholder reports whether m is an assistant message still waiting for text.
func (m Message) IsPlaceholder() bool {
	return m.Role == RoleModel && m.Text == "" && !m.IsError
}

func (s Session) Clone() Session {
	out := s
	out.Messages = make([]Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	return out
}

// MessageIndex returns the position of the message with the given id or -1.
func (s Session) MessageIndex(id string) int {
	for i := range s.Messages {
		if s.Messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (s Session) LastMessage() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}
