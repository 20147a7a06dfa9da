// Package history stores assistant conversations. A Service tracks the
// current conversation on top of a Store (memory or redis).
package history

import (
	"context"
	"errors"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

var (
	ErrNotFound    = errors.New("conversation not found")
	ErrInvalidID   = errors.New("invalid conversation id")
	ErrInvalidRole = errors.New("invalid message role")
)

// ToolCall records a tool the assistant ran while answering.
type ToolCall struct {
	Tool   string         `json:"tool"`
	Args   map[string]any `json:"args"`
	Result any            `json:"result,omitempty"`
}

type Message struct {
	ID        string     `json:"id"`
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	Timestamp time.Time  `json:"timestamp"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c *Conversation) clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.Messages = make([]Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	return &out
}

// Store persists whole conversations.
type Store interface {
	Save(ctx context.Context, c *Conversation) error
	Load(ctx context.Context, id string) (*Conversation, error)
	Delete(ctx context.Context, id string) error
	// List returns conversations, most recently updated first.
	List(ctx context.Context) ([]*Conversation, error)
	Clear(ctx context.Context) error
}
