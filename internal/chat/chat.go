// Package chat holds the typed-chat backends and the text-to-speech path
// used for spoken replies outside the live session.
package chat

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrPermanent marks failures that retrying will not fix (bad key,
	// bad request).
	ErrPermanent = errors.New("permanent error")
	// ErrTransient marks network failures, rate limits and 5xx responses.
	ErrTransient = errors.New("transient error")
)

// Service is a multi-turn text conversation.
type Service interface {
	// Send appends text as a user turn and returns the model's reply.
	Send(ctx context.Context, text string) (string, error)
	// Reset drops the conversation so the next Send starts fresh.
	Reset()
}

// Message is one turn of chat history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// classifyStatus wraps an HTTP status into ErrTransient or ErrPermanent.
func classifyStatus(status int, detail string) error {
	if status == 429 || status >= 500 {
		return fmt.Errorf("%w: status %d: %s", ErrTransient, status, detail)
	}
	return fmt.Errorf("%w: status %d: %s", ErrPermanent, status, detail)
}

// ErrorReply is what the assistant says when a chat turn fails.
func ErrorReply(err error) string {
	return fmt.Sprintf("Sorry, I encountered an error: %s", err.Error())
}
