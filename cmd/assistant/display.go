package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/live-voice-lab/internal/voice"
)

// console prints engine events as a transcript.
type console struct {
	mu sync.Mutex
	w  io.Writer
}

func newConsole(w io.Writer) *console { return &console{w: w} }

func (c *console) show(ev voice.Event) {
	line, ok := formatEvent(ev)
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.w, line)
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, format, args...)
}

func formatEvent(ev voice.Event) (string, bool) {
	switch ev.Kind {
	case voice.EventStatus:
		return "[" + ev.Status.String() + "]", true
	case voice.EventInterim:
		if ev.Text == "" {
			return "", false
		}
		return "  ... " + ev.Text, true
	case voice.EventUtterance:
		return "you: " + ev.Text, true
	case voice.EventAssistantTurn:
		return "assistant: " + ev.Text, true
	case voice.EventInterrupted:
		return "[interrupted]", true
	case voice.EventError:
		return "error: " + ev.Err, true
	}
	return "", false
}
