package voice

import (
	"context"
	"errors"
	"time"

	"github.com/live-voice-lab/internal/audio"
	"github.com/live-voice-lab/internal/live"
	"github.com/live-voice-lab/internal/metrics"
)

// Status is the engine's session state.
type Status int

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusListening
	StatusSpeaking
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusListening:
		return "listening"
	case StatusSpeaking:
		return "speaking"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

var (
	// ErrSessionActive is returned by Start outside idle or error.
	ErrSessionActive = errors.New("voice session already active")
	// ErrNotListening is returned by SendText when no session is open.
	ErrNotListening = errors.New("voice session not open")
	// ErrEngineClosed is returned after Close.
	ErrEngineClosed = errors.New("voice engine closed")
	// ErrStartAborted is returned by Start when Stop ran while it was opening devices.
	ErrStartAborted = errors.New("voice session stopped while starting")
)

// EventKind identifies an Event.
type EventKind int

const (
	// EventStatus carries every status transition.
	EventStatus EventKind = iota
	// EventInterim carries the in-progress utterance text (empty when cleared).
	EventInterim
	// EventUtterance carries a finalized utterance waiting for acknowledgment.
	EventUtterance
	// EventError carries a session-fatal error message.
	EventError
	// EventAssistantTurn carries the assistant's transcribed reply at end of turn.
	EventAssistantTurn
	// EventInterrupted reports a barge-in that discarded queued playback.
	EventInterrupted
)

func (k EventKind) String() string {
	switch k {
	case EventStatus:
		return "status"
	case EventInterim:
		return "interim"
	case EventUtterance:
		return "utterance"
	case EventError:
		return "error"
	case EventAssistantTurn:
		return "assistant_turn"
	case EventInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Event is an observable engine change. Events are delivered in the order
// they happened, from a single goroutine.
type Event struct {
	Kind        EventKind
	SessionID   string
	Status      Status
	Text        string
	UtteranceID string
	Trigger     string
	Err         string
	At          time.Time
}

// Observer receives engine events. It must not call Close.
type Observer func(Event)

// Endpoint opens the remote conversational-audio channel.
type Endpoint interface {
	Connect(ctx context.Context, h live.Handler) (live.Channel, error)
}

// Config holds the engine's tuning constants.
type Config struct {
	InputSampleRate  int
	OutputSampleRate int
	FrameSize        int
	VADThreshold     float64
	SilenceTimeout   time.Duration
	SendQueue        int
	SendTimeout      time.Duration
}

// DefaultConfig returns 16 kHz in, 24 kHz out, 4096-sample frames, an RMS
// threshold of 0.008 and a 1.5 s silence timeout.
func DefaultConfig() Config {
	return Config{
		InputSampleRate:  16000,
		OutputSampleRate: 24000,
		FrameSize:        4096,
		VADThreshold:     0.008,
		SilenceTimeout:   1500 * time.Millisecond,
		SendQueue:        32,
		SendTimeout:      2 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.InputSampleRate <= 0 {
		c.InputSampleRate = d.InputSampleRate
	}
	if c.OutputSampleRate <= 0 {
		c.OutputSampleRate = d.OutputSampleRate
	}
	if c.FrameSize <= 0 {
		c.FrameSize = d.FrameSize
	}
	if c.VADThreshold <= 0 {
		c.VADThreshold = d.VADThreshold
	}
	if c.SilenceTimeout <= 0 {
		c.SilenceTimeout = d.SilenceTimeout
	}
	if c.SendQueue <= 0 {
		c.SendQueue = d.SendQueue
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = d.SendTimeout
	}
	return c
}

// Options wires the engine's collaborators.
type Options struct {
	Config     Config
	Microphone audio.Microphone
	Speaker    audio.Speaker
	Endpoint   Endpoint
	Observer   Observer
	Metrics    *metrics.Metrics
}

// Snapshot is a consistent read of the engine's derived state.
type Snapshot struct {
	SessionID      string
	Status         Status
	Err            string
	Interim        string
	Final          string
	FinalID        string
	Suppressed     bool
	ActivePlayback int
	NextStart      time.Duration
	TimerPending   bool
	StartedAt      time.Time
}
