// Package app wires the voice engine to chat, tools, history and events.
// The Assistant observes engine events, runs finalized utterances through
// the tool dispatcher and answers typed messages with spoken replies.
package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/live-voice-lab/internal/chat"
	"github.com/live-voice-lab/internal/events"
	"github.com/live-voice-lab/internal/history"
	"github.com/live-voice-lab/internal/logging"
	"github.com/live-voice-lab/internal/metrics"
	"github.com/live-voice-lab/internal/tools"
	"github.com/live-voice-lab/internal/voice"
)

// Engine is the part of *voice.Engine the assistant drives.
type Engine interface {
	AcknowledgeFinalTranscript()
	SendText(ctx context.Context, text string) error
	Suppress()
	Resume()
}

// Dispatcher runs tools for an utterance. *tools.Dispatcher satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, text string) *tools.Result
}

// Speaker plays a reply aloud. *chat.Voice satisfies it.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

type Options struct {
	Chat        chat.Service
	ChatBackend string
	Speaker     Speaker
	Dispatcher  Dispatcher
	History     *history.Service
	Events      *events.Publisher
	Metrics     *metrics.Metrics
	// Wake, when set, drops utterances that do not start with a wake phrase.
	Wake *WakeGate
	// Display receives every engine event before the assistant handles it.
	Display func(voice.Event)
}

type Assistant struct {
	opts    Options
	history *history.Service

	mu     sync.Mutex
	engine Engine

	utterances chan voice.Event
}

func New(opts Options) *Assistant {
	h := opts.History
	if h == nil {
		h = history.NewService(nil)
	}
	return &Assistant{opts: opts, history: h, utterances: make(chan voice.Event, 8)}
}

// AttachEngine sets the engine after it was built with HandleEvent as its
// observer.
func (a *Assistant) AttachEngine(e Engine) {
	a.mu.Lock()
	a.engine = e
	a.mu.Unlock()
}

func (a *Assistant) getEngine() Engine {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.engine
}

// History exposes the conversation store.
func (a *Assistant) History() *history.Service { return a.history }

// HandleEvent is the engine observer. Utterances are queued for Run.
func (a *Assistant) HandleEvent(ev voice.Event) {
	if a.opts.Display != nil {
		a.opts.Display(ev)
	}
	switch ev.Kind {
	case voice.EventUtterance:
		select {
		case a.utterances <- ev:
		default:
			logging.Warnw("app: utterance queue full, dropping", logging.UtteranceFields(ev.SessionID, ev.UtteranceID)...)
			if e := a.getEngine(); e != nil {
				e.AcknowledgeFinalTranscript()
			}
		}
	case voice.EventAssistantTurn:
		a.recordVoiceReply(ev)
	case voice.EventError:
		logging.Errorw("app: voice session error", append(logging.SessionFields(ev.SessionID), "error", ev.Err)...)
	case voice.EventStatus:
		logging.Debugw("app: voice status", append(logging.SessionFields(ev.SessionID), "status", ev.Status.String())...)
	}
}

// Run processes finalized utterances until ctx is done.
func (a *Assistant) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-a.utterances:
			a.handleUtterance(ctx, ev)
		}
	}
}

func (a *Assistant) handleUtterance(ctx context.Context, ev voice.Event) {
	eng := a.getEngine()
	if eng != nil {
		eng.AcknowledgeFinalTranscript()
	}
	ctx = logging.WithFields(ctx, logging.UtteranceFields(ev.SessionID, ev.UtteranceID)...)
	text := ev.Text
	if a.opts.Wake != nil {
		ok, stripped := a.opts.Wake.Detect(text)
		if !ok {
			logging.DebugwCtx(ctx, "app: no wake phrase, ignoring utterance")
			return
		}
		if stripped != "" {
			text = stripped
		}
	}
	if _, err := a.history.AddMessage(ctx, history.RoleUser, text); err != nil {
		logging.WarnwCtx(ctx, "app: persist utterance failed", "error", err)
	}

	var tool string
	if res := a.dispatch(ctx, text); res != nil {
		tool = res.Tool
		if eng != nil {
			if err := eng.SendText(ctx, res.Prompt(text)); err != nil {
				logging.WarnwCtx(ctx, "app: inject tool result failed", "tool", res.Tool, "error", err)
			}
		}
		if _, err := a.history.AddMessage(ctx, history.RoleSystem, res.Prompt(text), toolCall(res)); err != nil {
			logging.WarnwCtx(ctx, "app: persist tool call failed", "error", err)
		}
	}
	a.publishUtterance(ctx, ev, text, tool)
}

func (a *Assistant) dispatch(ctx context.Context, text string) *tools.Result {
	if a.opts.Dispatcher == nil {
		return nil
	}
	return a.opts.Dispatcher.Dispatch(ctx, text)
}

func toolCall(res *tools.Result) history.ToolCall {
	tc := history.ToolCall{Tool: res.Tool, Args: res.Args}
	if res.OK() {
		tc.Result = res.Data
	} else {
		tc.Result = map[string]string{"error": tools.ErrorMessage(res.Err)}
	}
	return tc
}

func (a *Assistant) recordVoiceReply(ev voice.Event) {
	if ev.Text == "" {
		return
	}
	ctx := context.Background()
	if _, err := a.history.AddMessage(ctx, history.RoleAssistant, ev.Text); err != nil {
		logging.Warnw("app: persist voice reply failed", "error", err)
	}
	a.publishReply(ctx, "voice", ev.Text, "", nil)
}

// Chat answers a typed message. The reply, or a spoken apology when the
// chat backend fails, is persisted and played through the Speaker. The
// returned error is the chat failure, if any.
func (a *Assistant) Chat(ctx context.Context, text string) (string, error) {
	if a.opts.Chat == nil {
		return "", errors.New("chat backend not configured")
	}
	if _, err := a.history.AddMessage(ctx, history.RoleUser, text); err != nil {
		logging.WarnwCtx(ctx, "app: persist chat message failed", "error", err)
	}

	prompt := text
	var calls []history.ToolCall
	var tool string
	if res := a.dispatch(ctx, text); res != nil {
		prompt = res.Prompt(text)
		tool = res.Tool
		calls = append(calls, toolCall(res))
	}

	start := time.Now()
	reply, chatErr := a.opts.Chat.Send(ctx, prompt)
	a.opts.Metrics.RecordChat(a.opts.ChatBackend, chatErr, time.Since(start).Seconds())
	if chatErr != nil {
		logging.WarnwCtx(ctx, "app: chat failed", "backend", a.opts.ChatBackend, "error", chatErr)
		reply = chat.ErrorReply(chatErr)
	}
	if _, err := a.history.AddMessage(ctx, history.RoleAssistant, reply, calls...); err != nil {
		logging.WarnwCtx(ctx, "app: persist reply failed", "error", err)
	}
	a.publishReply(ctx, "chat", reply, tool, chatErr)

	if a.opts.Speaker != nil {
		if err := a.opts.Speaker.Speak(ctx, reply); err != nil {
			logging.WarnwCtx(ctx, "app: speak reply failed", "error", err)
		}
	}
	return reply, chatErr
}

// ResetChat starts a fresh chat context and a new conversation.
func (a *Assistant) ResetChat(ctx context.Context) error {
	if a.opts.Chat != nil {
		a.opts.Chat.Reset()
	}
	_, err := a.history.Create(ctx, "")
	return err
}

func (a *Assistant) publishUtterance(ctx context.Context, ev voice.Event, text, tool string) {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	_ = a.opts.Events.PublishUtterance(ctx, events.UtteranceEvent{
		SessionID:   ev.SessionID,
		UtteranceID: ev.UtteranceID,
		Text:        text,
		Trigger:     ev.Trigger,
		Tool:        tool,
		Timestamp:   at,
	})
}

func (a *Assistant) publishReply(ctx context.Context, source, text, tool string, err error) {
	ev := events.ReplyEvent{Source: source, Text: text, Tool: tool, Timestamp: time.Now()}
	if c, _ := a.history.Current(ctx); c != nil {
		ev.ConversationID = c.ID
	}
	if err != nil {
		ev.Error = err.Error()
	}
	_ = a.opts.Events.PublishReply(ctx, ev)
}
