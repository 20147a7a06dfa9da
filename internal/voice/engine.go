// Package voice implements the live voice session engine: microphone capture
// with amplitude VAD, streaming to a remote conversational-audio endpoint,
// gapless playback of the assistant's audio, barge-in handling and
// silence-based utterance finalization.
package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/live-voice-lab/internal/audio"
	"github.com/live-voice-lab/internal/live"
	"github.com/live-voice-lab/internal/logging"
	"github.com/live-voice-lab/internal/metrics"
)

// Engine owns at most one live voice session at a time. All methods are
// safe for concurrent use.
type Engine struct {
	cfg     Config
	mic     audio.Microphone
	spk     audio.Speaker
	ep      Endpoint
	metrics *metrics.Metrics
	notify  *notifier

	mu       sync.Mutex
	sess     *session
	status   Status
	errMsg   string
	interim  string
	final    string
	finalID  string
	external bool // suppression requested by the outer application
	closed   bool
}

// New builds an engine from its collaborators.
func New(opts Options) *Engine {
	return &Engine{
		cfg:     opts.Config.withDefaults(),
		mic:     opts.Microphone,
		spk:     opts.Speaker,
		ep:      opts.Endpoint,
		metrics: opts.Metrics,
		notify:  newNotifier(opts.Observer),
	}
}

// Status returns the current session state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Err returns the last session-fatal error message, or "".
func (e *Engine) Err() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.errMsg
}

// InterimTranscript returns the utterance text accumulated so far.
func (e *Engine) InterimTranscript() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.interim
}

// FinalTranscript returns the finalized utterance awaiting acknowledgment.
func (e *Engine) FinalTranscript() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.final
}

// Snapshot returns all derived state under one lock.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := Snapshot{
		Status:  e.status,
		Err:     e.errMsg,
		Interim: e.interim,
		Final:   e.final,
		FinalID: e.finalID,
	}
	if s := e.sess; s != nil {
		snap.SessionID = s.id
		snap.StartedAt = s.startedAt
		snap.Suppressed = e.suppressedLocked(s)
		snap.ActivePlayback = len(s.active)
		snap.NextStart = s.nextStart
		snap.TimerPending = s.timer != nil
	} else {
		snap.Suppressed = e.external
	}
	return snap
}

// Start begins a session. It is valid from idle or error. The status moves
// to connecting immediately and to listening once the remote channel
// confirms open. Device or connection failures leave the engine in error
// with a readable message and are also returned. An unacknowledged
// finalized utterance stays in its slot across Stop and Start; utterances
// of the new session wait behind it.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEngineClosed
	}
	if e.status != StatusIdle && e.status != StatusError {
		e.mu.Unlock()
		return ErrSessionActive
	}
	s := newSession(e.cfg)
	e.sess = s
	e.errMsg = ""
	e.interim = ""
	e.external = false
	e.setStatusLocked(s, StatusConnecting)
	e.mu.Unlock()

	e.metrics.RecordSessionStart()
	logging.InfowCtx(ctx, "voice session starting", logging.SessionFields(s.id)...)

	capture, err := e.mic.Open(s.ctx, e.cfg.InputSampleRate, e.cfg.FrameSize, func(samples []float32) {
		e.onFrame(s, samples)
	})
	if err != nil {
		return e.failStart(s, "microphone", err)
	}
	if !e.attach(s, func() { s.capture = capture }) {
		_ = capture.Close()
		return ErrStartAborted
	}

	output, err := e.spk.Open(e.cfg.OutputSampleRate)
	if err != nil {
		return e.failStart(s, "output", err)
	}
	if !e.attach(s, func() { s.output = output }) {
		_ = output.Close()
		return ErrStartAborted
	}

	ch, err := e.ep.Connect(s.ctx, &sessionHandler{e: e, s: s})
	if err != nil {
		return e.failStart(s, "connect", err)
	}
	if !e.attach(s, func() {
		s.channel = ch
		go e.sendLoop(s, ch)
	}) {
		_ = ch.Close()
		return ErrStartAborted
	}
	return nil
}

// attach runs fn under the lock if s is still the current session.
func (e *Engine) attach(s *session, fn func()) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess != s {
		return false
	}
	fn()
	return true
}

func (e *Engine) failStart(s *session, stage string, err error) error {
	msg := "Failed to start: " + err.Error()
	if stage == "connect" {
		msg = "Connection error: " + err.Error()
	}
	reason := stage
	if errors.Is(err, audio.ErrPermissionDenied) {
		reason = "permission_denied"
	}
	if !e.fail(s, msg, reason) {
		return ErrStartAborted
	}
	return fmt.Errorf("start voice session (%s): %w", stage, err)
}

// Stop ends the current session from any state and leaves the engine idle.
// Capture, playback, timers and the remote channel are all released before
// it returns. Calling Stop while idle does nothing.
func (e *Engine) Stop() {
	e.mu.Lock()
	s := e.sess
	if s == nil && e.status == StatusIdle {
		e.mu.Unlock()
		return
	}
	e.sess = nil
	var res resources
	if s != nil {
		res = e.detachLocked(s)
	}
	e.interim = ""
	e.errMsg = ""
	e.external = false
	e.setStatusLocked(s, StatusIdle)
	e.mu.Unlock()

	if s != nil {
		res.release(s.id)
		e.metrics.RecordSessionEnd("", time.Since(s.startedAt).Seconds())
		logging.Infow("voice session stopped", logging.SessionFields(s.id)...)
	}
}

// Close stops any active session and shuts the event dispatcher down after
// delivering queued events. The engine cannot be restarted.
func (e *Engine) Close() error {
	e.Stop()
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.notify.close()
	return nil
}

// AcknowledgeFinalTranscript clears the finalized-utterance slot. A held
// back utterance, if any, is finalized right after. Calling it with an empty
// slot is a no-op.
func (e *Engine) AcknowledgeFinalTranscript() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.final == "" {
		return
	}
	e.final = ""
	e.finalID = ""
	if s := e.sess; s != nil && s.deferred != "" {
		trigger := s.deferred
		s.deferred = ""
		e.finalizeLocked(s, trigger)
	}
}

// Suppress withholds microphone audio while the outer application plays
// speech through another path.
func (e *Engine) Suppress() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.external = true
}

// Resume undoes Suppress. Suppression caused by assistant playback still
// applies until that playback ends.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.external = false
}

// SendText injects a text turn into the open session.
func (e *Engine) SendText(ctx context.Context, text string) error {
	e.mu.Lock()
	s := e.sess
	if s == nil || !s.open || s.channel == nil {
		e.mu.Unlock()
		return ErrNotListening
	}
	ch := s.channel
	e.mu.Unlock()
	return ch.SendText(ctx, text)
}

// fail moves s to error with msg and tears it down. It reports false when s
// was already stale.
func (e *Engine) fail(s *session, msg, reason string) bool {
	e.mu.Lock()
	if e.sess != s {
		e.mu.Unlock()
		return false
	}
	e.sess = nil
	res := e.detachLocked(s)
	e.interim = ""
	e.external = false
	e.errMsg = msg
	e.setStatusLocked(s, StatusError)
	e.emitLocked(Event{Kind: EventError, SessionID: s.id, Status: StatusError, Err: msg})
	e.mu.Unlock()

	res.release(s.id)
	e.metrics.RecordSessionEnd(reason, time.Since(s.startedAt).Seconds())
	logging.Warnw("voice session failed", append(logging.SessionFields(s.id), "reason", reason, "error", msg)...)
	return true
}

func (e *Engine) setStatusLocked(s *session, st Status) {
	if e.status == st {
		return
	}
	e.status = st
	e.metrics.RecordStatus(st.String())
	ev := Event{Kind: EventStatus, Status: st}
	if s != nil {
		ev.SessionID = s.id
	}
	e.emitLocked(ev)
}

func (e *Engine) emitLocked(ev Event) {
	ev.At = time.Now()
	e.notify.publish(ev)
}

func (e *Engine) suppressedLocked(s *session) bool {
	return e.external || s.speaking
}

// session is the per-attempt context. Every callback holds the *session it
// was registered for and drops out when it is no longer e.sess.
type session struct {
	id        string
	startedAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc

	capture audio.Capture
	output  audio.Output
	channel live.Channel
	open    bool
	stopped bool

	sendq chan []byte

	nextStart  time.Duration
	active     map[uint64]audio.Playback
	nextPlayID uint64
	speaking   bool

	pending  string
	deferred string // trigger of an utterance held back until acknowledgment
	reply    string
	timer    *time.Timer
	timerGen uint64
}

func newSession(cfg Config) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		id:        uuid.NewString(),
		startedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
		sendq:     make(chan []byte, cfg.SendQueue),
		active:    make(map[uint64]audio.Playback),
	}
}

// resources are released outside the engine lock.
type resources struct {
	capture audio.Capture
	output  audio.Output
	channel live.Channel
}

func (r resources) release(sessionID string) {
	var errs []error
	if r.channel != nil {
		if err := r.channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
	}
	if r.capture != nil {
		if err := r.capture.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close capture: %w", err))
		}
	}
	if r.output != nil {
		if err := r.output.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close output: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		logging.Warnw("voice session teardown", append(logging.SessionFields(sessionID), "error", err)...)
	}
}

// detachLocked stops timers and playback, closes the send queue and hands
// the devices back for release.
func (e *Engine) detachLocked(s *session) resources {
	s.stopped = true
	s.cancel()
	e.cancelSilenceLocked(s)
	e.stopPlaybackLocked(s)
	s.speaking = false
	s.open = false
	s.pending = ""
	s.deferred = ""
	s.reply = ""
	close(s.sendq)
	res := resources{capture: s.capture, output: s.output, channel: s.channel}
	s.capture, s.output, s.channel = nil, nil, nil
	return res
}

// sessionHandler adapts remote channel callbacks to the engine.
type sessionHandler struct {
	e *Engine
	s *session
}

func (h *sessionHandler) OnOpen()                                { h.e.onOpen(h.s) }
func (h *sessionHandler) OnAudio(pcm []byte)                     { h.e.onAudio(h.s, pcm) }
func (h *sessionHandler) OnInputTranscript(t string, final bool) { h.e.onInputTranscript(h.s, t, final) }
func (h *sessionHandler) OnOutputTranscript(t string)            { h.e.onOutputTranscript(h.s, t) }
func (h *sessionHandler) OnInterrupted()                         { h.e.onInterrupted(h.s) }
func (h *sessionHandler) OnTurnComplete()                        { h.e.onTurnComplete(h.s) }

func (h *sessionHandler) OnError(err error) {
	msg := "Unknown error"
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	h.e.fail(h.s, "Connection error: "+msg, "connection")
}

func (h *sessionHandler) OnClose() {
	h.e.fail(h.s, "Connection error: session closed by remote", "remote_closed")
}

func (e *Engine) onOpen(s *session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess != s {
		return
	}
	s.open = true
	e.setStatusLocked(s, StatusListening)
	logging.Infow("voice session open", logging.SessionFields(s.id)...)
}
