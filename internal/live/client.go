// Package live is a client for the Gemini Live bidirectional streaming API.
// One Session carries 16 kHz PCM16 microphone audio up and receives 24 kHz
// PCM16 speech, transcriptions and turn signals down over a websocket.
package live

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/live-voice-lab/internal/logging"
)

const (
	DefaultURL          = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
	DefaultModel        = "gemini-2.5-flash-native-audio-preview-09-2025"
	DefaultVoice        = "Zephyr"
	DefaultInputRate    = 16000
	defaultSetupTimeout = 10 * time.Second
	defaultWriteTimeout = 5 * time.Second
)

var (
	// ErrNotReady is returned by sends issued before setupComplete arrives.
	ErrNotReady = errors.New("live session not ready")
	// ErrClosed is returned by sends on a closed session.
	ErrClosed = errors.New("live session closed")
	// ErrSetupTimeout is reported when the server never acknowledges setup.
	ErrSetupTimeout = errors.New("live setup timed out")
)

// Handler receives session events. Calls are made sequentially from the
// session's receive goroutine.
type Handler interface {
	OnOpen()
	OnAudio(pcm []byte)
	OnInputTranscript(text string, final bool)
	OnOutputTranscript(text string)
	OnInterrupted()
	OnTurnComplete()
	OnError(err error)
	OnClose()
}

// Channel is the outbound half of an open session.
type Channel interface {
	SendAudio(ctx context.Context, pcm []byte) error
	SendText(ctx context.Context, text string) error
	Close() error
}

// Config configures a Dialer.
type Config struct {
	URL               string
	APIKey            string
	Model             string
	Voice             string
	SystemInstruction string
	InputSampleRate   int
	SetupTimeout      time.Duration
	WriteTimeout      time.Duration
}

func (c *Config) applyDefaults() {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Voice == "" {
		c.Voice = DefaultVoice
	}
	if c.InputSampleRate <= 0 {
		c.InputSampleRate = DefaultInputRate
	}
	if c.SetupTimeout <= 0 {
		c.SetupTimeout = defaultSetupTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
}

// Dialer opens Live sessions.
type Dialer struct {
	cfg    Config
	dialer *websocket.Dialer
}

// NewDialer returns a Dialer with defaults filled in.
func NewDialer(cfg Config) *Dialer {
	cfg.applyDefaults()
	return &Dialer{cfg: cfg, dialer: &websocket.Dialer{HandshakeTimeout: cfg.SetupTimeout}}
}

// Connect dials the endpoint and sends the setup message. It returns once
// the socket is up; OnOpen fires later, when the server acknowledges setup.
// Failures after Connect returns are reported through OnError.
func (d *Dialer) Connect(ctx context.Context, h Handler) (Channel, error) {
	u, err := url.Parse(d.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse live url: %w", err)
	}
	if d.cfg.APIKey != "" {
		q := u.Query()
		q.Set("key", d.cfg.APIKey)
		u.RawQuery = q.Encode()
	}
	conn, resp, err := d.dialer.DialContext(ctx, u.String(), http.Header{})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial live endpoint: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial live endpoint: %w", err)
	}

	s := &Session{
		conn:         conn,
		h:            h,
		inputMime:    fmt.Sprintf("audio/pcm;rate=%d", d.cfg.InputSampleRate),
		writeTimeout: d.cfg.WriteTimeout,
		done:         make(chan struct{}),
	}
	if err := s.write(ctx, clientMessage{Setup: d.buildSetup()}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send setup: %w", err)
	}
	s.setupTimer = time.AfterFunc(d.cfg.SetupTimeout, s.setupExpired)
	go s.receiveLoop()
	return s, nil
}

func (d *Dialer) buildSetup() *setup {
	model := d.cfg.Model
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}
	st := &setup{
		Model: model,
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: &speechConfig{VoiceConfig: voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: d.cfg.Voice},
			}},
		},
		InputAudioTranscription:  &struct{}{},
		OutputAudioTranscription: &struct{}{},
	}
	if d.cfg.SystemInstruction != "" {
		st.SystemInstruction = &content{Parts: []part{{Text: d.cfg.SystemInstruction}}}
	}
	return st
}

// Session is one open Live connection.
type Session struct {
	conn         *websocket.Conn
	h            Handler
	inputMime    string
	writeTimeout time.Duration
	setupTimer   *time.Timer

	writeMu sync.Mutex

	mu     sync.Mutex
	ready  bool
	closed bool
	failed error
	done   chan struct{}
}

// Ready reports whether setup has completed.
func (s *Session) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready && !s.closed
}

// Done is closed when the receive loop exits.
func (s *Session) Done() <-chan struct{} { return s.done }

// SendAudio streams one chunk of little-endian PCM16 at the input rate.
func (s *Session) SendAudio(ctx context.Context, pcm []byte) error {
	if err := s.checkSendable(); err != nil {
		return err
	}
	return s.write(ctx, clientMessage{RealtimeInput: &realtimeInput{Audio: &blob{
		MimeType: s.inputMime,
		Data:     base64.StdEncoding.EncodeToString(pcm),
	}}})
}

// SendText injects a complete user turn as text.
func (s *Session) SendText(ctx context.Context, text string) error {
	if err := s.checkSendable(); err != nil {
		return err
	}
	return s.write(ctx, clientMessage{ClientContent: &clientContent{
		Turns:        []content{{Role: "user", Parts: []part{{Text: text}}}},
		TurnComplete: true,
	}})
}

// Close shuts the socket. It is safe to call more than once and from inside
// a Handler callback; OnClose is not invoked for a locally initiated close.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	if s.setupTimer != nil {
		s.setupTimer.Stop()
	}

	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.writeMu.Unlock()
	return s.conn.Close()
}

func (s *Session) checkSendable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if !s.ready {
		return ErrNotReady
	}
	return nil
}

func (s *Session) write(ctx context.Context, msg clientMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal live message: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	deadline := time.Now().Add(s.writeTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = s.conn.SetWriteDeadline(deadline)
	defer s.conn.SetWriteDeadline(time.Time{})
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Session) setupExpired() {
	s.mu.Lock()
	if s.ready || s.closed {
		s.mu.Unlock()
		return
	}
	s.failed = ErrSetupTimeout
	s.mu.Unlock()
	// Unblocks ReadMessage; the receive loop reports the failure.
	_ = s.conn.Close()
}

func (s *Session) receiveLoop() {
	defer close(s.done)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.finish(err)
			return
		}
		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logging.Warnw("live: dropping undecodable message", "error", err, "bytes", len(data))
			continue
		}
		if !s.dispatch(&msg) {
			return
		}
	}
}

// dispatch delivers one server message. It returns false when the session
// has been torn down by the message.
func (s *Session) dispatch(msg *serverMessage) bool {
	if msg.Error != nil {
		s.finish(fmt.Errorf("%s", serverErrorText(msg.Error)))
		_ = s.conn.Close()
		return false
	}
	if msg.SetupComplete != nil {
		s.mu.Lock()
		already := s.ready
		s.ready = true
		closed := s.closed
		s.mu.Unlock()
		if s.setupTimer != nil {
			s.setupTimer.Stop()
		}
		if !already && !closed {
			s.h.OnOpen()
		}
	}
	if msg.GoAway != nil {
		logging.Infow("live: server requested disconnect", "time_left", msg.GoAway.TimeLeft)
	}
	sc := msg.ServerContent
	if sc == nil {
		return true
	}
	if sc.InputTranscription != nil && (sc.InputTranscription.Text != "" || sc.InputTranscription.Finished) {
		s.h.OnInputTranscript(sc.InputTranscription.Text, sc.InputTranscription.Finished)
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData == nil || !strings.HasPrefix(p.InlineData.MimeType, "audio/") {
				continue
			}
			pcm, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil {
				logging.Warnw("live: bad audio payload", "error", err)
				continue
			}
			s.h.OnAudio(pcm)
		}
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		s.h.OnOutputTranscript(sc.OutputTranscription.Text)
	}
	if sc.Interrupted {
		s.h.OnInterrupted()
	}
	if sc.TurnComplete {
		s.h.OnTurnComplete()
	}
	return true
}

// finish reports how the receive loop ended. A local Close is silent; any
// other cause is surfaced as OnError (unless it was a clean remote close)
// followed by OnClose.
func (s *Session) finish(cause error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.failed != nil {
		cause = s.failed
	}
	s.mu.Unlock()
	if s.setupTimer != nil {
		s.setupTimer.Stop()
	}

	var ce *websocket.CloseError
	switch {
	case errors.As(cause, &ce) && ce.Code == websocket.CloseNormalClosure:
	case errors.As(cause, &ce) && ce.Text != "":
		s.h.OnError(errors.New(ce.Text))
	default:
		s.h.OnError(cause)
	}
	s.h.OnClose()
}

func serverErrorText(e *serverError) string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Status != "":
		return e.Status
	default:
		return fmt.Sprintf("server error %d", e.Code)
	}
}
