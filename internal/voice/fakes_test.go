package voice

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/live-voice-lab/internal/audio"
	"github.com/live-voice-lab/internal/live"
)

type fakeMic struct {
	mu      sync.Mutex
	err     error
	onFrame func([]float32)
	opened  int
	closed  atomic.Int32
}

func (m *fakeMic) Open(ctx context.Context, sampleRate, frameSize int, onFrame func([]float32)) (audio.Capture, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.opened++
	m.onFrame = onFrame
	return &fakeCapture{m: m}, nil
}

func (m *fakeMic) push(samples []float32) {
	m.mu.Lock()
	fn := m.onFrame
	m.mu.Unlock()
	if fn != nil {
		fn(samples)
	}
}

func (m *fakeMic) setErr(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

type fakeCapture struct{ m *fakeMic }

func (c *fakeCapture) Close() error { c.m.closed.Add(1); return nil }

type scheduled struct {
	samples []int16
	at      time.Duration
	onEnded func()
	stopped atomic.Bool
}

func (u *scheduled) Stop() { u.stopped.Store(true) }

// fakeOutput has a manual clock and never calls onEnded on its own.
type fakeOutput struct {
	mu     sync.Mutex
	now    time.Duration
	units  []*scheduled
	err    error
	closed atomic.Int32
}

func (o *fakeOutput) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

func (o *fakeOutput) setNow(d time.Duration) {
	o.mu.Lock()
	o.now = d
	o.mu.Unlock()
}

func (o *fakeOutput) Schedule(samples []int16, at time.Duration, onEnded func()) (audio.Playback, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	u := &scheduled{samples: samples, at: at, onEnded: onEnded}
	o.units = append(o.units, u)
	return u, nil
}

func (o *fakeOutput) Close() error { o.closed.Add(1); return nil }

func (o *fakeOutput) unit(i int) *scheduled {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.units[i]
}

func (o *fakeOutput) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.units)
}

// finish plays unit i to its end.
func (o *fakeOutput) finish(i int) {
	u := o.unit(i)
	if !u.stopped.Load() && u.onEnded != nil {
		u.onEnded()
	}
}

type fakeSpeaker struct {
	out *fakeOutput
	err error
}

func (s *fakeSpeaker) Open(sampleRate int) (audio.Output, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.out, nil
}

type fakeChannel struct {
	audioSends atomic.Int32
	texts      chan string
	sendErr    error
	closed     atomic.Int32
}

func (c *fakeChannel) SendAudio(ctx context.Context, pcm []byte) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	c.audioSends.Add(1)
	return nil
}

func (c *fakeChannel) SendText(ctx context.Context, text string) error {
	c.texts <- text
	return nil
}

func (c *fakeChannel) Close() error { c.closed.Add(1); return nil }

type fakeEndpoint struct {
	mu       sync.Mutex
	err      error
	handlers []live.Handler
	channels []*fakeChannel
	sendErr  error
}

func (e *fakeEndpoint) Connect(ctx context.Context, h live.Handler) (live.Channel, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	ch := &fakeChannel{texts: make(chan string, 4), sendErr: e.sendErr}
	e.handlers = append(e.handlers, h)
	e.channels = append(e.channels, ch)
	return ch, nil
}

func (e *fakeEndpoint) handler() live.Handler {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handlers[len(e.handlers)-1]
}

func (e *fakeEndpoint) channel() *fakeChannel {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.channels[len(e.channels)-1]
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) observe(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) of(kind EventKind) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, ev := range l.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (l *eventLog) statuses() string {
	var parts []string
	for _, ev := range l.of(EventStatus) {
		parts = append(parts, ev.Status.String())
	}
	return strings.Join(parts, ",")
}

type rig struct {
	engine *Engine
	mic    *fakeMic
	out    *fakeOutput
	spk    *fakeSpeaker
	ep     *fakeEndpoint
	log    *eventLog
}

func newRig(t *testing.T, cfg Config) *rig {
	t.Helper()
	r := &rig{
		mic: &fakeMic{},
		out: &fakeOutput{},
		ep:  &fakeEndpoint{},
		log: &eventLog{},
	}
	r.spk = &fakeSpeaker{out: r.out}
	r.engine = New(Options{
		Config:     cfg,
		Microphone: r.mic,
		Speaker:    r.spk,
		Endpoint:   r.ep,
		Observer:   r.log.observe,
	})
	t.Cleanup(func() { _ = r.engine.Close() })
	return r
}

// open starts a session and confirms the channel.
func (r *rig) open(t *testing.T) live.Handler {
	t.Helper()
	if err := r.engine.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h := r.ep.handler()
	h.OnOpen()
	if st := r.engine.Status(); st != StatusListening {
		t.Fatalf("status after open: want=listening got=%s", st)
	}
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func loudFrame(n int) []float32 {
	f := make([]float32, n)
	for i := range f {
		if i%2 == 0 {
			f[i] = 0.2
		} else {
			f[i] = -0.2
		}
	}
	return f
}

func quietFrame(n int) []float32 { return make([]float32, n) }

// chunk returns PCM16 bytes for n samples (n/24 ms at 24 kHz).
func chunk(n int) []byte { return make([]byte, n*2) }

var errBoom = errors.New("boom")

// gatedMic blocks Open until release is closed.
type gatedMic struct {
	fakeMic
	entered chan struct{}
	release chan struct{}
}

func newGatedMic() *gatedMic {
	return &gatedMic{entered: make(chan struct{}), release: make(chan struct{})}
}

func (m *gatedMic) Open(ctx context.Context, sampleRate, frameSize int, onFrame func([]float32)) (audio.Capture, error) {
	close(m.entered)
	<-m.release
	return m.fakeMic.Open(ctx, sampleRate, frameSize, onFrame)
}
