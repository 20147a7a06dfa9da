package main

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/live-voice-lab/internal/config"
	"github.com/live-voice-lab/internal/voice"
)

func TestRedactAny(t *testing.T) {
	var v any
	raw := `{"token":"abc","d":{"Session_ID":"s","user_id":"42","list":[{"password":"p"}]}}`
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		t.Fatal(err)
	}
	out, _ := json.Marshal(redactAny(v))
	s := string(out)
	for _, secret := range []string{`"abc"`, `"s"`, `"p"`} {
		if strings.Contains(s, secret) {
			t.Fatalf("secret %s leaked: %s", secret, s)
		}
	}
	if !strings.Contains(s, `"user_id":"42"`) {
		t.Fatalf("non-sensitive field lost: %s", s)
	}
}

func TestGatewayPayload(t *testing.T) {
	g := gatewayLogger{maxPayload: 64, redactLarge: 8}
	got := g.payload(json.RawMessage(`{"name":"0123456789abcdef"}`))
	if got != `{"name":"<redacted 16 bytes>"}` {
		t.Fatalf("unexpected payload %s", got)
	}

	g.redactLarge = 1024
	long := `{"k":"` + strings.Repeat("x", 100) + `"}`
	if got := g.payload(json.RawMessage(long)); !strings.HasSuffix(got, "<truncated 108 bytes>") {
		t.Fatalf("expected truncation, got %s", got)
	}
	if got := g.payload(json.RawMessage(`not json`)); got != "<raw data omitted>" {
		t.Fatalf("got %s", got)
	}
}

func TestValidate(t *testing.T) {
	cfg := config.Default()
	if err := validate(cfg); err == nil {
		t.Fatal("expected missing token error")
	}
	cfg.Discord.Token = "t"
	cfg.Discord.GuildID = "g"
	cfg.Discord.VoiceChannelID = "c"
	if err := validate(cfg); !errors.Is(err, config.ErrMissingAPIKey) {
		t.Fatalf("want ErrMissingAPIKey, got %v", err)
	}
	cfg.APIKey = "k"
	if err := validate(cfg); err != nil {
		t.Fatal(err)
	}
}

type fakeSpeakers struct{}

func (fakeSpeakers) LastSpeaker() (string, string) { return "1", "alice" }

type fakeStarter struct {
	mu    sync.Mutex
	calls int
	errs  []error
	sup   *supervisor
}

func (f *fakeStarter) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return err
	}
	// a started session fails once, then stays up
	if f.calls == 2 {
		go f.sup.observe(voice.Event{Kind: voice.EventError, Err: "Connection lost"})
	}
	return nil
}

func (f *fakeStarter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestSupervisorRestarts(t *testing.T) {
	sup := newSupervisor(fakeSpeakers{})
	sup.delay = time.Millisecond
	st := &fakeStarter{errs: []error{errors.New("connect failed")}, sup: sup}

	ctx, cancel := context.WithCancel(context.Background())
	var mu sync.Mutex
	var states []bool
	done := make(chan struct{})
	go func() {
		sup.loop(ctx, st, func(r bool) {
			mu.Lock()
			states = append(states, r)
			mu.Unlock()
		})
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for st.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if st.count() != 3 {
		t.Fatalf("want 3 starts, got %d", st.count())
	}
	mu.Lock()
	defer mu.Unlock()
	want := []bool{false, true, false, true}
	if len(states) != len(want) {
		t.Fatalf("ready states %v", states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("ready states %v, want %v", states, want)
		}
	}
}
