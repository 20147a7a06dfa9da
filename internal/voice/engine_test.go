package voice

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/live-voice-lab/internal/audio"
)

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.FrameSize = 256
	cfg.SilenceTimeout = 40 * time.Millisecond
	return cfg
}

func slowConfig() Config {
	cfg := DefaultConfig()
	cfg.FrameSize = 256
	cfg.SilenceTimeout = time.Hour
	return cfg
}

func TestStartConnectsThenListens(t *testing.T) {
	r := newRig(t, slowConfig())
	if err := r.engine.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if st := r.engine.Status(); st != StatusConnecting {
		t.Fatalf("status before open: want=connecting got=%s", st)
	}
	r.ep.handler().OnOpen()
	if st := r.engine.Status(); st != StatusListening {
		t.Fatalf("status after open: want=listening got=%s", st)
	}
	if err := r.engine.Start(context.Background()); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("second Start: want ErrSessionActive got %v", err)
	}
	waitFor(t, "status events", func() bool { return r.log.statuses() == "connecting,listening" })
}

func TestPermissionDeniedThenRestart(t *testing.T) {
	r := newRig(t, slowConfig())
	r.mic.setErr(audio.ErrPermissionDenied)

	err := r.engine.Start(context.Background())
	if !errors.Is(err, audio.ErrPermissionDenied) {
		t.Fatalf("Start: want ErrPermissionDenied got %v", err)
	}
	if st := r.engine.Status(); st != StatusError {
		t.Fatalf("status: want=error got=%s", st)
	}
	if msg := r.engine.Err(); !strings.Contains(msg, "denied") {
		t.Fatalf("error message should mention denial, got %q", msg)
	}
	if r.out.closed.Load() != 0 || len(r.ep.handlers) != 0 {
		t.Fatalf("nothing past the microphone should have been opened")
	}

	r.mic.setErr(nil)
	if err := r.engine.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if st := r.engine.Status(); st != StatusConnecting {
		t.Fatalf("status after restart: want=connecting got=%s", st)
	}
	if r.engine.Err() != "" {
		t.Fatalf("restart should clear the error, got %q", r.engine.Err())
	}
}

func TestConnectFailureReleasesDevices(t *testing.T) {
	r := newRig(t, slowConfig())
	r.ep.err = errBoom
	if err := r.engine.Start(context.Background()); !errors.Is(err, errBoom) {
		t.Fatalf("Start: want errBoom got %v", err)
	}
	if got := r.engine.Err(); got != "Connection error: boom" {
		t.Fatalf("error message: got %q", got)
	}
	if r.mic.closed.Load() != 1 || r.out.closed.Load() != 1 {
		t.Fatalf("capture and output must be released (capture=%d output=%d)", r.mic.closed.Load(), r.out.closed.Load())
	}
}

func TestSilenceFinalizesJoinedTranscript(t *testing.T) {
	r := newRig(t, fastConfig())
	h := r.open(t)

	h.OnInputTranscript("hello", false)
	h.OnInputTranscript(" world ", false)
	if got := r.engine.InterimTranscript(); got != "hello world" {
		t.Fatalf("interim: want=%q got=%q", "hello world", got)
	}

	waitFor(t, "finalized utterance", func() bool { return r.engine.FinalTranscript() != "" })
	if got := r.engine.FinalTranscript(); got != "hello world" {
		t.Fatalf("final: want=%q got=%q", "hello world", got)
	}
	if got := r.engine.InterimTranscript(); got != "" {
		t.Fatalf("interim must be cleared, got %q", got)
	}

	time.Sleep(100 * time.Millisecond)
	waitFor(t, "utterance event", func() bool { return len(r.log.of(EventUtterance)) == 1 })
	ev := r.log.of(EventUtterance)[0]
	if ev.Text != "hello world" || ev.Trigger != triggerSilence || ev.UtteranceID == "" {
		t.Fatalf("utterance event: %+v", ev)
	}
}

func TestFinalFragmentFinalizesImmediately(t *testing.T) {
	r := newRig(t, slowConfig())
	h := r.open(t)

	h.OnInputTranscript("turn on", false)
	if !r.engine.Snapshot().TimerPending {
		t.Fatalf("a fragment should arm the silence timer")
	}
	h.OnInputTranscript("the lights", true)
	if got := r.engine.FinalTranscript(); got != "turn on the lights" {
		t.Fatalf("final: want=%q got=%q", "turn on the lights", got)
	}
	if r.engine.Snapshot().TimerPending {
		t.Fatalf("finalization must cancel the silence timer")
	}
}

func TestSilenceWithoutTextIsNoop(t *testing.T) {
	r := newRig(t, fastConfig())
	r.open(t)

	r.mic.push(loudFrame(256))
	if !r.engine.Snapshot().TimerPending {
		t.Fatalf("voice activity should arm the silence timer")
	}
	waitFor(t, "timer expiry", func() bool { return !r.engine.Snapshot().TimerPending })
	time.Sleep(80 * time.Millisecond)
	if r.engine.Snapshot().TimerPending {
		t.Fatalf("an empty expiry must not reschedule")
	}
	if len(r.log.of(EventUtterance)) != 0 || r.engine.FinalTranscript() != "" {
		t.Fatalf("nothing should be finalized")
	}
}

func TestQuietFramesDoNotArmTimer(t *testing.T) {
	r := newRig(t, slowConfig())
	r.open(t)
	r.mic.push(quietFrame(256))
	if r.engine.Snapshot().TimerPending {
		t.Fatalf("frames under the VAD threshold must not arm the timer")
	}
}

func TestVoiceActivityPostponesFinalization(t *testing.T) {
	cfg := fastConfig()
	cfg.SilenceTimeout = 100 * time.Millisecond
	r := newRig(t, cfg)
	h := r.open(t)

	h.OnInputTranscript("still", false)
	for i := 0; i < 30; i++ {
		r.mic.push(loudFrame(256))
		time.Sleep(10 * time.Millisecond)
	}
	if got := r.engine.FinalTranscript(); got != "" {
		t.Fatalf("speech kept going, nothing should be final yet, got %q", got)
	}
	waitFor(t, "finalization after silence", func() bool { return r.engine.FinalTranscript() == "still" })
}

func TestNoFramesForwardedWhileSuppressed(t *testing.T) {
	r := newRig(t, slowConfig())
	h := r.open(t)
	ch := r.ep.channel()

	r.engine.Suppress()
	for i := 0; i < 20; i++ {
		r.mic.push(loudFrame(256))
	}

	r.engine.Resume()
	h.OnAudio(chunk(2400))
	if !r.engine.Snapshot().Suppressed {
		t.Fatalf("assistant playback must suppress the microphone")
	}
	for i := 0; i < 20; i++ {
		r.mic.push(quietFrame(256))
	}
	time.Sleep(30 * time.Millisecond)
	if n := ch.audioSends.Load(); n != 0 {
		t.Fatalf("frames forwarded while suppressed: %d", n)
	}

	r.out.finish(0)
	if r.engine.Snapshot().Suppressed {
		t.Fatalf("suppression must clear when playback ends")
	}
	r.mic.push(quietFrame(256))
	waitFor(t, "forwarded frame", func() bool { return ch.audioSends.Load() == 1 })
}

func TestFramesBeforeOpenAreDropped(t *testing.T) {
	r := newRig(t, slowConfig())
	if err := r.engine.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	r.mic.push(loudFrame(256))
	time.Sleep(20 * time.Millisecond)
	if n := r.ep.channel().audioSends.Load(); n != 0 {
		t.Fatalf("frames sent before open: %d", n)
	}
}

func TestSendFailuresAreSwallowed(t *testing.T) {
	r := newRig(t, slowConfig())
	r.ep.sendErr = errBoom
	r.open(t)
	for i := 0; i < 5; i++ {
		r.mic.push(loudFrame(256))
	}
	time.Sleep(20 * time.Millisecond)
	if st := r.engine.Status(); st != StatusListening {
		t.Fatalf("send failures must not change status, got %s", st)
	}
}

func TestPlaybackIsGaplessAndOrdered(t *testing.T) {
	r := newRig(t, slowConfig())
	h := r.open(t)

	h.OnAudio(chunk(2400)) // 100ms
	r.out.setNow(30 * time.Millisecond)
	h.OnAudio(chunk(1200)) // 50ms
	a, b := r.out.unit(0), r.out.unit(1)
	if a.at != 0 {
		t.Fatalf("first chunk: want start 0 got %v", a.at)
	}
	if b.at < a.at+audio.Duration(len(a.samples), 24000) {
		t.Fatalf("overlap: A at %v (%d samples), B at %v", a.at, len(a.samples), b.at)
	}
	if b.at != 100*time.Millisecond {
		t.Fatalf("second chunk should start exactly when the first ends, got %v", b.at)
	}

	r.out.setNow(500 * time.Millisecond)
	h.OnAudio(chunk(240))
	if c := r.out.unit(2); c.at != 500*time.Millisecond {
		t.Fatalf("a late chunk starts at the device clock, got %v", c.at)
	}
	if st := r.engine.Status(); st != StatusSpeaking {
		t.Fatalf("status: want=speaking got=%s", st)
	}
}

func TestPlaybackEndReturnsToListening(t *testing.T) {
	r := newRig(t, slowConfig())
	h := r.open(t)

	h.OnAudio(chunk(480))
	h.OnAudio(chunk(480))
	r.out.finish(0)
	if st := r.engine.Status(); st != StatusSpeaking {
		t.Fatalf("one chunk still playing, want speaking got %s", st)
	}
	r.out.finish(1)
	snap := r.engine.Snapshot()
	if snap.Status != StatusListening || snap.ActivePlayback != 0 || snap.Suppressed || !snap.TimerPending {
		t.Fatalf("after playback: %+v", snap)
	}
	waitFor(t, "status events", func() bool {
		return r.log.statuses() == "connecting,listening,speaking,listening"
	})
}

func TestInterruptStopsAllPlayback(t *testing.T) {
	r := newRig(t, slowConfig())
	h := r.open(t)

	h.OnAudio(chunk(2400))
	h.OnAudio(chunk(2400))
	r.out.setNow(50 * time.Millisecond)
	h.OnInterrupted()

	for i := 0; i < 2; i++ {
		if !r.out.unit(i).stopped.Load() {
			t.Fatalf("unit %d not stopped", i)
		}
	}
	snap := r.engine.Snapshot()
	if snap.ActivePlayback != 0 {
		t.Fatalf("active set not empty: %d", snap.ActivePlayback)
	}
	if snap.NextStart != 50*time.Millisecond {
		t.Fatalf("next start: want=50ms got=%v", snap.NextStart)
	}
	if snap.Status != StatusListening || snap.Suppressed {
		t.Fatalf("after interrupt: %+v", snap)
	}

	h.OnAudio(chunk(240))
	if c := r.out.unit(2); c.at != 50*time.Millisecond {
		t.Fatalf("next turn should start at the device clock, got %v", c.at)
	}
	if st := r.engine.Status(); st != StatusSpeaking {
		t.Fatalf("next turn should play, got %s", st)
	}
	waitFor(t, "interrupted event", func() bool { return len(r.log.of(EventInterrupted)) == 1 })
}

func TestBadChunkIsSkipped(t *testing.T) {
	r := newRig(t, slowConfig())
	h := r.open(t)
	h.OnAudio([]byte{1, 2, 3})
	if r.out.count() != 0 || r.engine.Status() != StatusListening {
		t.Fatalf("odd-length chunk must be skipped")
	}
	h.OnAudio(chunk(240))
	if r.out.count() != 1 {
		t.Fatalf("playback should continue after a bad chunk")
	}
}

func TestStopTearsEverythingDown(t *testing.T) {
	r := newRig(t, slowConfig())
	h := r.open(t)
	ch := r.ep.channel()

	h.OnAudio(chunk(2400))
	h.OnInputTranscript("half a", false)
	r.engine.Suppress()

	r.engine.Stop()
	snap := r.engine.Snapshot()
	if snap.Status != StatusIdle || snap.ActivePlayback != 0 || snap.TimerPending || snap.Suppressed {
		t.Fatalf("after stop: %+v", snap)
	}
	if snap.Interim != "" {
		t.Fatalf("interim must be cleared, got %q", snap.Interim)
	}
	if !r.out.unit(0).stopped.Load() {
		t.Fatalf("playback not stopped")
	}
	if ch.closed.Load() != 1 || r.mic.closed.Load() != 1 || r.out.closed.Load() != 1 {
		t.Fatalf("resources not released: channel=%d capture=%d output=%d",
			ch.closed.Load(), r.mic.closed.Load(), r.out.closed.Load())
	}

	r.engine.Stop()
	if ch.closed.Load() != 1 {
		t.Fatalf("second Stop must not close again")
	}

	// callbacks from the old session are ignored
	h.OnInputTranscript("late", true)
	h.OnAudio(chunk(240))
	if r.engine.FinalTranscript() != "" || r.out.count() != 1 {
		t.Fatalf("stale callbacks must not mutate state")
	}
}

func TestStopFromEveryState(t *testing.T) {
	r := newRig(t, slowConfig())
	r.engine.Stop()
	if st := r.engine.Status(); st != StatusIdle {
		t.Fatalf("idle stop: %s", st)
	}

	_ = r.engine.Start(context.Background())
	r.engine.Stop()
	if st := r.engine.Status(); st != StatusIdle {
		t.Fatalf("stop from connecting: %s", st)
	}

	r.mic.setErr(errBoom)
	_ = r.engine.Start(context.Background())
	r.engine.Stop()
	if st := r.engine.Status(); st != StatusIdle || r.engine.Err() != "" {
		t.Fatalf("stop from error: %s %q", st, r.engine.Err())
	}
}

func TestRemoteErrorMovesToError(t *testing.T) {
	r := newRig(t, slowConfig())
	h := r.open(t)
	ch := r.ep.channel()

	h.OnError(errBoom)
	h.OnClose()
	if st := r.engine.Status(); st != StatusError {
		t.Fatalf("status: want=error got=%s", st)
	}
	if got := r.engine.Err(); got != "Connection error: boom" {
		t.Fatalf("error: got %q", got)
	}
	if ch.closed.Load() != 1 || r.mic.closed.Load() != 1 {
		t.Fatalf("teardown incomplete")
	}
	waitFor(t, "error event", func() bool { return len(r.log.of(EventError)) == 1 })

	r.open(t)
}

func TestRemoteCloseWhileActiveIsAnError(t *testing.T) {
	r := newRig(t, slowConfig())
	h := r.open(t)
	h.OnClose()
	if st := r.engine.Status(); st != StatusError {
		t.Fatalf("status: want=error got=%s", st)
	}
	if got := r.engine.Err(); !strings.Contains(got, "closed by remote") {
		t.Fatalf("error: got %q", got)
	}
}

func TestAcknowledgeIsIdempotent(t *testing.T) {
	r := newRig(t, slowConfig())
	h := r.open(t)
	h.OnInputTranscript("what time is it", true)

	r.engine.AcknowledgeFinalTranscript()
	if r.engine.FinalTranscript() != "" {
		t.Fatalf("acknowledge should clear the slot")
	}
	r.engine.AcknowledgeFinalTranscript()
	time.Sleep(20 * time.Millisecond)
	waitFor(t, "events", func() bool { return len(r.log.of(EventUtterance)) == 1 })
	if n := len(r.log.of(EventUtterance)); n != 1 {
		t.Fatalf("utterance events: want=1 got=%d", n)
	}
}

func TestNextUtteranceWaitsForAcknowledge(t *testing.T) {
	r := newRig(t, slowConfig())
	h := r.open(t)

	h.OnInputTranscript("first", true)
	h.OnInputTranscript("second", true)
	if got := r.engine.FinalTranscript(); got != "first" {
		t.Fatalf("slot should still hold the first utterance, got %q", got)
	}
	r.engine.AcknowledgeFinalTranscript()
	if got := r.engine.FinalTranscript(); got != "second" {
		t.Fatalf("held utterance should follow acknowledge, got %q", got)
	}
	waitFor(t, "two utterances", func() bool { return len(r.log.of(EventUtterance)) == 2 })
}

func TestTurnCompleteFinalizesAndReportsReply(t *testing.T) {
	r := newRig(t, slowConfig())
	h := r.open(t)

	h.OnInputTranscript("weather in paris", false)
	h.OnOutputTranscript("It is ")
	h.OnOutputTranscript("sunny.")
	h.OnTurnComplete()
	if got := r.engine.FinalTranscript(); got != "weather in paris" {
		t.Fatalf("turn complete should finalize, got %q", got)
	}
	waitFor(t, "assistant turn", func() bool { return len(r.log.of(EventAssistantTurn)) == 1 })
	if ev := r.log.of(EventAssistantTurn)[0]; ev.Text != "It is sunny." {
		t.Fatalf("reply: got %q", ev.Text)
	}
	if ev := r.log.of(EventUtterance)[0]; ev.Trigger != triggerTurnComplete {
		t.Fatalf("trigger: got %q", ev.Trigger)
	}
}

func TestSendText(t *testing.T) {
	r := newRig(t, slowConfig())
	if err := r.engine.SendText(context.Background(), "hi"); !errors.Is(err, ErrNotListening) {
		t.Fatalf("want ErrNotListening got %v", err)
	}
	r.open(t)
	if err := r.engine.SendText(context.Background(), "weather data"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if got := <-r.ep.channel().texts; got != "weather data" {
		t.Fatalf("text: got %q", got)
	}
}

func TestCloseStopsSessionAndRejectsStart(t *testing.T) {
	r := newRig(t, slowConfig())
	r.open(t)
	ch := r.ep.channel()
	if err := r.engine.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if ch.closed.Load() != 1 {
		t.Fatalf("Close must stop the session")
	}
	if err := r.engine.Start(context.Background()); !errors.Is(err, ErrEngineClosed) {
		t.Fatalf("want ErrEngineClosed got %v", err)
	}
}

func TestStopWhileOpeningMicAbortsStart(t *testing.T) {
	mic := newGatedMic()
	out := &fakeOutput{}
	ep := &fakeEndpoint{}
	log := &eventLog{}
	engine := New(Options{
		Config:     slowConfig(),
		Microphone: mic,
		Speaker:    &fakeSpeaker{out: out},
		Endpoint:   ep,
		Observer:   log.observe,
	})
	t.Cleanup(func() { _ = engine.Close() })

	errCh := make(chan error, 1)
	go func() { errCh <- engine.Start(context.Background()) }()

	<-mic.entered
	if st := engine.Status(); st != StatusConnecting {
		t.Fatalf("status while opening: want=connecting got=%s", st)
	}
	engine.Stop()
	close(mic.release)

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrStartAborted) {
			t.Fatalf("Start: want ErrStartAborted got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Start did not return")
	}
	if st := engine.Status(); st != StatusIdle {
		t.Fatalf("status: want=idle got=%s", st)
	}
	if msg := engine.Err(); msg != "" {
		t.Fatalf("aborted start must not leave an error, got %q", msg)
	}
	if n := mic.closed.Load(); n != 1 {
		t.Fatalf("capture closes: want=1 got=%d", n)
	}
	if out.closed.Load() != 0 || len(ep.handlers) != 0 {
		t.Fatalf("nothing past the microphone should have been opened")
	}
}

func TestFinalizedUtteranceSurvivesRestart(t *testing.T) {
	r := newRig(t, slowConfig())
	h := r.open(t)
	h.OnInputTranscript("remind me at noon", true)
	firstID := r.engine.Snapshot().FinalID

	r.engine.Stop()
	if got := r.engine.FinalTranscript(); got != "remind me at noon" {
		t.Fatalf("Stop must keep the slot, got %q", got)
	}

	if err := r.engine.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	h = r.ep.handler()
	h.OnOpen()
	if got := r.engine.FinalTranscript(); got != "remind me at noon" {
		t.Fatalf("Start must keep the slot, got %q", got)
	}
	if id := r.engine.Snapshot().FinalID; id != firstID {
		t.Fatalf("utterance id changed: want=%s got=%s", firstID, id)
	}

	h.OnInputTranscript("and at six", true)
	if got := r.engine.FinalTranscript(); got != "remind me at noon" {
		t.Fatalf("new utterance must wait for acknowledge, got %q", got)
	}
	r.engine.AcknowledgeFinalTranscript()
	if got := r.engine.FinalTranscript(); got != "and at six" {
		t.Fatalf("held utterance should follow acknowledge, got %q", got)
	}
}
