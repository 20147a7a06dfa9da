package chat

import (
	"context"
	"fmt"
	"sync"

	"github.com/live-voice-lab/internal/audio"
	"github.com/live-voice-lab/internal/logging"
)

// Gate silences microphone forwarding while a reply plays so the speaker
// output is not fed back to the live session. *voice.Engine satisfies it.
type Gate interface {
	Suppress()
	Resume()
}

// Voice speaks replies through a speaker.
type Voice struct {
	synth Synthesizer
	spk   audio.Speaker
	gate  Gate

	// one reply at a time
	mu sync.Mutex
}

// NewVoice returns a Voice; gate may be nil.
func NewVoice(synth Synthesizer, spk audio.Speaker, gate Gate) *Voice {
	return &Voice{synth: synth, spk: spk, gate: gate}
}

// Speak synthesizes text and blocks until playback ends or ctx is done.
// The gate is held for the whole playback and released on every path.
func (v *Voice) Speak(ctx context.Context, text string) error {
	if v == nil || v.synth == nil || v.spk == nil || text == "" {
		return nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	samples, rate, err := v.synth.Synthesize(ctx, text)
	if err != nil {
		return fmt.Errorf("synthesize: %w", err)
	}
	out, err := v.spk.Open(rate)
	if err != nil {
		return fmt.Errorf("open speaker: %w", err)
	}
	defer out.Close()

	if v.gate != nil {
		v.gate.Suppress()
		defer v.gate.Resume()
	}
	ended := make(chan struct{})
	pb, err := out.Schedule(samples, out.Now(), func() { close(ended) })
	if err != nil {
		return fmt.Errorf("schedule reply: %w", err)
	}
	logging.Debugw("chat: speaking reply", "samples", len(samples), "rate", rate)
	select {
	case <-ended:
		return nil
	case <-ctx.Done():
		pb.Stop()
		return ctx.Err()
	}
}
