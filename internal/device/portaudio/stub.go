//go:build !portaudio

package portaudio

import (
	"context"
	"fmt"

	"github.com/live-voice-lab/internal/audio"
)

// This file stands in for the PortAudio backend in builds without the
// `portaudio` tag so the rest of the tree compiles without libportaudio.

func Init() error      { return nil }
func Terminate() error { return nil }

type Microphone struct{}

func (Microphone) Open(ctx context.Context, sampleRate, frameSize int, onFrame func([]float32)) (audio.Capture, error) {
	return nil, fmt.Errorf("%w: built without portaudio", audio.ErrDeviceUnavailable)
}

type Speaker struct{}

func (Speaker) Open(sampleRate int) (audio.Output, error) {
	return nil, fmt.Errorf("%w: built without portaudio", audio.ErrDeviceUnavailable)
}
