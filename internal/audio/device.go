// Package audio holds the PCM helpers and the device contracts shared by the
// voice engine and the concrete capture/playback backends.
package audio

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPermissionDenied reports that the user or OS refused microphone access.
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrDeviceUnavailable reports that no usable capture or output device exists.
	ErrDeviceUnavailable = errors.New("audio device unavailable")
)

// Microphone opens capture streams. onFrame is invoked once per captured
// frame of exactly frameSize mono samples in [-1, 1] at sampleRate; the slice
// is owned by the callee.
type Microphone interface {
	Open(ctx context.Context, sampleRate, frameSize int, onFrame func(samples []float32)) (Capture, error)
}

// Capture is an open capture stream.
type Capture interface {
	Close() error
}

// Speaker opens an output timeline for one session.
type Speaker interface {
	Open(sampleRate int) (Output, error)
}

// Output is a scheduled playback device with a monotonic clock.
type Output interface {
	// Now is the device clock: how much audio has been rendered so far.
	Now() time.Duration
	// Schedule plays mono PCM16 samples starting at the given device time.
	// onEnded fires once, outside any device lock, when the last sample has
	// been rendered. It never fires for a unit stopped via Playback.Stop.
	Schedule(samples []int16, at time.Duration, onEnded func()) (Playback, error)
	Close() error
}

// Playback is a handle to one scheduled buffer.
type Playback interface {
	Stop()
}
