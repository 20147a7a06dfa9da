//go:build portaudio

// Package portaudio provides the local microphone and speaker through
// PortAudio. Build with -tags portaudio; other builds get a stub that
// reports the devices as unavailable.
package portaudio

import (
	"context"
	"fmt"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/live-voice-lab/internal/audio"
	"github.com/live-voice-lab/internal/logging"
)

// outputFrameMs is the playback buffer length pulled from the timeline.
const outputFrameMs = 40

// Init initializes PortAudio. Call Terminate when done.
func Init() error {
	if err := pa.Initialize(); err != nil {
		return fmt.Errorf("initialize portaudio: %w", err)
	}
	return nil
}

// Terminate releases PortAudio.
func Terminate() error { return pa.Terminate() }

// Microphone captures mono float32 frames from the default input device.
type Microphone struct{}

// Open starts capturing and calls onFrame from a dedicated goroutine.
func (Microphone) Open(ctx context.Context, sampleRate, frameSize int, onFrame func([]float32)) (audio.Capture, error) {
	if _, err := pa.DefaultInputDevice(); err != nil {
		return nil, fmt.Errorf("%w: %v", audio.ErrDeviceUnavailable, err)
	}
	in := make([]float32, frameSize)
	stream, err := pa.OpenDefaultStream(1, 0, float64(sampleRate), frameSize, in)
	if err != nil {
		return nil, fmt.Errorf("%w: open input stream: %v", audio.ErrDeviceUnavailable, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("%w: start input stream: %v", audio.ErrDeviceUnavailable, err)
	}
	c := &capture{stream: stream, stop: make(chan struct{}), done: make(chan struct{})}
	go c.loop(ctx, in, onFrame)
	logging.Infow("portaudio: capture started", "sample_rate", sampleRate, "frame_size", frameSize)
	return c, nil
}

type capture struct {
	stream *pa.Stream
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

func (c *capture) loop(ctx context.Context, in []float32, onFrame func([]float32)) {
	defer close(c.done)
	var readErrs int
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		default:
		}
		if err := c.stream.Read(); err != nil {
			// input overflow is reported as an error but the buffer is valid
			readErrs++
			if readErrs%100 == 1 {
				logging.Debugw("portaudio: read error", "error", err, "count", readErrs)
			}
		}
		frame := make([]float32, len(in))
		copy(frame, in)
		onFrame(frame)
	}
}

// Close waits for the capture goroutine, then stops the stream.
func (c *capture) Close() error {
	var err error
	c.once.Do(func() {
		close(c.stop)
		<-c.done
		if stopErr := c.stream.Stop(); stopErr != nil {
			err = stopErr
		}
		if closeErr := c.stream.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	})
	return err
}

// Speaker plays a software timeline on the default output device.
type Speaker struct{}

// Open starts an output stream fed from a new audio.Timeline.
func (Speaker) Open(sampleRate int) (audio.Output, error) {
	if _, err := pa.DefaultOutputDevice(); err != nil {
		return nil, fmt.Errorf("%w: %v", audio.ErrDeviceUnavailable, err)
	}
	out := make([]int16, sampleRate*outputFrameMs/1000)
	stream, err := pa.OpenDefaultStream(0, 1, float64(sampleRate), len(out), out)
	if err != nil {
		return nil, fmt.Errorf("%w: open output stream: %v", audio.ErrDeviceUnavailable, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("%w: start output stream: %v", audio.ErrDeviceUnavailable, err)
	}
	o := &output{
		Timeline: audio.NewTimeline(sampleRate),
		stream:   stream,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go o.loop(out)
	return o, nil
}

type output struct {
	*audio.Timeline
	stream *pa.Stream
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

func (o *output) loop(out []int16) {
	defer close(o.done)
	for {
		select {
		case <-o.stop:
			return
		default:
		}
		o.Render(out)
		if err := o.stream.Write(); err != nil {
			logging.Debugw("portaudio: write error", "error", err)
		}
	}
}

// Close drops pending audio and stops the output stream.
func (o *output) Close() error {
	var err error
	o.once.Do(func() {
		_ = o.Timeline.Close()
		close(o.stop)
		<-o.done
		if stopErr := o.stream.Stop(); stopErr != nil {
			err = stopErr
		}
		if closeErr := o.stream.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	})
	return err
}
