package audio

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrTimelineClosed is returned when scheduling on a closed timeline.
var ErrTimelineClosed = errors.New("timeline closed")

// Timeline is a software output device: it keeps a sample-accurate clock,
// mixes scheduled buffers and is pulled by a device loop through Render.
// It implements Output for backends that only expose a blocking write or
// a frame callback (portaudio, Discord).
type Timeline struct {
	rate int

	mu     sync.Mutex
	pos    int64 // samples rendered so far
	units  map[uint64]*unit
	nextID uint64
	closed bool
}

type unit struct {
	id      uint64
	start   int64
	samples []int16
	onEnded func()
}

// NewTimeline creates a mono timeline at sampleRate.
func NewTimeline(sampleRate int) *Timeline {
	return &Timeline{rate: sampleRate, units: make(map[uint64]*unit)}
}

// SampleRate returns the timeline rate in Hz.
func (t *Timeline) SampleRate() int { return t.rate }

// Now returns how much audio has been rendered.
func (t *Timeline) Now() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Duration(int(t.pos), t.rate)
}

// Schedule queues samples to start at the given device time. Times in the
// past start at the next rendered sample.
func (t *Timeline) Schedule(samples []int16, at time.Duration, onEnded func()) (Playback, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrTimelineClosed
	}
	start := Samples(at, t.rate)
	if start < t.pos {
		start = t.pos
	}
	t.nextID++
	u := &unit{id: t.nextID, start: start, samples: samples, onEnded: onEnded}
	t.units[u.id] = u
	return &timelinePlayback{t: t, id: u.id}, nil
}

// Pending reports how many scheduled units have not finished.
func (t *Timeline) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.units)
}

// Render mixes the next len(out) samples into out and advances the clock.
// Ended callbacks run after the lock is released, in start order.
func (t *Timeline) Render(out []int16) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		for i := range out {
			out[i] = 0
		}
		return
	}
	from := t.pos
	to := from + int64(len(out))
	mix := make([]int32, len(out))
	var ended []*unit
	for id, u := range t.units {
		end := u.start + int64(len(u.samples))
		if u.start < to && end > from {
			lo := max(u.start, from)
			hi := min(end, to)
			for p := lo; p < hi; p++ {
				mix[p-from] += int32(u.samples[p-u.start])
			}
		}
		if end <= to {
			ended = append(ended, u)
			delete(t.units, id)
		}
	}
	t.pos = to
	t.mu.Unlock()

	for i, v := range mix {
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i] = int16(v)
	}
	sort.Slice(ended, func(i, j int) bool {
		if ended[i].start != ended[j].start {
			return ended[i].start < ended[j].start
		}
		return ended[i].id < ended[j].id
	})
	for _, u := range ended {
		if u.onEnded != nil {
			u.onEnded()
		}
	}
}

// Advance renders d worth of audio into a scratch buffer. It lets tests and
// headless sinks move the clock without a real device.
func (t *Timeline) Advance(d time.Duration) {
	n := Samples(d, t.rate)
	if n <= 0 {
		return
	}
	t.Render(make([]int16, n))
}

// Close drops every pending unit without firing ended callbacks.
func (t *Timeline) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.units = make(map[uint64]*unit)
	return nil
}

func (t *Timeline) stop(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.units, id)
}

type timelinePlayback struct {
	t  *Timeline
	id uint64
}

func (p *timelinePlayback) Stop() { p.t.stop(p.id) }
