package audio

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestRMS(t *testing.T) {
	if got := RMS(nil); got != 0 {
		t.Fatalf("RMS(nil): want=0 got=%v", got)
	}
	got := RMS([]float32{0.5, -0.5, 0.5, -0.5})
	if math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("RMS: want=0.5 got=%v", got)
	}
}

func TestEncodeDecodePCM16Clamps(t *testing.T) {
	b := EncodePCM16([]float32{0, 1, -1, 2, -2})
	if len(b) != 10 {
		t.Fatalf("encoded length: want=10 got=%d", len(b))
	}
	s, err := DecodePCM16(b)
	if err != nil {
		t.Fatalf("DecodePCM16: %v", err)
	}
	want := []int16{0, 32767, -32767, 32767, -32767}
	for i := range want {
		if s[i] != want[i] {
			t.Fatalf("sample %d: want=%d got=%d", i, want[i], s[i])
		}
	}
}

func TestDecodePCM16OddLength(t *testing.T) {
	if _, err := DecodePCM16([]byte{1, 2, 3}); !errors.Is(err, ErrOddLength) {
		t.Fatalf("expected ErrOddLength, got %v", err)
	}
}

func TestDuration(t *testing.T) {
	if got := Duration(24000, 24000); got != time.Second {
		t.Fatalf("Duration: want=1s got=%v", got)
	}
	if got := Samples(500*time.Millisecond, 16000); got != 8000 {
		t.Fatalf("Samples: want=8000 got=%d", got)
	}
	for _, n := range []int{1, 2, 1000, 1001, 4097} {
		if got := Samples(Duration(n, 24000), 24000); got != int64(n) {
			t.Fatalf("round trip of %d samples at 24 kHz: got=%d", n, got)
		}
	}
}

func TestDownmixDecimate(t *testing.T) {
	// 6 stereo frames of constant 16384 -> 2 mono samples of 0.5 at factor 3
	in := make([]int16, 12)
	for i := range in {
		in[i] = 16384
	}
	out := DownmixDecimate(in, 2, 3)
	if len(out) != 2 {
		t.Fatalf("length: want=2 got=%d", len(out))
	}
	if math.Abs(float64(out[0])-0.5) > 1e-6 {
		t.Fatalf("value: want=0.5 got=%v", out[0])
	}
}

func TestBuildWAVHeader(t *testing.T) {
	wav := BuildWAV(make([]byte, 100), 16000, 1, 16)
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatalf("bad RIFF header: %q", wav[:12])
	}
	if len(wav) != 44+100 {
		t.Fatalf("wav length: want=144 got=%d", len(wav))
	}
}

func TestTimelineMixesAndReportsEnded(t *testing.T) {
	tl := NewTimeline(1000)
	var ended []string
	if _, err := tl.Schedule([]int16{1, 1, 1, 1}, 0, func() { ended = append(ended, "a") }); err != nil {
		t.Fatalf("schedule a: %v", err)
	}
	if _, err := tl.Schedule([]int16{10, 10}, 2*time.Millisecond, func() { ended = append(ended, "b") }); err != nil {
		t.Fatalf("schedule b: %v", err)
	}

	out := make([]int16, 3)
	tl.Render(out)
	if out[0] != 1 || out[1] != 1 || out[2] != 11 {
		t.Fatalf("mixed output: got=%v", out)
	}
	if len(ended) != 0 {
		t.Fatalf("nothing should have ended yet: %v", ended)
	}
	tl.Render(out)
	if len(ended) != 2 || ended[0] != "a" || ended[1] != "b" {
		t.Fatalf("ended order: got=%v", ended)
	}
	if tl.Now() != 6*time.Millisecond {
		t.Fatalf("clock: want=6ms got=%v", tl.Now())
	}
}

func TestTimelineStopSuppressesEnded(t *testing.T) {
	tl := NewTimeline(1000)
	fired := false
	pb, err := tl.Schedule([]int16{5, 5}, 0, func() { fired = true })
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	pb.Stop()
	out := make([]int16, 4)
	tl.Render(out)
	if fired {
		t.Fatalf("stopped unit must not report ended")
	}
	for _, v := range out {
		if v != 0 {
			t.Fatalf("stopped unit must be silent, got %v", out)
		}
	}
}

func TestTimelinePastStartClampsToNow(t *testing.T) {
	tl := NewTimeline(1000)
	tl.Advance(10 * time.Millisecond)
	if _, err := tl.Schedule([]int16{7}, 0, nil); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	out := make([]int16, 1)
	tl.Render(out)
	if out[0] != 7 {
		t.Fatalf("past-scheduled unit should play immediately, got %v", out)
	}
}

func TestTimelineClosedRejectsSchedule(t *testing.T) {
	tl := NewTimeline(1000)
	_ = tl.Close()
	if _, err := tl.Schedule([]int16{1}, 0, nil); !errors.Is(err, ErrTimelineClosed) {
		t.Fatalf("expected ErrTimelineClosed, got %v", err)
	}
}

func TestTimelineBackToBackChunksAreGapless(t *testing.T) {
	const rate = 24000
	tl := NewTimeline(rate)
	sizes := []int{1000, 1001, 997, 1000}
	var want []int16
	var next time.Duration
	for i, n := range sizes {
		chunk := make([]int16, n)
		for j := range chunk {
			chunk[j] = int16(100 * (i + 1))
		}
		if _, err := tl.Schedule(chunk, next, nil); err != nil {
			t.Fatalf("schedule chunk %d: %v", i, err)
		}
		next += Duration(n, rate)
		want = append(want, chunk...)
	}

	out := make([]int16, len(want)+1)
	tl.Render(out)
	for i, v := range want {
		if out[i] != v {
			t.Fatalf("sample %d: want=%d got=%d (overlap or gap at a chunk boundary)", i, v, out[i])
		}
	}
	if out[len(want)] != 0 {
		t.Fatalf("audio past the last chunk: %d", out[len(want)])
	}
}
