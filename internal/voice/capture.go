package voice

import (
	"context"

	"github.com/live-voice-lab/internal/audio"
	"github.com/live-voice-lab/internal/logging"
)

// onFrame runs VAD on one captured frame and queues it for sending unless
// the session is suppressed. It never blocks on the network.
func (e *Engine) onFrame(s *session, samples []float32) {
	rms := audio.RMS(samples)
	pcm := audio.EncodePCM16(samples)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess != s || s.stopped {
		return
	}
	if rms > e.cfg.VADThreshold && !s.speaking {
		e.rescheduleSilenceLocked(s)
	}
	switch {
	case e.suppressedLocked(s):
		e.metrics.RecordFrame("suppressed")
	case !s.open:
		e.metrics.RecordFrame("not_ready")
	default:
		select {
		case s.sendq <- pcm:
			e.metrics.RecordFrame("forwarded")
		default:
			e.metrics.RecordFrame("queue_full")
		}
	}
}

// sendLoop drains the session's queue into the channel. Failed sends are
// dropped; audio is regenerated continuously.
func (e *Engine) sendLoop(s *session, ch sender) {
	for pcm := range s.sendq {
		ctx, cancel := context.WithTimeout(s.ctx, e.cfg.SendTimeout)
		err := ch.SendAudio(ctx, pcm)
		cancel()
		if err != nil {
			e.metrics.RecordSendFailure()
			logging.Debugw("voice: dropped frame", "session_id", s.id, "error", err)
		}
	}
}

type sender interface {
	SendAudio(ctx context.Context, pcm []byte) error
}
