package voice

import (
	"github.com/live-voice-lab/internal/audio"
	"github.com/live-voice-lab/internal/logging"
)

// onAudio schedules one chunk of assistant audio right after the previous
// one, or now if the output has already caught up.
func (e *Engine) onAudio(s *session, pcm []byte) {
	samples, err := audio.DecodePCM16(pcm)
	if err != nil {
		e.metrics.RecordChunk("decode")
		logging.Warnw("voice: undecodable audio chunk", "session_id", s.id, "error", err)
		return
	}
	if len(samples) == 0 {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess != s || s.output == nil {
		return
	}
	start := max(s.nextStart, s.output.Now())
	s.nextPlayID++
	id := s.nextPlayID
	pb, err := s.output.Schedule(samples, start, func() { e.onPlaybackEnded(s, id) })
	if err != nil {
		e.metrics.RecordChunk("schedule")
		logging.Warnw("voice: could not schedule audio chunk", "session_id", s.id, "error", err)
		return
	}
	s.nextStart = start + audio.Duration(len(samples), e.cfg.OutputSampleRate)
	s.active[id] = pb
	e.metrics.RecordChunk("")
	if !s.speaking {
		s.speaking = true
		e.cancelSilenceLocked(s)
		e.setStatusLocked(s, StatusSpeaking)
	}
}

func (e *Engine) onPlaybackEnded(s *session, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess != s {
		return
	}
	if _, ok := s.active[id]; !ok {
		return
	}
	delete(s.active, id)
	if len(s.active) == 0 {
		e.finishSpeakingLocked(s)
	}
}

// onInterrupted discards everything queued so a new response is not spoken
// over a stale one.
func (e *Engine) onInterrupted(s *session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess != s {
		return
	}
	n := len(s.active)
	e.stopPlaybackLocked(s)
	e.metrics.RecordInterruption()
	e.emitLocked(Event{Kind: EventInterrupted, SessionID: s.id, Status: e.status})
	logging.Debugw("voice: interrupted", "session_id", s.id, "stopped", n)
	if s.speaking {
		e.finishSpeakingLocked(s)
	}
}

// finishSpeakingLocked is the single "assistant finished speaking" path:
// back to listening, suppression cleared and the silence timer rearmed.
func (e *Engine) finishSpeakingLocked(s *session) {
	s.speaking = false
	if e.status == StatusSpeaking {
		e.setStatusLocked(s, StatusListening)
	}
	e.rescheduleSilenceLocked(s)
}

// stopPlaybackLocked stops every scheduled unit, clears the set and resets
// the next start time to the device clock.
func (e *Engine) stopPlaybackLocked(s *session) {
	for id, pb := range s.active {
		pb.Stop()
		delete(s.active, id)
	}
	if s.output != nil {
		s.nextStart = s.output.Now()
	} else {
		s.nextStart = 0
	}
}
