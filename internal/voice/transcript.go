package voice

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/live-voice-lab/internal/logging"
)

const (
	triggerSilence      = "silence"
	triggerFinal        = "final_fragment"
	triggerTurnComplete = "turn_complete"
)

func (e *Engine) onInputTranscript(s *session, text string, final bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess != s {
		return
	}
	if t := strings.TrimSpace(text); t != "" {
		s.pending = strings.TrimSpace(s.pending + " " + t)
		if s.deferred == "" {
			e.interim = s.pending
			e.emitLocked(Event{Kind: EventInterim, SessionID: s.id, Status: e.status, Text: e.interim})
		}
		if !final {
			e.rescheduleSilenceLocked(s)
		}
	}
	if final {
		e.finalizeLocked(s, triggerFinal)
	}
}

func (e *Engine) onOutputTranscript(s *session, text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess != s {
		return
	}
	s.reply += text
}

// onTurnComplete finalizes any pending user text and publishes the
// assistant's transcribed reply.
func (e *Engine) onTurnComplete(s *session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess != s {
		return
	}
	if s.pending != "" && s.deferred == "" {
		e.finalizeLocked(s, triggerTurnComplete)
	}
	if reply := strings.TrimSpace(s.reply); reply != "" {
		e.emitLocked(Event{Kind: EventAssistantTurn, SessionID: s.id, Status: e.status, Text: reply})
	}
	s.reply = ""
}

// rescheduleSilenceLocked replaces the single outstanding silence timer.
func (e *Engine) rescheduleSilenceLocked(s *session) {
	e.cancelSilenceLocked(s)
	gen := s.timerGen
	s.timer = time.AfterFunc(e.cfg.SilenceTimeout, func() { e.onSilence(s, gen) })
}

func (e *Engine) cancelSilenceLocked(s *session) {
	s.timerGen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (e *Engine) onSilence(s *session, gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess != s || s.timerGen != gen {
		return
	}
	s.timer = nil
	if s.pending == "" {
		return
	}
	e.finalizeLocked(s, triggerSilence)
}

// finalizeLocked moves the accumulated text into the finalized slot. When
// the slot still holds an unacknowledged utterance the text is kept and
// finalized on acknowledgment instead.
func (e *Engine) finalizeLocked(s *session, trigger string) {
	e.cancelSilenceLocked(s)
	text := strings.TrimSpace(s.pending)
	if text == "" {
		return
	}
	if e.final != "" {
		if s.deferred == "" {
			s.deferred = trigger
			e.metrics.RecordUtteranceDeferred()
		}
		return
	}
	s.pending = ""
	e.final = text
	e.finalID = uuid.NewString()
	e.interim = ""
	e.metrics.RecordUtterance(trigger)
	e.emitLocked(Event{Kind: EventInterim, SessionID: s.id, Status: e.status})
	e.emitLocked(Event{
		Kind:        EventUtterance,
		SessionID:   s.id,
		Status:      e.status,
		Text:        text,
		UtteranceID: e.finalID,
		Trigger:     trigger,
	})
	logging.Infow("voice: utterance finalized",
		append(logging.UtteranceFields(s.id, e.finalID), "trigger", trigger, "chars", len(text))...)
}
