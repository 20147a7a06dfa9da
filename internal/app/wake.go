package app

import (
	"strings"
)

const wakeTrim = " ,.!?;:-\"'`~"

// WakeGate passes utterances addressed to the assistant. With Window zero
// the phrase must open the utterance; otherwise it may appear anywhere in
// the first Window*3 words (at least three).
type WakeGate struct {
	Phrases []string
	Window  int
}

func NewWakeGate(phrases []string, window int) *WakeGate {
	var ps []string
	for _, p := range phrases {
		if p = normalize(p); p != "" {
			ps = append(ps, p)
		}
	}
	return &WakeGate{Phrases: ps, Window: window}
}

// Detect reports whether text carries a wake phrase and returns the text
// that follows it.
func (w *WakeGate) Detect(text string) (bool, string) {
	s := strings.TrimLeft(normalize(text), " \"'`~")
	if s == "" {
		return false, ""
	}
	words := strings.Fields(s)
	for _, wp := range w.Phrases {
		if s == wp {
			return true, ""
		}
		if w.Window == 0 {
			if rest, ok := cutPrefixPhrase(s, wp); ok {
				return true, rest
			}
			continue
		}
		if i := indexPhrase(words, strings.Fields(wp), max(w.Window*3, 3)); i >= 0 {
			rest := strings.Join(words[i+len(strings.Fields(wp)):], " ")
			return true, strings.Trim(rest, wakeTrim)
		}
	}
	return false, ""
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// cutPrefixPhrase matches wp at the start of s followed by a space or
// punctuation.
func cutPrefixPhrase(s, wp string) (string, bool) {
	rest, ok := strings.CutPrefix(s, wp)
	if !ok || rest == "" || !strings.ContainsRune(" ,.!?:", rune(rest[0])) {
		return "", false
	}
	return strings.TrimLeft(strings.TrimSpace(rest[1:]), wakeTrim), true
}

// indexPhrase finds phrase among the first limit words, ignoring
// punctuation around each word.
func indexPhrase(words, phrase []string, limit int) int {
	if len(phrase) == 0 {
		return -1
	}
	head := words
	if len(head) > limit {
		head = head[:limit]
	}
	for i := 0; i+len(phrase) <= len(head); i++ {
		match := true
		for j, p := range phrase {
			if strings.Trim(head[i+j], wakeTrim) != strings.Trim(p, wakeTrim) {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
