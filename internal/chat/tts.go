package chat

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"google.golang.org/genai"

	"github.com/live-voice-lab/internal/audio"
)

const (
	DefaultTTSModel = "gemini-2.5-flash-preview-tts"
	DefaultTTSVoice = "Kore"
	// TTSSampleRate is the rate of raw PCM returned by the TTS model.
	TTSSampleRate = 24000
)

// ErrNoAudio is returned when the TTS response has no inline audio.
var ErrNoAudio = errors.New("tts response contained no audio")

// Synthesizer turns text into mono PCM16 samples.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (samples []int16, sampleRate int, err error)
}

// GeminiTTS synthesizes speech with a Gemini TTS model.
type GeminiTTS struct {
	client *genai.Client
	model  string
	voice  string
}

func NewGeminiTTS(client *genai.Client, model, voice string) *GeminiTTS {
	if model == "" {
		model = DefaultTTSModel
	}
	if voice == "" {
		voice = DefaultTTSVoice
	}
	return &GeminiTTS{client: client, model: model, voice: voice}
}

func (t *GeminiTTS) Synthesize(ctx context.Context, text string) ([]int16, int, error) {
	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{string(genai.ModalityAudio)},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: t.voice},
			},
		},
	}
	resp, err := t.client.Models.GenerateContent(ctx, t.model, genai.Text(text), cfg)
	if err != nil {
		return nil, 0, classifyGenAI(err)
	}
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, p := range cand.Content.Parts {
			if p.InlineData == nil || len(p.InlineData.Data) == 0 {
				continue
			}
			samples, err := audio.DecodePCM16(p.InlineData.Data)
			if err != nil {
				return nil, 0, fmt.Errorf("decode tts audio: %w", err)
			}
			return samples, mimeRate(p.InlineData.MIMEType, TTSSampleRate), nil
		}
	}
	return nil, 0, ErrNoAudio
}

// mimeRate reads rate=N from a mime type like audio/L16;codec=pcm;rate=24000.
func mimeRate(mime string, def int) int {
	for _, param := range strings.Split(mime, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(param), "=")
		if ok && k == "rate" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				return n
			}
		}
	}
	return def
}
