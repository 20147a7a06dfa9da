package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/live-voice-lab/internal/logging"
)

// OpenAIConfig configures an OpenAI-compatible /chat/completions backend.
type OpenAIConfig struct {
	BaseURL           string
	APIKey            string
	Model             string
	FallbackModel     string
	MaxTokens         int
	SystemInstruction string
	Timeout           time.Duration
}

// OpenAI talks to any server exposing the chat completions API. History is
// kept client-side and sent with every request.
type OpenAI struct {
	cfg  OpenAIConfig
	http *http.Client

	mu      sync.Mutex
	history []Message
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://127.0.0.1:8000/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = "local"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	return &OpenAI{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

type completionRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens"`
}

type completionResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// Send tries the primary model, then the fallback model once on transient
// failures.
func (o *OpenAI) Send(ctx context.Context, text string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	msgs := make([]Message, 0, len(o.history)+2)
	if o.cfg.SystemInstruction != "" {
		msgs = append(msgs, Message{Role: "system", Content: o.cfg.SystemInstruction})
	}
	msgs = append(msgs, o.history...)
	msgs = append(msgs, Message{Role: "user", Content: text})

	reply, err := o.complete(ctx, o.cfg.Model, msgs)
	if err != nil && isTransient(err) && o.cfg.FallbackModel != "" && o.cfg.FallbackModel != o.cfg.Model {
		logging.Warnw("chat: primary model failed, trying fallback", "model", o.cfg.Model, "fallback", o.cfg.FallbackModel, "error", err)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
		reply, err = o.complete(ctx, o.cfg.FallbackModel, msgs)
	}
	if err != nil {
		return "", err
	}
	o.history = append(o.history, Message{Role: "user", Content: text}, Message{Role: "assistant", Content: reply})
	return reply, nil
}

func (o *OpenAI) Reset() {
	o.mu.Lock()
	o.history = nil
	o.mu.Unlock()
}

func (o *OpenAI) complete(ctx context.Context, model string, msgs []Message) (string, error) {
	body, err := json.Marshal(completionRequest{Model: model, Messages: msgs, MaxTokens: o.cfg.MaxTokens})
	if err != nil {
		return "", fmt.Errorf("%w: encode request: %v", ErrPermanent, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if o.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	}
	resp, err := o.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", classifyStatus(resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	var out completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode error: %v", ErrTransient, err)
	}
	if len(out.Choices) == 0 {
		return "", nil
	}
	return out.Choices[0].Message.Content, nil
}

func isTransient(err error) bool { return errors.Is(err, ErrTransient) }
