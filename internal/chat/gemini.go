package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"google.golang.org/genai"
)

const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiConfig configures the Gemini chat backend. BaseURL is only set in
// tests.
type GeminiConfig struct {
	APIKey            string
	Model             string
	SystemInstruction string
	BaseURL           string
}

// NewGenAIClient builds a Gemini API client.
func NewGenAIClient(ctx context.Context, apiKey, baseURL string) (*genai.Client, error) {
	cc := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	if baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	c, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("%w: genai client: %v", ErrPermanent, err)
	}
	return c, nil
}

// Gemini keeps one genai chat; the chat object carries history.
type Gemini struct {
	client *genai.Client
	model  string
	config *genai.GenerateContentConfig

	mu   sync.Mutex
	chat *genai.Chat
}

func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	client, err := NewGenAIClient(ctx, cfg.APIKey, cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	g := &Gemini{client: client, model: cfg.Model}
	if g.model == "" {
		g.model = DefaultGeminiModel
	}
	if cfg.SystemInstruction != "" {
		g.config = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(cfg.SystemInstruction, genai.RoleUser),
		}
	}
	return g, nil
}

func (g *Gemini) Send(ctx context.Context, text string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.chat == nil {
		c, err := g.client.Chats.Create(ctx, g.model, g.config, nil)
		if err != nil {
			return "", classifyGenAI(err)
		}
		g.chat = c
	}
	resp, err := g.chat.SendMessage(ctx, genai.Part{Text: text})
	if err != nil {
		return "", classifyGenAI(err)
	}
	return resp.Text(), nil
}

func (g *Gemini) Reset() {
	g.mu.Lock()
	g.chat = nil
	g.mu.Unlock()
}

func classifyGenAI(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.Code, apiErr.Message)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}
