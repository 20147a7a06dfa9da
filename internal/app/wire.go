package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/redis/go-redis/v9"

	"github.com/live-voice-lab/internal/audio"
	"github.com/live-voice-lab/internal/chat"
	"github.com/live-voice-lab/internal/config"
	"github.com/live-voice-lab/internal/events"
	"github.com/live-voice-lab/internal/history"
	"github.com/live-voice-lab/internal/live"
	"github.com/live-voice-lab/internal/logging"
	"github.com/live-voice-lab/internal/mcp"
	mcpconfig "github.com/live-voice-lab/internal/mcp/config"
	"github.com/live-voice-lab/internal/metrics"
	"github.com/live-voice-lab/internal/telemetry"
	"github.com/live-voice-lab/internal/tools"
	"github.com/live-voice-lab/internal/voice"
	"github.com/live-voice-lab/internal/weather"
)

// Devices are the microphone and speaker a runtime talks through.
type Devices struct {
	Microphone audio.Microphone
	Speaker    audio.Speaker
}

type BuildOptions struct {
	Devices Devices
	Display func(voice.Event)
	// Wake enables the wake-phrase gate from the Discord settings.
	Wake bool
	// NoChat skips the chat backend and reply voice.
	NoChat bool
}

// Runtime is a fully wired assistant.
type Runtime struct {
	Config    *config.Config
	Metrics   *metrics.Metrics
	Engine    *voice.Engine
	Assistant *Assistant
	Tools     *mcp.ClientWrapper

	closers []func() error
}

// Build wires every component from cfg. Close releases what it opened.
func Build(ctx context.Context, cfg *config.Config, opts BuildOptions) (*Runtime, error) {
	rt := &Runtime{Config: cfg, Metrics: metrics.Default()}
	ok := false
	defer func() {
		if !ok {
			_ = rt.Close()
		}
	}()

	hist, err := NewHistory(ctx, cfg.History)
	if err != nil {
		return nil, err
	}
	if hist.close != nil {
		rt.closers = append(rt.closers, hist.close)
	}

	pub := events.New(&cfg.Events, rt.Metrics)
	rt.closers = append(rt.closers, pub.Close)

	client, err := ConnectTools(ctx, cfg, rt.Metrics)
	if err != nil {
		return nil, err
	}
	var caller tools.Caller
	if client != nil {
		rt.Tools = client
		rt.closers = append(rt.closers, client.Close)
		caller = client
	}

	var a *Assistant
	rt.Engine = voice.New(voice.Options{
		Config:     VoiceConfig(cfg.Voice),
		Microphone: opts.Devices.Microphone,
		Speaker:    opts.Devices.Speaker,
		Endpoint: live.NewDialer(live.Config{
			URL:               cfg.Live.URL,
			APIKey:            cfg.APIKey,
			Model:             cfg.Live.Model,
			Voice:             cfg.Live.Voice,
			SystemInstruction: cfg.Live.SystemInstruction,
			InputSampleRate:   cfg.Voice.InputSampleRate,
		}),
		Observer: func(ev voice.Event) { a.HandleEvent(ev) },
		Metrics:  rt.Metrics,
	})
	rt.closers = append(rt.closers, rt.Engine.Close)

	aopts := Options{
		ChatBackend: cfg.Chat.Backend,
		Dispatcher:  tools.NewDispatcher(caller, cfg.Tools.Timeout),
		History:     hist.Service,
		Events:      pub,
		Metrics:     rt.Metrics,
		Display:     opts.Display,
	}
	if opts.Wake {
		aopts.Wake = NewWakeGate(cfg.Discord.WakePhrases, cfg.Discord.WakeWindow)
	}
	if !opts.NoChat {
		svc, err := NewChat(ctx, cfg)
		if err != nil {
			return nil, err
		}
		aopts.Chat = svc
		if cfg.Chat.Speak && cfg.APIKey != "" && opts.Devices.Speaker != nil {
			gc, err := chat.NewGenAIClient(ctx, cfg.APIKey, "")
			if err != nil {
				return nil, err
			}
			tts := chat.NewGeminiTTS(gc, cfg.Chat.TTSModel, cfg.Chat.TTSVoice)
			aopts.Speaker = chat.NewVoice(tts, opts.Devices.Speaker, rt.Engine)
		}
	}
	a = New(aopts)
	a.AttachEngine(rt.Engine)
	rt.Assistant = a
	ok = true
	return rt, nil
}

// Close releases components in reverse order of creation.
func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

// VoiceConfig maps settings onto the engine's tuning constants.
func VoiceConfig(c config.VoiceConfig) voice.Config {
	return voice.Config{
		InputSampleRate:  c.InputSampleRate,
		OutputSampleRate: c.OutputSampleRate,
		FrameSize:        c.FrameSize,
		VADThreshold:     c.VADThreshold,
		SilenceTimeout:   c.SilenceTimeout,
		SendQueue:        c.SendQueue,
	}
}

// HistoryHandle is a history service plus the closer of its backend.
type HistoryHandle struct {
	*history.Service
	close func() error
}

func (h HistoryHandle) Close() error {
	if h.close == nil {
		return nil
	}
	return h.close()
}

// NewHistory opens the configured history backend. The redis backend is
// pinged before use.
func NewHistory(ctx context.Context, c config.HistoryConfig) (HistoryHandle, error) {
	switch c.Backend {
	case "", "memory":
		return HistoryHandle{Service: history.NewService(history.NewMemoryStore())}, nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB})
		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := client.Ping(pctx).Err(); err != nil {
			_ = client.Close()
			return HistoryHandle{}, fmt.Errorf("redis history at %s: %w", c.RedisAddr, err)
		}
		store := history.NewRedisStore(client, history.WithPrefix(c.Prefix), history.WithTTL(c.TTL))
		logging.Infow("history: using redis", "addr", c.RedisAddr, "prefix", c.Prefix)
		return HistoryHandle{Service: history.NewService(store), close: client.Close}, nil
	default:
		return HistoryHandle{}, fmt.Errorf("unknown history backend %q", c.Backend)
	}
}

// NewChat builds the configured chat backend.
func NewChat(ctx context.Context, cfg *config.Config) (chat.Service, error) {
	switch cfg.Chat.Backend {
	case "openai":
		return chat.NewOpenAI(chat.OpenAIConfig{
			BaseURL:           cfg.Chat.OpenAIBaseURL,
			APIKey:            cfg.Chat.OpenAIAPIKey,
			Model:             cfg.Chat.OpenAIModel,
			FallbackModel:     cfg.Chat.OpenAIFallbackModel,
			MaxTokens:         cfg.Chat.MaxTokens,
			SystemInstruction: cfg.Chat.SystemInstruction,
		}), nil
	case "", "gemini":
		if err := cfg.RequireAPIKey(); err != nil {
			return nil, err
		}
		return chat.NewGemini(ctx, chat.GeminiConfig{
			APIKey:            cfg.APIKey,
			Model:             cfg.Chat.Model,
			SystemInstruction: cfg.Chat.SystemInstruction,
		})
	default:
		return nil, fmt.Errorf("unknown chat backend %q", cfg.Chat.Backend)
	}
}

// ConnectTools opens the tool session: a remote server when configured,
// else the first enabled manifest server, else the built-in tools served
// in process. It returns nil when tools are disabled.
func ConnectTools(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*mcp.ClientWrapper, error) {
	if !cfg.Tools.Enabled {
		return nil, nil
	}
	client := mcp.NewClientWrapper("live-voice-assistant", tools.Version)
	if cfg.Tools.ServerURL != "" {
		if err := client.ConnectWebSocket(ctx, cfg.Tools.ServerURL); err != nil {
			return nil, fmt.Errorf("connect tool server: %w", err)
		}
		return client, nil
	}

	manifest, err := mcpconfig.Load(cfg.Tools.Manifest)
	if err != nil {
		return nil, fmt.Errorf("load mcp manifest: %w", err)
	}
	if enabled := manifest.Enabled(); len(enabled) > 0 {
		name := enabled[0]
		if len(enabled) > 1 {
			logging.Warnw("mcp: only the first enabled server is used", "using", name, "enabled", enabled)
		}
		if err := client.Connect(ctx, name, manifest.Servers[name]); err != nil {
			return nil, fmt.Errorf("connect mcp server %s: %w", name, err)
		}
		return client, nil
	}

	if err := ServeToolsInProcess(ctx, client, cfg, m); err != nil {
		return nil, err
	}
	return client, nil
}

// ServeToolsInProcess connects client to the built-in tool server over an
// in-memory transport.
func ServeToolsInProcess(ctx context.Context, client *mcp.ClientWrapper, cfg *config.Config, m *metrics.Metrics) error {
	srv := tools.NewServer(weather.New(cfg.Tools.WeatherAPIKey), telemetry.New(cfg.Telemetry, nil), m)
	clientT, serverT := sdk.NewInMemoryTransports()
	ss, err := srv.Connect(ctx, serverT, nil)
	if err != nil {
		return fmt.Errorf("start in-process tools: %w", err)
	}
	if err := client.ConnectTransport(ctx, clientT); err != nil {
		_ = ss.Close()
		return fmt.Errorf("connect in-process tools: %w", err)
	}
	return nil
}
