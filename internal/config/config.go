// Package config loads assistant settings from an optional YAML file, a .env
// file and the environment. Environment keys use the LVL_ prefix with dots
// replaced by underscores (LVL_CHAT_BACKEND); a few unprefixed names are
// accepted as aliases.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/live-voice-lab/internal/events"
	"github.com/live-voice-lab/internal/telemetry"
)

// ErrMissingAPIKey is returned when a Gemini-backed component has no key.
var ErrMissingAPIKey = errors.New("API_KEY environment variable not set.")

type Config struct {
	LogLevel  string           `mapstructure:"log_level"`
	APIKey    string           `mapstructure:"api_key"`
	Live      LiveConfig       `mapstructure:"live"`
	Voice     VoiceConfig      `mapstructure:"voice"`
	Chat      ChatConfig       `mapstructure:"chat"`
	Tools     ToolsConfig      `mapstructure:"tools"`
	Telemetry telemetry.Config `mapstructure:"telemetry"`
	History   HistoryConfig    `mapstructure:"history"`
	Events    events.Config    `mapstructure:"events"`
	Metrics   MetricsConfig    `mapstructure:"metrics"`
	Discord   DiscordConfig    `mapstructure:"discord"`
	MCPServer MCPServerConfig  `mapstructure:"mcp_server"`
}

type LiveConfig struct {
	URL               string `mapstructure:"url"`
	Model             string `mapstructure:"model"`
	Voice             string `mapstructure:"voice"`
	SystemInstruction string `mapstructure:"system_instruction"`
}

type VoiceConfig struct {
	InputSampleRate  int           `mapstructure:"input_sample_rate"`
	OutputSampleRate int           `mapstructure:"output_sample_rate"`
	FrameSize        int           `mapstructure:"frame_size"`
	VADThreshold     float64       `mapstructure:"vad_threshold"`
	SilenceTimeout   time.Duration `mapstructure:"silence_timeout"`
	SendQueue        int           `mapstructure:"send_queue"`
}

type ChatConfig struct {
	// Backend is gemini or openai.
	Backend           string `mapstructure:"backend"`
	Model             string `mapstructure:"model"`
	SystemInstruction string `mapstructure:"system_instruction"`
	Speak             bool   `mapstructure:"speak"`
	TTSModel          string `mapstructure:"tts_model"`
	TTSVoice          string `mapstructure:"tts_voice"`

	OpenAIBaseURL       string `mapstructure:"openai_base_url"`
	OpenAIAPIKey        string `mapstructure:"openai_api_key"`
	OpenAIModel         string `mapstructure:"openai_model"`
	OpenAIFallbackModel string `mapstructure:"openai_fallback_model"`
	MaxTokens           int    `mapstructure:"max_tokens"`
}

type ToolsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// ServerURL is a running MCP tool server; empty runs the tools in process.
	ServerURL     string        `mapstructure:"server_url"`
	Manifest      string        `mapstructure:"manifest"`
	Timeout       time.Duration `mapstructure:"timeout"`
	WeatherAPIKey string        `mapstructure:"weather_api_key"`
}

type HistoryConfig struct {
	// Backend is memory or redis.
	Backend       string        `mapstructure:"backend"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	Prefix        string        `mapstructure:"prefix"`
	TTL           time.Duration `mapstructure:"ttl"`
}

type MetricsConfig struct {
	// Addr enables the observability server when set, e.g. ":9090".
	Addr string `mapstructure:"addr"`
}

type DiscordConfig struct {
	Token          string   `mapstructure:"token"`
	GuildID        string   `mapstructure:"guild_id"`
	VoiceChannelID string   `mapstructure:"voice_channel_id"`
	AllowedUserIDs []string `mapstructure:"allowed_user_ids"`
	WakePhrases    []string `mapstructure:"wake_phrases"`
	WakeWindow     int      `mapstructure:"wake_window"`
}

type MCPServerConfig struct {
	Addr        string `mapstructure:"addr"`
	RegistryURL string `mapstructure:"registry_url"`
	PublicURL   string `mapstructure:"public_url"`
	Name        string `mapstructure:"name"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Voice: VoiceConfig{
			InputSampleRate:  16000,
			OutputSampleRate: 24000,
			FrameSize:        4096,
			VADThreshold:     0.008,
			SilenceTimeout:   1500 * time.Millisecond,
			SendQueue:        32,
		},
		Chat: ChatConfig{
			Backend:   "gemini",
			Model:     "gemini-2.5-flash",
			Speak:     true,
			TTSModel:  "gemini-2.5-flash-preview-tts",
			TTSVoice:  "Kore",
			MaxTokens: 512,
		},
		Tools:     ToolsConfig{Enabled: true, Timeout: 20 * time.Second},
		Telemetry: telemetry.DefaultConfig(),
		History:   HistoryConfig{Backend: "memory", RedisAddr: "localhost:6379", Prefix: "lvl"},
		Events:    events.Config{TopicUtterances: "voice.utterances", TopicReplies: "voice.replies"},
		Discord:   DiscordConfig{WakePhrases: []string{"hey assistant", "ok assistant"}},
		MCPServer: MCPServerConfig{Addr: ":9001", Name: "live-voice-tools"},
	}
}

// aliases maps config keys to unprefixed environment names that are also
// honoured.
var aliases = map[string][]string{
	"log_level":                  {"LOG_LEVEL"},
	"api_key":                    {"API_KEY", "GEMINI_API_KEY"},
	"chat.openai_base_url":       {"OPENAI_BASE_URL"},
	"chat.openai_api_key":        {"OPENAI_API_KEY"},
	"chat.openai_model":          {"OPENAI_MODEL"},
	"chat.openai_fallback_model": {"OPENAI_FALLBACK_MODEL"},
	"chat.max_tokens":            {"LLM_MAX_TOKENS"},
	"tools.server_url":           {"MCP_SERVER_URL"},
	"tools.manifest":             {"MCP_CONFIG_PATH"},
	"tools.weather_api_key":      {"OPENWEATHER_API_KEY"},
	"telemetry.bearer_token":     {"SENSZ_BEARER_TOKEN"},
	"discord.token":              {"DISCORD_BOT_TOKEN"},
	"discord.guild_id":           {"GUILD_ID"},
	"discord.voice_channel_id":   {"VOICE_CHANNEL_ID"},
	"discord.allowed_user_ids":   {"ALLOWED_USER_IDS"},
	"mcp_server.registry_url":    {"MCP_URL"},
	"mcp_server.public_url":      {"MCP_PUBLIC_URL"},
}

// Load reads cfgFile (or assistant.yaml from the working directory or the
// user config dir), then .env, then the environment. A missing config or
// .env file is not an error.
func Load(cfgFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("assistant")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(configDir())
	}
	v.SetEnvPrefix("LVL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, Default())
	for key, names := range aliases {
		env := append([]string{"LVL_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, names...)
		if err := v.BindEnv(append([]string{key}, env...)...); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	cfg.Discord.AllowedUserIDs = splitList(cfg.Discord.AllowedUserIDs)
	cfg.Discord.WakePhrases = splitList(cfg.Discord.WakePhrases)
	cfg.Events.Brokers = splitList(cfg.Events.Brokers)
	return cfg, nil
}

// RequireAPIKey reports ErrMissingAPIKey when no Gemini key is configured.
func (c *Config) RequireAPIKey() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// setDefaults registers every key so AutomaticEnv can see it during
// Unmarshal.
func setDefaults(v *viper.Viper, d *Config) {
	defaults := map[string]any{
		"log_level":                  d.LogLevel,
		"api_key":                    "",
		"live.url":                   "",
		"live.model":                 "",
		"live.voice":                 "",
		"live.system_instruction":    "",
		"voice.input_sample_rate":    d.Voice.InputSampleRate,
		"voice.output_sample_rate":   d.Voice.OutputSampleRate,
		"voice.frame_size":           d.Voice.FrameSize,
		"voice.vad_threshold":        d.Voice.VADThreshold,
		"voice.silence_timeout":      d.Voice.SilenceTimeout,
		"voice.send_queue":           d.Voice.SendQueue,
		"chat.backend":               d.Chat.Backend,
		"chat.model":                 d.Chat.Model,
		"chat.system_instruction":    "",
		"chat.speak":                 d.Chat.Speak,
		"chat.tts_model":             d.Chat.TTSModel,
		"chat.tts_voice":             d.Chat.TTSVoice,
		"chat.openai_base_url":       "",
		"chat.openai_api_key":        "",
		"chat.openai_model":          "",
		"chat.openai_fallback_model": "",
		"chat.max_tokens":            d.Chat.MaxTokens,
		"tools.enabled":              d.Tools.Enabled,
		"tools.server_url":           "",
		"tools.manifest":             "",
		"tools.timeout":              d.Tools.Timeout,
		"tools.weather_api_key":      "",
		"telemetry.geo_base_url":     d.Telemetry.GeoBaseURL,
		"telemetry.ctm_base_url":     d.Telemetry.CTMBaseURL,
		"telemetry.report_base_url":  d.Telemetry.ReportBaseURL,
		"telemetry.bearer_token":     "",
		"telemetry.project":          d.Telemetry.Project,
		"telemetry.group":            d.Telemetry.Group,
		"telemetry.timeout":          d.Telemetry.Timeout,
		"history.backend":            d.History.Backend,
		"history.redis_addr":         d.History.RedisAddr,
		"history.redis_password":     "",
		"history.redis_db":           0,
		"history.prefix":             d.History.Prefix,
		"history.ttl":                time.Duration(0),
		"events.enabled":             false,
		"events.brokers":             []string{},
		"events.topic_utterances":    d.Events.TopicUtterances,
		"events.topic_replies":       d.Events.TopicReplies,
		"events.principal":           "",
		"metrics.addr":               "",
		"discord.token":              "",
		"discord.guild_id":           "",
		"discord.voice_channel_id":   "",
		"discord.allowed_user_ids":   []string{},
		"discord.wake_phrases":       d.Discord.WakePhrases,
		"discord.wake_window":        0,
		"mcp_server.addr":            d.MCPServer.Addr,
		"mcp_server.registry_url":    "",
		"mcp_server.public_url":      "",
		"mcp_server.name":            d.MCPServer.Name,
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}

// splitList accepts both YAML lists and comma separated env values.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func configDir() string {
	if base := os.Getenv("XDG_CONFIG_HOME"); base != "" {
		return filepath.Join(base, "live-voice-lab")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "live-voice-lab")
}
