// Command bot joins a Discord voice channel and runs the voice assistant on
// it: channel audio is the engine's microphone and the engine's replies are
// played back into the channel.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/live-voice-lab/internal/app"
	"github.com/live-voice-lab/internal/config"
	"github.com/live-voice-lab/internal/device/discord"
	"github.com/live-voice-lab/internal/logging"
	"github.com/live-voice-lab/internal/metrics"
	"github.com/live-voice-lab/internal/voice"
)

// restartDelay is how long the bot waits before reopening a failed session.
const restartDelay = 5 * time.Second

func main() {
	cfgFile := flag.String("config", "", "config file (default ./assistant.yaml)")
	flag.Parse()

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logging.Init(cfg.LogLevel)
	defer logging.Sync()

	if err := run(cfg); err != nil {
		logging.FatalExitf("bot failed", "error", err)
	}
	logging.Infow("shutdown complete")
}

func validate(cfg *config.Config) error {
	if cfg.Discord.Token == "" {
		return errors.New("DISCORD_BOT_TOKEN required")
	}
	if cfg.Discord.GuildID == "" || cfg.Discord.VoiceChannelID == "" {
		return errors.New("GUILD_ID and VOICE_CHANNEL_ID required")
	}
	return cfg.RequireAPIKey()
}

func run(cfg *config.Config) error {
	if err := validate(cfg); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dg, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		return fmt.Errorf("discordgo.New: %w", err)
	}
	// Guilds + GuildVoiceStates are enough to join voice and map speakers.
	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates
	logging.Infow("using gateway intents", "intents", dg.Identify.Intents)
	dg.AddHandler(gatewayLogger{maxPayload: 8 * 1024, redactLarge: 1024}.handle)

	if err := dg.Open(); err != nil {
		return fmt.Errorf("discord session open: %w", err)
	}
	defer func() {
		if err := dg.Close(); err != nil {
			logging.Warnw("discord session close error", "error", err)
		}
	}()

	resolver := discord.NewResolver(dg)
	logging.Infow("joining voice channel",
		"guild", resolver.GuildName(cfg.Discord.GuildID),
		"channel", resolver.ChannelName(cfg.Discord.VoiceChannelID),
	)
	vc, err := dg.ChannelVoiceJoin(cfg.Discord.GuildID, cfg.Discord.VoiceChannelID, false, false)
	if err != nil {
		return fmt.Errorf("voice join: %w", err)
	}
	defer func() {
		if err := vc.Disconnect(); err != nil {
			logging.Warnw("voice disconnect error", "error", err)
		}
	}()

	dev := discord.New(vc, resolver)
	dev.SetAllowedUsers(cfg.Discord.AllowedUserIDs)
	vc.AddHandler(dev.HandleSpeakingUpdate)

	sup := newSupervisor(dev)
	rt, err := app.Build(ctx, cfg, app.BuildOptions{
		Devices: app.Devices{Microphone: dev.Microphone(), Speaker: dev.Speaker()},
		Display: sup.observe,
		Wake:    true,
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	var srv *metrics.Server
	if cfg.Metrics.Addr != "" {
		srv = metrics.NewServer(cfg.Metrics.Addr, nil)
		srv.Start()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	go func() {
		if err := rt.Assistant.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logging.Errorw("assistant stopped", "error", err)
		}
	}()

	sup.loop(ctx, rt.Engine, func(ready bool) {
		if srv != nil {
			srv.SetReady(ready)
		}
	})
	logging.Infow("shutdown signal received, closing resources")
	rt.Engine.Stop()
	return nil
}

// starter is the part of the engine the supervisor drives.
type starter interface {
	Start(ctx context.Context) error
}

// speakerSource names who the captured audio came from.
type speakerSource interface {
	LastSpeaker() (string, string)
}

// supervisor keeps a voice session open, restarting it after a session
// error, and logs the conversation with speaker names.
type supervisor struct {
	speakers speakerSource
	failed   chan struct{}
	delay    time.Duration
}

func newSupervisor(s speakerSource) *supervisor {
	return &supervisor{speakers: s, failed: make(chan struct{}, 1), delay: restartDelay}
}

func (s *supervisor) observe(ev voice.Event) {
	switch ev.Kind {
	case voice.EventUtterance:
		uid, name := s.speakers.LastSpeaker()
		logging.Infow("heard", append(logging.UserFields(uid, name), "text", ev.Text)...)
	case voice.EventAssistantTurn:
		logging.Infow("replied", "text", ev.Text)
	case voice.EventError:
		select {
		case s.failed <- struct{}{}:
		default:
		}
	}
}

// loop starts the engine and restarts it after failures until ctx ends.
func (s *supervisor) loop(ctx context.Context, e starter, ready func(bool)) {
	for {
		err := e.Start(ctx)
		if errors.Is(err, voice.ErrSessionActive) {
			err = nil
		}
		ready(err == nil)
		if err != nil {
			logging.Warnw("voice session start failed", "error", err, "retry_in", s.delay)
			select {
			case <-s.failed:
			default:
			}
		} else {
			select {
			case <-ctx.Done():
				return
			case <-s.failed:
				ready(false)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.delay):
		}
	}
}
