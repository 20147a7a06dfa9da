package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/live-voice-lab/internal/app"
	"github.com/live-voice-lab/internal/device/portaudio"
	"github.com/live-voice-lab/internal/logging"
	"github.com/live-voice-lab/internal/metrics"
)

var voiceNoChat bool

var voiceCmd = &cobra.Command{
	Use:   "voice",
	Short: "Start a live voice session on the default microphone and speaker",
	Long: `Voice streams the microphone to the live model and plays its replies.

Lines typed on stdin go to the chat backend; "/reset" starts a new
conversation and "/quit" ends the session.`,
	Args: cobra.NoArgs,
	RunE: runVoice,
}

func init() {
	voiceCmd.Flags().BoolVar(&voiceNoChat, "no-chat", false, "send typed lines to the live session instead of the chat backend")
	rootCmd.AddCommand(voiceCmd)
}

func runVoice(cmd *cobra.Command, _ []string) error {
	if err := cfg.RequireAPIKey(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := portaudio.Init(); err != nil {
		return err
	}
	defer portaudio.Terminate()

	out := newConsole(cmd.OutOrStdout())
	rt, err := app.Build(ctx, cfg, app.BuildOptions{
		Devices: app.Devices{Microphone: portaudio.Microphone{}, Speaker: portaudio.Speaker{}},
		Display: out.show,
		NoChat:  voiceNoChat,
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	srv := startMetrics()
	defer stopMetrics(srv)

	go func() {
		if err := rt.Assistant.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logging.Errorw("assistant stopped", "error", err)
		}
	}()

	if err := rt.Engine.Start(ctx); err != nil {
		return err
	}
	if srv != nil {
		srv.SetReady(true)
	}

	lines := make(chan string)
	go readLines(cmd.InOrStdin(), lines)

	for {
		select {
		case <-ctx.Done():
			rt.Engine.Stop()
			return nil
		case line, ok := <-lines:
			if !ok || line == "/quit" {
				rt.Engine.Stop()
				return nil
			}
			if err := handleLine(ctx, rt, out, line, voiceNoChat); err != nil {
				logging.Warnw("typed input failed", "error", err)
			}
		}
	}
}

// handleLine routes one typed line.
func handleLine(ctx context.Context, rt *app.Runtime, out *console, line string, live bool) error {
	switch {
	case line == "":
		return nil
	case line == "/reset":
		out.printf("[new conversation]\n")
		return rt.Assistant.ResetChat(ctx)
	case live:
		return rt.Engine.SendText(ctx, line)
	}
	reply, err := rt.Assistant.Chat(ctx, line)
	out.printf("assistant: %s\n", reply)
	return err
}

func readLines(r io.Reader, lines chan<- string) {
	defer close(lines)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		lines <- strings.TrimSpace(sc.Text())
	}
}

// startMetrics serves /metrics when an address is configured.
func startMetrics() *metrics.Server {
	if cfg.Metrics.Addr == "" {
		return nil
	}
	srv := metrics.NewServer(cfg.Metrics.Addr, nil)
	srv.Start()
	return srv
}

func stopMetrics(srv *metrics.Server) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logging.Warnw("metrics server shutdown", "error", err)
	}
}
