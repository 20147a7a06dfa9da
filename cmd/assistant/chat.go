package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/live-voice-lab/internal/app"
	"github.com/live-voice-lab/internal/device/portaudio"
	"github.com/live-voice-lab/internal/logging"
)

var (
	chatMessage string
	chatMute    bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat by text, with replies spoken on the default speaker",
	Long: `Chat reads messages from stdin, one per line, and prints each reply.
Replies are also spoken unless --mute is set or chat.speak is off.

With --message a single exchange runs and the command exits.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatMessage, "message", "m", "", "send one message and exit")
	chatCmd.Flags().BoolVar(&chatMute, "mute", false, "do not speak replies")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var devices app.Devices
	if !chatMute {
		if err := portaudio.Init(); err != nil {
			return err
		}
		defer portaudio.Terminate()
		devices.Speaker = portaudio.Speaker{}
	}

	rt, err := app.Build(ctx, cfg, app.BuildOptions{Devices: devices})
	if err != nil {
		return err
	}
	defer rt.Close()

	out := newConsole(cmd.OutOrStdout())
	if chatMessage != "" {
		return chatOnce(ctx, rt, out, chatMessage)
	}

	lines := make(chan string)
	go readLines(cmd.InOrStdin(), lines)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok || line == "/quit" {
				return nil
			}
			if err := handleLine(ctx, rt, out, line, false); err != nil {
				logging.Warnw("chat failed", "error", err)
			}
		}
	}
}

func chatOnce(ctx context.Context, rt *app.Runtime, out *console, text string) error {
	reply, err := rt.Assistant.Chat(ctx, text)
	out.printf("%s\n", reply)
	return err
}
