// Command assistant runs the voice assistant on local audio devices and
// manages its conversation history.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/live-voice-lab/internal/config"
	"github.com/live-voice-lab/internal/logging"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "assistant",
	Short:         "Real-time voice assistant",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = c
		logging.Init(cfg.LogLevel)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./assistant.yaml)")
}

func main() {
	defer logging.Sync()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
