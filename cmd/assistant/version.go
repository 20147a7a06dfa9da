package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/live-voice-lab/internal/tools"
)

// overridden at build time with -ldflags
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	PersistentPreRunE: func(*cobra.Command, []string) error {
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "assistant %s (tools %s)\n", version, tools.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
