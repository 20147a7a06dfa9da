package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/live-voice-lab/internal/app"
	"github.com/live-voice-lab/internal/logging"
)

var historyOut string

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect and manage saved conversations",
	Long: `History works on the configured history backend. With the memory
backend nothing survives the process, so use history.backend=redis to
inspect conversations from earlier sessions.`,
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations, newest first",
	Args:  cobra.NoArgs,
	RunE:  runHistoryList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyExportCmd = &cobra.Command{
	Use:   "export <id>",
	Short: "Export a conversation as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryExport,
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryDelete,
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every conversation",
	Args:  cobra.NoArgs,
	RunE:  runHistoryClear,
}

func init() {
	historyExportCmd.Flags().StringVarP(&historyOut, "out", "o", "", "write to file instead of stdout")
	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyExportCmd, historyDeleteCmd, historyClearCmd)
	rootCmd.AddCommand(historyCmd)
}

func openHistory(cmd *cobra.Command) (app.HistoryHandle, error) {
	if cfg.History.Backend == "" || cfg.History.Backend == "memory" {
		logging.Warnw("history: memory backend is empty in a new process")
	}
	return app.NewHistory(cmd.Context(), cfg.History)
}

func runHistoryList(cmd *cobra.Command, _ []string) error {
	h, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer h.Close()

	convs, err := h.List(cmd.Context())
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUPDATED\tMESSAGES\tTITLE")
	for _, c := range convs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", c.ID, c.UpdatedAt.Local().Format("2006-01-02 15:04"), len(c.Messages), c.Title)
	}
	return tw.Flush()
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	h, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer h.Close()

	c, err := h.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s\n", c.Title)
	for _, m := range c.Messages {
		fmt.Fprintf(w, "[%s] %s: %s\n", m.Timestamp.Local().Format("15:04:05"), m.Role, m.Content)
		for _, tc := range m.ToolCalls {
			fmt.Fprintf(w, "    tool %s %v\n", tc.Tool, tc.Args)
		}
	}
	return nil
}

func runHistoryExport(cmd *cobra.Command, args []string) error {
	h, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer h.Close()

	if historyOut != "" {
		if err := h.ExportFile(cmd.Context(), args[0], historyOut); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "exported %s to %s\n", args[0], historyOut)
		return nil
	}
	b, err := h.Export(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\n", b)
	return err
}

func runHistoryDelete(cmd *cobra.Command, args []string) error {
	h, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer h.Close()
	return h.Delete(cmd.Context(), args[0])
}

func runHistoryClear(cmd *cobra.Command, _ []string) error {
	h, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer h.Close()
	return h.Clear(cmd.Context())
}
