package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/live-voice-lab/internal/app"
	"github.com/live-voice-lab/internal/mcp"
	"github.com/live-voice-lab/internal/metrics"
	"github.com/live-voice-lab/internal/tools"
)

var toolArgs []string

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List and call the assistant's tools",
}

var toolsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available tools",
	Args:  cobra.NoArgs,
	RunE:  runToolsList,
}

var toolsCallCmd = &cobra.Command{
	Use:     "call <tool>",
	Short:   "Call a tool with --arg key=value pairs",
	Example: "  assistant tools call get_weather --arg location=Paris --arg units=metric",
	Args:    cobra.ExactArgs(1),
	RunE:    runToolsCall,
}

var toolsAskCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Route a question to a tool the way a spoken utterance would be",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runToolsAsk,
}

func init() {
	toolsCallCmd.Flags().StringArrayVar(&toolArgs, "arg", nil, "tool argument as key=value (repeatable)")
	toolsCmd.AddCommand(toolsListCmd, toolsCallCmd, toolsAskCmd)
	rootCmd.AddCommand(toolsCmd)
}

func connectTools(cmd *cobra.Command) (*mcp.ClientWrapper, error) {
	if !cfg.Tools.Enabled {
		return nil, fmt.Errorf("tools are disabled (tools.enabled=false)")
	}
	return app.ConnectTools(cmd.Context(), cfg, metrics.Default())
}

func runToolsList(cmd *cobra.Command, _ []string) error {
	client, err := connectTools(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	names, err := client.ListTools(cmd.Context())
	if err != nil {
		return err
	}
	for _, n := range names {
		fmt.Fprintln(cmd.OutOrStdout(), n)
	}
	return nil
}

func runToolsCall(cmd *cobra.Command, args []string) error {
	parsed, err := parseToolArgs(toolArgs)
	if err != nil {
		return err
	}
	client, err := connectTools(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	res := tools.NewDispatcher(client, cfg.Tools.Timeout).Call(cmd.Context(), args[0], parsed)
	return printResult(cmd, res)
}

func runToolsAsk(cmd *cobra.Command, args []string) error {
	client, err := connectTools(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	question := strings.Join(args, " ")
	res := tools.NewDispatcher(client, cfg.Tools.Timeout).Dispatch(cmd.Context(), question)
	if res == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "no tool matches that question")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %v\n", res.Tool, res.Args)
	return printResult(cmd, res)
}

func printResult(cmd *cobra.Command, res *tools.Result) error {
	if !res.OK() {
		return fmt.Errorf("%s: %s", res.Tool, tools.ErrorMessage(res.Err))
	}
	var pretty any
	if err := json.Unmarshal(res.Data, &pretty); err != nil {
		return err
	}
	b, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\n", b)
	return err
}

// parseToolArgs turns key=value pairs into tool arguments. Values that are
// valid JSON scalars (numbers, booleans) keep their type.
func parseToolArgs(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --arg %q, want key=value", p)
		}
		var typed any
		if err := json.Unmarshal([]byte(v), &typed); err == nil {
			switch typed.(type) {
			case float64, bool:
				out[k] = typed
				continue
			}
		}
		out[k] = v
	}
	return out, nil
}
