package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"skein/internal/app"
	"skein/internal/workflow"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

// workflowParams collects repeated --param key=value flags for "workflow run".
var workflowParams []string

func newWorkflowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Run and inspect workflow definitions",
	}
	cmd.AddCommand(newWorkflowListCmd())
	cmd.AddCommand(newWorkflowRunCmd())
	cmd.AddCommand(newWorkflowReplCmd())
	return cmd
}

// loadWorkflowApp wires an Application using default configuration
// resolution, for commands that need direct access to the engine rather
// than the daemon's trigger surface.
func loadWorkflowApp() (*app.Application, error) {
	return app.NewApplication(app.NewConfig(false, true, ""))
}

func newWorkflowListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available workflow definitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := loadWorkflowApp()
			if err != nil {
				return err
			}
			defer application.Services().Close()

			names, err := application.Services().Loader.List()
			if err != nil {
				return fmt.Errorf("listing workflows: %w", err)
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleRounded)
			t.AppendHeader(table.Row{
				text.Colors{text.FgHiBlue, text.Bold}.Sprint("NAME"),
			})
			for _, name := range names {
				t.AppendRow(table.Row{name})
			}
			t.Render()
			return nil
		},
	}
}

func newWorkflowRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <name>",
		Short: "Execute a workflow and print its result",
		Args:  cobra.ExactArgs(1),
		RunE:  runWorkflowRun,
	}
	cmd.Flags().StringArrayVar(&workflowParams, "param", nil, "workflow parameter as key=value (repeatable)")
	return cmd
}

func parseParams(raw []string) (map[string]interface{}, error) {
	params := make(map[string]interface{}, len(raw))
	for _, kv := range raw {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid --param %q, expected key=value", kv)
		}
		params[parts[0]] = parts[1]
	}
	return params, nil
}

func runWorkflowRun(cmd *cobra.Command, args []string) error {
	name := args[0]
	params, err := parseParams(workflowParams)
	if err != nil {
		return err
	}

	application, err := loadWorkflowApp()
	if err != nil {
		return err
	}
	defer application.Services().Close()

	def, err := application.Services().Loader.Load(name)
	if err != nil {
		return fmt.Errorf("loading workflow %q: %w", name, err)
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = fmt.Sprintf(" Running workflow %q...", name)
	s.Start()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	result, err := application.Services().Engine.Execute(ctx, def, params, "cli", "")
	s.Stop()
	if err != nil {
		return fmt.Errorf("executing workflow %q: %w", name, err)
	}

	printExecutionResult(cmd.OutOrStdout(), result)
	if result.Status == workflow.StatusFailed {
		return fmt.Errorf("workflow %q finished with status %s", name, result.Status)
	}
	return nil
}

func printExecutionResult(w io.Writer, result *workflow.ExecutionResult) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("NODE"),
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("STATE"),
	})
	for node, state := range result.NodeStates {
		color := text.FgGreen
		if state == workflow.NodeError {
			color = text.FgRed
		}
		t.AppendRow(table.Row{node, text.Colors{color}.Sprint(state)})
	}
	t.Render()

	statusColor := text.FgGreen
	if result.Status == workflow.StatusFailed {
		statusColor = text.FgRed
	}
	fmt.Fprintf(w, "\nexecution %s: %s\n", result.ID, text.Colors{statusColor, text.Bold}.Sprint(result.Status))
	for _, e := range result.Errors {
		fmt.Fprintf(w, "  error: %s\n", e.Message)
	}
}

func newWorkflowReplCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Interactively run workflows",
		Args:  cobra.NoArgs,
		RunE:  runWorkflowRepl,
	}
}

func runWorkflowRepl(cmd *cobra.Command, args []string) error {
	application, err := loadWorkflowApp()
	if err != nil {
		return err
	}
	defer application.Services().Close()

	names, err := application.Services().Loader.List()
	if err != nil {
		return fmt.Errorf("listing workflows: %w", err)
	}
	items := []readline.PrefixCompleterInterface{
		readline.PcItem("list"),
		readline.PcItem("exit"),
		readline.PcItem("help"),
	}
	for _, n := range names {
		items = append(items, readline.PcItem(n))
	}
	completer := readline.NewPrefixCompleter(items...)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "skein> ",
		HistoryFile:       os.TempDir() + "/.skein_workflow_history",
		AutoComplete:      completer,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("creating readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprintln(cmd.OutOrStdout(), "skein workflow repl. Type 'list', '<name> [key=value]...', or 'exit'.")
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err != nil {
			return nil
		}
		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		fields := strings.Fields(input)
		switch fields[0] {
		case "exit", "quit":
			return nil
		case "help":
			fmt.Fprintln(cmd.OutOrStdout(), "commands: list, <workflow> [key=value]..., exit")
		case "list":
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
		default:
			def, err := application.Services().Loader.Load(fields[0])
			if err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "error: %v\n", err)
				continue
			}
			params, err := parseParams(fields[1:])
			if err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "error: %v\n", err)
				continue
			}
			result, err := application.Services().Engine.Execute(context.Background(), def, params, "repl", "")
			if err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "error: %v\n", err)
				continue
			}
			printExecutionResult(cmd.OutOrStdout(), result)
		}
	}
}
