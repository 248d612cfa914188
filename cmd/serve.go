package cmd

import (
	"context"
	"fmt"

	"skein/internal/app"

	"github.com/spf13/cobra"
)

// serveDebug enables verbose logging across the daemon.
var serveDebug bool

// serveSilent suppresses all log output, errors included, useful when run
// under a supervisor that captures its own logs.
var serveSilent bool

// serveConfigDir overrides the default $HOME/.config/skein configuration
// directory.
var serveConfigDir string

// serveCmd starts the skein daemon: it reconciles containerized tool-server
// packages, watches the workflow directory for changes, and serves the
// trigger HTTP surface that starts workflow executions.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the skein daemon",
	Long: `Starts the skein daemon, which reconciles containerized tool-server
packages against the running Docker daemon, watches the workflow directory
for changes, and serves an HTTP surface for triggering workflow executions.

Configuration loads from <config-dir>/config.yaml (default
$HOME/.config/skein/config.yaml), overlaid with environment variables
(APP_BASE_DIR, MCP_NETWORK, ORCHESTRATOR_URL, ORCHESTRATOR_WS,
MCP_TIMEOUT_INIT, MCP_TIMEOUT_LIST, MCP_TIMEOUT_CALL).`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := app.NewConfig(serveDebug, serveSilent, serveConfigDir)

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return application.Run(ctx)
}

func init() {
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "enable debug logging")
	serveCmd.Flags().BoolVar(&serveSilent, "silent", false, "suppress all log output")
	serveCmd.Flags().StringVar(&serveConfigDir, "config-dir", "", "configuration directory (default $HOME/.config/skein)")
}
