package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
)

// rootCmd represents the base command for the skein application.
var rootCmd = &cobra.Command{
	Use:   "skein",
	Short: "Orchestrate MCP tool sessions, workflows, and tool-server packages",
	Long: `skein runs a daemon that keeps persistent sessions with MCP tool
servers, executes declarative workflow graphs against them, and manages the
lifecycle of containerized tool-server packages.`,
	SilenceUsage: true,
}

// SetVersion sets the version for the root command, injected at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the entry point called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "skein version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(ExitCodeError)
	}
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(newWorkflowCmd())
	rootCmd.AddCommand(newPackageCmd())
}
