package cmd

import (
	"fmt"
	"net/http"
	"time"

	"skein/internal/appconfig"

	"github.com/spf13/cobra"
)

// versionCheckTimeout bounds how long we wait for the daemon's /healthz.
const versionCheckTimeout = 2 * time.Second

// newVersionCmd creates the command displaying the CLI version and, if the
// daemon is reachable on its trigger surface, a liveness confirmation.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the skein CLI version",
		Long: `Displays the skein CLI version and, if the daemon is reachable on its
trigger HTTP surface, confirms it is alive.`,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "skein version %s\n", rootCmd.Version)

			cfg := appconfig.Default()
			if err := pingDaemon(cfg); err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "daemon: not reachable (%v)\n", err)
				return
			}
			fmt.Fprintf(cmd.OutOrStdout(), "daemon: running\n")
		},
	}
}

// pingDaemon checks the daemon's health endpoint using the default
// aggregator address. It deliberately does not load a user config file so
// "skein version" stays a fast, side-effect-free check.
func pingDaemon(cfg appconfig.Config) error {
	client := http.Client{Timeout: versionCheckTimeout}
	url := fmt.Sprintf("http://%s:%d/healthz", cfg.Aggregator.Host, cfg.Aggregator.Port)
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
