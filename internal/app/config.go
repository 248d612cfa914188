package app

import "skein/internal/appconfig"

// Config holds the application's bootstrap configuration, before
// appconfig.LoadConfig has resolved config.yaml and the environment.
type Config struct {
	// Debug enables verbose logging across the application.
	Debug bool
	// Silent suppresses all log output (used by non-interactive CLI
	// subcommands that print their own structured result instead).
	Silent bool
	// ConfigDir, when set, overrides the default $HOME/.config/skein
	// configuration directory.
	ConfigDir string

	// AppConfig is populated by NewApplication once LoadConfig succeeds.
	AppConfig *appconfig.Config
}

// NewConfig creates a new application bootstrap configuration.
func NewConfig(debug, silent bool, configDir string) *Config {
	return &Config{
		Debug:     debug,
		Silent:    silent,
		ConfigDir: configDir,
	}
}
