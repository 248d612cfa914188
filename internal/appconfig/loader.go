package appconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"skein/pkg/logging"
)

const (
	userConfigDir  = ".config/skein"
	configFileName = "config.yaml"
)

// GetDefaultConfigDirOrPanic returns $HOME/.config/skein, the directory
// LoadConfig falls back to when no path is given.
func GetDefaultConfigDirOrPanic() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Errorf("could not determine user config directory: %w", err))
	}
	return filepath.Join(homeDir, userConfigDir)
}

// LoadConfig loads configuration from configDir/config.yaml over the
// built-in defaults, then applies environment variable overrides and
// resolves *File secret indirections. A missing config.yaml is not an
// error — the defaults (plus environment) are used as-is.
func LoadConfig(configDir string) (Config, error) {
	cfg := Default()

	configFilePath := filepath.Join(configDir, configFileName)
	data, err := os.ReadFile(configFilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info("ConfigLoader", "no config.yaml found at %s, using defaults", configFilePath)
		} else {
			return Config{}, fmt.Errorf("reading %s: %w", configFilePath, err)
		}
	} else {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing %s: %w", configFilePath, err)
		}
		logging.Info("ConfigLoader", "loaded configuration from %s", configFilePath)
	}

	applyEnvOverrides(&cfg, configDir)

	if err := resolveSecretFiles(&cfg); err != nil {
		return Config{}, fmt.Errorf("resolving secret files: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides layers the documented environment variables over
// whatever config.yaml (or the defaults) produced. BaseDir resolution
// happens here too: APP_BASE_DIR wins outright, else configDir is used,
// matching the rest of the system's baseDir-rooted path conventions.
func applyEnvOverrides(cfg *Config, configDir string) {
	cfg.BaseDir = configDir
	if v := os.Getenv("APP_BASE_DIR"); v != "" {
		cfg.BaseDir = v
	}

	if v := os.Getenv("MCP_NETWORK"); v != "" {
		cfg.Container.Network = v
	}
	if v := os.Getenv("ORCHESTRATOR_URL"); v != "" {
		cfg.Container.OrchestratorURL = v
	}
	if v := os.Getenv("ORCHESTRATOR_WS"); v != "" {
		cfg.Container.OrchestratorWS = v
	}

	if d, ok := envDuration("MCP_TIMEOUT_INIT"); ok {
		cfg.Session.InitTimeout = d
	}
	if d, ok := envDuration("MCP_TIMEOUT_LIST"); ok {
		cfg.Session.ListTimeout = d
	}
	if d, ok := envDuration("MCP_TIMEOUT_CALL"); ok {
		cfg.Session.CallTimeout = d
	}
}

// envDuration parses a timeout environment variable given in whole
// seconds, the convention the rest of the pack's operator-facing env
// vars use.
func envDuration(name string) (time.Duration, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		logging.Warn("ConfigLoader", "ignoring malformed %s=%q: %v", name, v, err)
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

// resolveSecretFiles reads secrets from *File config options, the
// recommended way to hand secrets to the process without putting them in
// config.yaml or the environment.
func resolveSecretFiles(cfg *Config) error {
	if cfg.Aggregator.AuthTokenFile != "" && cfg.Aggregator.AuthToken == "" {
		secret, err := readSecretFile(cfg.Aggregator.AuthTokenFile)
		if err != nil {
			return fmt.Errorf("reading aggregator auth token from %s: %w", cfg.Aggregator.AuthTokenFile, err)
		}
		cfg.Aggregator.AuthToken = secret
		logging.Info("ConfigLoader", "loaded aggregator auth token from file")
	}
	return nil
}

func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
