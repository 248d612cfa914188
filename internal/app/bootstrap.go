package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"skein/internal/appconfig"
	"skein/pkg/logging"
)

// Application bootstraps and runs the skein daemon: the Session Manager,
// Workflow Execution Engine, and Registry Service, plus the HTTP surface
// triggers call into.
//
// Bootstrap is two-phase, mirroring the teacher's pattern:
//  1. Load configuration and initialize logging.
//  2. Wire services and start the runtime.
type Application struct {
	config   *Config
	appCfg   *appconfig.Config
	services *Services
}

// NewApplication loads configuration and wires every service. Configuration
// resolution order is defaults, then cfg.ConfigDir/config.yaml (or
// $HOME/.config/skein if ConfigDir is empty), then environment overrides.
func NewApplication(cfg *Config) (*Application, error) {
	level := logging.LevelInfo
	if cfg.Debug {
		level = logging.LevelDebug
	}
	var out io.Writer = os.Stdout
	if cfg.Silent {
		out = io.Discard
	}
	logging.InitForCLI(level, out)

	configDir := cfg.ConfigDir
	if configDir == "" {
		configDir = appconfig.GetDefaultConfigDirOrPanic()
	}
	appCfg, err := appconfig.LoadConfig(configDir)
	if err != nil {
		logging.Error("Bootstrap", err, "failed to load configuration")
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	cfg.AppConfig = &appCfg

	services, err := InitializeServices(&appCfg)
	if err != nil {
		logging.Error("Bootstrap", err, "failed to initialize services")
		return nil, fmt.Errorf("initializing services: %w", err)
	}

	return &Application{config: cfg, appCfg: &appCfg, services: services}, nil
}

// Services exposes the wired collaborators for commands that need them
// without going through Run (e.g. `skein workflow run`).
func (a *Application) Services() *Services { return a.services }

// Config returns the resolved configuration.
func (a *Application) Config() *appconfig.Config { return a.appCfg }

// Run starts the daemon: reconciles container state against the running
// Docker daemon, starts the workflow-directory watcher, serves the
// trigger HTTP surface, notifies systemd readiness, and blocks until the
// context is cancelled or an interrupt signal arrives.
func (a *Application) Run(ctx context.Context) error {
	return runDaemon(ctx, a.appCfg, a.services)
}
