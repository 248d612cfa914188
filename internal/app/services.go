package app

import (
	"fmt"

	"skein/internal/appconfig"
	"skein/internal/packages"
	"skein/internal/registry"
	"skein/internal/session"
	"skein/internal/workflow"
)

// Services holds every long-lived collaborator the running process needs:
// the tool-server Session Manager, the Workflow Execution Engine (with its
// Loader and Store), the Registry Service for package/container lifecycle,
// and the tool-server Registry both share.
type Services struct {
	Sessions  *session.Manager
	Loader    *workflow.Loader
	Store     *workflow.Store
	Engine    *workflow.Engine
	Packages  *packages.Service
	Registry  *registry.Registry
}

// InitializeServices wires the three cores from a loaded appconfig.Config,
// following the teacher's API Service Locator ordering: shared
// dependencies first (registry, sessions), then the components that
// depend on them (workflow store/loader/engine, package service).
func InitializeServices(cfg *appconfig.Config) (*Services, error) {
	reg := registry.New()
	sessions := session.NewManager(cfg.SessionClientInfo(), cfg.SessionTimeouts())

	loader := workflow.NewLoader(cfg.BaseDir)
	store := workflow.NewStore(cfg.BaseDir)
	engine := workflow.NewEngine(loader, sessions, reg, store)

	docker := packages.NewDockerClient()
	pkgService, err := packages.NewService(cfg.BaseDir, reg, docker)
	if err != nil {
		return nil, fmt.Errorf("initializing package service: %w", err)
	}

	return &Services{
		Sessions: sessions,
		Loader:   loader,
		Store:    store,
		Engine:   engine,
		Packages: pkgService,
		Registry: reg,
	}, nil
}

// Close releases every resource Services opened: the workflow file
// watcher (if started), the execution log store, and pooled Session
// Manager connections.
func (s *Services) Close() error {
	var firstErr error
	if err := s.Loader.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.Store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.Sessions.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
