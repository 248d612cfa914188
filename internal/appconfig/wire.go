package appconfig

import (
	"path/filepath"

	"skein/internal/session"
)

// SessionTimeouts converts the configured per-operation-class durations
// into the type the Session Manager constructor expects.
func (c Config) SessionTimeouts() session.Timeouts {
	return session.Timeouts{
		Init: c.Session.InitTimeout,
		List: c.Session.ListTimeout,
		Call: c.Session.CallTimeout,
	}
}

// SessionClientInfo converts the configured client identity into the type
// the Session Manager constructor expects.
func (c Config) SessionClientInfo() session.ClientInfo {
	return session.ClientInfo{
		Name:    c.Session.ClientName,
		Version: c.Session.ClientVersion,
	}
}

// ConfigsDir, WorkflowsDir and VolumesDir resolve the standard
// baseDir-rooted subdirectories shared by the Registry Service, the
// workflow Loader/Store, and the Container Manager.
func (c Config) ConfigsDir() string   { return filepath.Join(c.BaseDir, "configs") }
func (c Config) WorkflowsDir() string { return filepath.Join(c.BaseDir, "workflows") }
func (c Config) VolumesDir() string   { return filepath.Join(c.BaseDir, "volumes") }
