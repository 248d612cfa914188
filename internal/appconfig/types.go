package appconfig

import "time"

// Config is the top-level configuration structure for skein, mirroring the
// defaults-then-overlay shape the rest of the ambient stack expects.
type Config struct {
	// BaseDir roots every relative path the process resolves: configs/,
	// workflows/{templates,custom}, volumes/{executions,logs}.
	BaseDir string `yaml:"baseDir,omitempty"`

	Aggregator AggregatorConfig `yaml:"aggregator"`
	Session    SessionConfig    `yaml:"session"`
	Container  ContainerConfig  `yaml:"container"`
}

// AggregatorConfig configures the serve command's HTTP surface.
type AggregatorConfig struct {
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`

	// AuthToken, if set, is required as a bearer token on incoming trigger
	// requests. AuthTokenFile keeps it out of config.yaml and the process
	// environment; it is resolved once at load time.
	AuthToken     string `yaml:"authToken,omitempty"`
	AuthTokenFile string `yaml:"authTokenFile,omitempty"`
}

// SessionConfig configures the tool-server Session Manager's identity and
// per-operation-class timeouts.
type SessionConfig struct {
	ClientName    string        `yaml:"clientName,omitempty"`
	ClientVersion string        `yaml:"clientVersion,omitempty"`
	InitTimeout   time.Duration `yaml:"initTimeout,omitempty"`
	ListTimeout   time.Duration `yaml:"listTimeout,omitempty"`
	CallTimeout   time.Duration `yaml:"callTimeout,omitempty"`
}

// ContainerConfig configures the Container Manager's network-attachment
// defaults and orchestrator-facing URLs injected into created containers.
type ContainerConfig struct {
	Network        string `yaml:"network,omitempty"`
	OrchestratorURL string `yaml:"orchestratorUrl,omitempty"`
	OrchestratorWS  string `yaml:"orchestratorWs,omitempty"`
}
