package appconfig

import "time"

// Default returns the built-in configuration, applied before config.yaml
// and environment overrides are layered on top.
func Default() Config {
	return Config{
		Aggregator: AggregatorConfig{
			Host: "localhost",
			Port: 8090,
		},
		Session: SessionConfig{
			ClientName:    "skein",
			ClientVersion: "dev",
			InitTimeout:   30 * time.Second,
			ListTimeout:   10 * time.Second,
			CallTimeout:   300 * time.Second,
		},
		Container: ContainerConfig{
			Network: "bridge",
		},
	}
}
