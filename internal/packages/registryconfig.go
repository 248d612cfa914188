package packages

import (
	"fmt"
	"sort"

	"gopkg.in/ini.v1"
)

// LoadRegistryConfigs parses configs/registries.conf: one [section] per
// registry, keyed by section name. A missing file yields an empty, valid
// configuration rather than an error — a fresh deployment has no registries
// configured until an operator adds one.
func LoadRegistryConfigs(path string) ([]RegistryConfig, error) {
	cfg, err := ini.LooseLoad(path)
	if err != nil {
		return nil, fmt.Errorf("load registries.conf: %w", err)
	}

	var out []RegistryConfig
	for _, section := range cfg.Sections() {
		if section.Name() == ini.DefaultSection {
			continue
		}
		rc := RegistryConfig{
			Name:       section.Name(),
			Enabled:    true,
			Priority:   100,
			TrustLevel: "untrusted",
			Type:       "adcl-v2",
		}
		if err := section.MapTo(&rc); err != nil {
			return nil, fmt.Errorf("registry %q: %w", section.Name(), err)
		}
		rc.Name = section.Name()
		out = append(out, rc)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out, nil
}

// SaveRegistryConfigs writes registries back to path in section-per-registry
// form, the inverse of LoadRegistryConfigs.
func SaveRegistryConfigs(path string, regs []RegistryConfig) error {
	cfg := ini.Empty()
	for _, rc := range regs {
		section, err := cfg.NewSection(rc.Name)
		if err != nil {
			return fmt.Errorf("registry %q: %w", rc.Name, err)
		}
		if err := section.ReflectFrom(&rc); err != nil {
			return fmt.Errorf("registry %q: %w", rc.Name, err)
		}
	}
	return cfg.SaveTo(path)
}
