package abandoned

import (
	"encoding/json"
	"fmt"
)

// Config tunes one detection run. Zero value means scan everything the
// module supports and drop zero-cost findings.
type Config struct {
	// ResourceTypes narrows the scan to these types. Empty means all
	// supported types.
	ResourceTypes []string `json:"resourceTypes,omitempty"`

	// MinConfidenceScore drops findings scored below it. Zero keeps
	// every finding, including uncertain ones.
	MinConfidenceScore int `json:"minConfidenceScore,omitempty"`

	// IncludeZeroCost keeps findings whose estimated monthly cost is
	// zero, such as Basic-tier public IPs.
	IncludeZeroCost bool `json:"includeZeroCost,omitempty"`
}

// DefaultConfig scans all supported resource types.
func DefaultConfig() Config {
	return Config{ResourceTypes: SupportedResourceTypes()}
}

// ParseConfig decodes the raw configuration map of a module input.
// Unknown resource types are rejected; an empty type list falls back to
// all supported types.
func ParseConfig(raw map[string]any) (Config, error) {
	cfg := DefaultConfig()
	if len(raw) == 0 {
		return cfg, nil
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return Config{}, fmt.Errorf("encoding configuration: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decoding configuration: %w", err)
	}

	if len(cfg.ResourceTypes) == 0 {
		cfg.ResourceTypes = SupportedResourceTypes()
	} else {
		supported := make(map[string]bool, len(SupportedResourceTypes()))
		for _, t := range SupportedResourceTypes() {
			supported[t] = true
		}
		for _, t := range cfg.ResourceTypes {
			if !supported[t] {
				return Config{}, fmt.Errorf("unsupported resource type %q", t)
			}
		}
	}
	if cfg.MinConfidenceScore < 0 || cfg.MinConfidenceScore > 100 {
		return Config{}, fmt.Errorf("minConfidenceScore %d out of range 0-100", cfg.MinConfidenceScore)
	}
	return cfg, nil
}

// enabled reports whether the config selects the given resource type.
func (c Config) enabled(resourceType string) bool {
	for _, t := range c.ResourceTypes {
		if t == resourceType {
			return true
		}
	}
	return false
}
