// Package tickconfig loads the tick executor's kill-switch and runtime
// configuration from YAML, mirroring the teacher's own scenario/config
// loading style in internal/harness/scenario.go (decode into a plain
// struct, validate defaults, fail fast on an unknown field).
package tickconfig

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Config holds the kill switches spec §8 names plus the seed a fresh
// World is constructed with when none is supplied on the command line.
type Config struct {
	Seed uint64 `yaml:"seed"`

	MaxActivations    int `yaml:"max_activations"`
	MaxEffects        int `yaml:"max_effects"`
	MaxRefiresPerRule int `yaml:"max_refires_per_rule"`
	MaxDerivedDepth   int `yaml:"max_derived_depth"`
	MaxQueryResult    int `yaml:"max_query_result"`
}

// Default returns the kill-switch defaults spec §8 names.
func Default() Config {
	return Config{
		Seed:              0,
		MaxActivations:    10000,
		MaxEffects:        100000,
		MaxRefiresPerRule: 1000,
		MaxDerivedDepth:   100,
		MaxQueryResult:    100000,
	}
}

// Load decodes YAML bytes into a Config seeded with Default, so a partial
// document only overrides the fields it mentions.
func Load(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("tickconfig: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects a non-positive kill switch, which would make the tick
// executor refuse to do any work at all.
func (c Config) Validate() error {
	for name, v := range map[string]int{
		"max_activations":      c.MaxActivations,
		"max_effects":          c.MaxEffects,
		"max_refires_per_rule": c.MaxRefiresPerRule,
		"max_derived_depth":    c.MaxDerivedDepth,
		"max_query_result":     c.MaxQueryResult,
	} {
		if v <= 0 {
			return fmt.Errorf("tickconfig: %s must be positive, got %d", name, v)
		}
	}
	return nil
}
