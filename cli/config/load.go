package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML config file, expands environment variables, and
// unmarshals into a Config struct. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("cannot read config file %q: %w", path, err)
	}

	expanded := ExpandEnv(string(data))

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks value ranges that YAML typing cannot express.
func (c *Config) Validate() error {
	if c.Attempts < 0 {
		return fmt.Errorf("attempts must be >= 0, got %d", c.Attempts)
	}
	if c.QC.Threshold < 0 || c.QC.Threshold > 10 {
		return fmt.Errorf("qc.threshold must be within 0..10, got %v", c.QC.Threshold)
	}
	if f := c.Storage.TargetFraction; f < 0 || f > 1 {
		return fmt.Errorf("storage.target_fraction must be within 0..1, got %v", f)
	}
	if c.Storage.HardLimitBytes < 0 {
		return fmt.Errorf("storage.hard_limit_bytes must be >= 0, got %d", c.Storage.HardLimitBytes)
	}
	if c.Adapter.Retries != nil && *c.Adapter.Retries < 0 {
		return fmt.Errorf("adapter.retries must be >= 0, got %d", *c.Adapter.Retries)
	}
	return nil
}
