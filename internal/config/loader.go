package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Default returns a configuration with sensible defaults applied. Values not
// listed here default to the zero value, which downstream packages interpret
// as "use the service default".
func Default() *Config {
	return &Config{
		LogLevel: LogInfo,
	}
}

// Load reads and validates a YAML configuration file from path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML configuration from r, applies defaults for
// absent fields and validates the result. Unknown fields are rejected so that
// typos surface at startup instead of silently falling back to defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = LogInfo
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for inconsistencies. All problems are
// reported at once, joined into a single error.
func (c *Config) Validate() error {
	var errs []error

	if !c.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level: unknown level %q", c.LogLevel))
	}
	if v := c.Live.Voice; v != "" && !slices.Contains(KnownVoices, v) {
		errs = append(errs, fmt.Errorf("live.voice: unknown voice %q (known: %v)", v, KnownVoices))
	}

	return errors.Join(errs...)
}
