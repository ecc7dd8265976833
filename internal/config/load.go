package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal and come with "did you mean?"
// suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve locates the config file (flagPath, then VDRIVE_CONFIG, then the
// default path) and loads it. An explicitly named file must exist; the
// default one may be absent. It returns the path it settled on.
func Resolve(flagPath string) (*Config, string, error) {
	path := flagPath
	if path == "" {
		path = ReadEnvOverrides().ConfigPath
	}

	if path != "" {
		cfg, err := Load(path)
		return cfg, path, err
	}

	path = DefaultConfigPath()
	if path == "" {
		return DefaultConfig(), "", nil
	}

	cfg, err := LoadOrDefault(path)

	return cfg, path, err
}
