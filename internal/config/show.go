package config

import (
	"fmt"
	"io"

	"github.com/BurntSushi/toml"
)

// RenderEffective writes the effective configuration to w as TOML,
// preceded by a comment naming where it was loaded from. This powers the
// "config show" command.
func RenderEffective(cfg *Config, path string, w io.Writer) error {
	source := path
	if source == "" {
		source = "built-in defaults"
	}

	if _, err := fmt.Fprintf(w, "# Effective configuration (%s)\n# cache dsn resolves to %s\n\n",
		source, CacheDSN(cfg)); err != nil {
		return err
	}

	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	return nil
}
