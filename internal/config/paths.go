package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// Application directory name used across all platforms.
const appName = "vdrive"

// Config file name.
const configFileName = "config.toml"

// dirOwnerOnly is the permission for directories created on demand.
const dirOwnerOnly = 0o700

// xdgDir describes one per-user directory kind.
type xdgDir struct {
	env      string   // XDG override, honored on Linux
	fallback []string // below $HOME elsewhere on Linux and other Unixes
	darwin   []string // below $HOME on macOS
}

var (
	configDir = xdgDir{"XDG_CONFIG_HOME", []string{".config"}, []string{"Library", "Application Support"}}
	dataDir   = xdgDir{"XDG_DATA_HOME", []string{".local", "share"}, []string{"Library", "Application Support"}}
	cacheDir  = xdgDir{"XDG_CACHE_HOME", []string{".cache"}, []string{"Library", "Caches"}}
)

func (d xdgDir) resolve() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case "linux":
		if xdg := os.Getenv(d.env); xdg != "" {
			return filepath.Join(xdg, appName)
		}
	case "darwin":
		return filepath.Join(append(append([]string{home}, d.darwin...), appName)...)
	}

	return filepath.Join(append(append([]string{home}, d.fallback...), appName)...)
}

// DefaultConfigDir returns the per-user directory for config files
// (~/.config/vdrive on Linux, honoring XDG_CONFIG_HOME).
func DefaultConfigDir() string {
	return configDir.resolve()
}

// DefaultDataDir returns the per-user directory for application data such
// as the node cache (~/.local/share/vdrive on Linux, honoring XDG_DATA_HOME).
func DefaultDataDir() string {
	return dataDir.resolve()
}

// DefaultCacheDir returns the per-user directory for disposable files
// (~/.cache/vdrive on Linux, honoring XDG_CACHE_HOME).
func DefaultCacheDir() string {
	return cacheDir.resolve()
}

// DefaultConfigPath returns the full path to the default config file.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, configFileName)
}

// CacheDSN returns the configured cache DSN, defaulting to cache.db in the
// data directory.
func CacheDSN(cfg *Config) string {
	if cfg.Cache.DSN != "" {
		return cfg.Cache.DSN
	}

	return "sqlite:" + filepath.Join(DefaultDataDir(), CacheFileName)
}

// EnsureDirs creates each non-empty directory (and its parents) with
// owner-only permissions.
func EnsureDirs(dirs ...string) error {
	for _, dir := range dirs {
		if dir == "" {
			continue
		}

		if err := os.MkdirAll(dir, dirOwnerOnly); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	return nil
}
