// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for vdrive. Values are layered as
// defaults -> config file, and the config file itself is located by the
// --config flag, then VDRIVE_CONFIG, then the per-user default path.
package config

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	// Version is the core protocol version every driver and middleware in
	// the chain must support.
	Version string `toml:"version"`

	// Middleware names the remote middleware chain, outermost first.
	Middleware []string `toml:"middleware"`

	Cache     CacheConfig     `toml:"cache"`
	Driver    DriverConfig    `toml:"driver"`
	Transfers TransfersConfig `toml:"transfers"`
	Logging   LoggingConfig   `toml:"logging"`
}

// CacheConfig selects the local node cache and sizes its worker pool.
type CacheConfig struct {
	// DSN is "sqlite:<path>" or a bare path. Empty means cache.db in the
	// per-user data directory.
	DSN     string `toml:"dsn"`
	Workers int    `toml:"workers"`
}

// DriverConfig names the base remote driver. Options are passed to its
// factory verbatim.
type DriverConfig struct {
	Name    string            `toml:"name"`
	Options map[string]string `toml:"options"`
}

// TransfersConfig controls chunked transfers: chunk size, bandwidth cap and
// the bounded retry policy applied to each chunk.
type TransfersConfig struct {
	ChunkSize      string `toml:"chunk_size"`
	BandwidthLimit string `toml:"bandwidth_limit"`
	MaxRetries     int    `toml:"max_retries"`
	RetryBase      string `toml:"retry_base"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}
