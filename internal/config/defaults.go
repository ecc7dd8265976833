package config

// Default values for configuration options. They work without any config
// file: the in-memory backend, a cache in the data directory, info logs.
const (
	defaultVersion        = "1.0"
	defaultCacheWorkers   = 4
	defaultDriverName     = "memory"
	defaultChunkSize      = "1MiB"
	defaultBandwidthLimit = "0"
	defaultMaxRetries     = 5
	defaultRetryBase      = "500ms"
	defaultLogLevel       = "info"
	defaultLogFormat      = "auto"
)

// CacheFileName is the cache database created in the data directory when
// cache.dsn is unset.
const CacheFileName = "cache.db"

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for TOML decoding (so unset
// fields retain defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Version: defaultVersion,
		Cache: CacheConfig{
			Workers: defaultCacheWorkers,
		},
		Driver: DriverConfig{
			Name: defaultDriverName,
		},
		Transfers: TransfersConfig{
			ChunkSize:      defaultChunkSize,
			BandwidthLimit: defaultBandwidthLimit,
			MaxRetries:     defaultMaxRetries,
			RetryBase:      defaultRetryBase,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
	}
}
