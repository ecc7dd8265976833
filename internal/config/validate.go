package config

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/hashicorp/go-version"
)

// Validation range constants.
const (
	minCacheWorkers = 1
	maxCacheWorkers = 64
	minChunkBytes   = 4 * 1024
	maxChunkBytes   = 1024 * 1024 * 1024
	maxRetries      = 100
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	if _, err := version.NewVersion(cfg.Version); err != nil {
		errs = append(errs, fmt.Errorf("version: %w", err))
	}

	errs = append(errs, validateMiddleware(cfg.Middleware)...)
	errs = append(errs, validateCache(&cfg.Cache)...)
	errs = append(errs, validateDriver(&cfg.Driver)...)
	errs = append(errs, validateTransfers(&cfg.Transfers)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

func validateMiddleware(names []string) []error {
	var errs []error

	seen := make(map[string]bool, len(names))

	for i, name := range names {
		switch {
		case strings.TrimSpace(name) == "":
			errs = append(errs, fmt.Errorf("middleware[%d]: must not be empty", i))
		case seen[name]:
			errs = append(errs, fmt.Errorf("middleware[%d]: %q listed twice", i, name))
		}

		seen[name] = true
	}

	return errs
}

func validateCache(c *CacheConfig) []error {
	if c.Workers < minCacheWorkers || c.Workers > maxCacheWorkers {
		return []error{fmt.Errorf("cache.workers: must be between %d and %d, got %d",
			minCacheWorkers, maxCacheWorkers, c.Workers)}
	}

	return nil
}

func validateDriver(d *DriverConfig) []error {
	if strings.TrimSpace(d.Name) == "" {
		return []error{errors.New("driver.name: must not be empty")}
	}

	return nil
}

func validateTransfers(t *TransfersConfig) []error {
	var errs []error

	chunk, err := ParseSize(t.ChunkSize)

	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("transfers.chunk_size: %w", err))
	case chunk < minChunkBytes || chunk > maxChunkBytes:
		errs = append(errs, fmt.Errorf("transfers.chunk_size: must be between %d and %d bytes, got %d",
			minChunkBytes, maxChunkBytes, chunk))
	}

	if _, err := ParseBandwidth(t.BandwidthLimit); err != nil {
		errs = append(errs, fmt.Errorf("transfers.bandwidth_limit: %w", err))
	}

	if t.MaxRetries < 0 || t.MaxRetries > maxRetries {
		errs = append(errs, fmt.Errorf("transfers.max_retries: must be between 0 and %d, got %d",
			maxRetries, t.MaxRetries))
	}

	if d, err := time.ParseDuration(t.RetryBase); err != nil || d <= 0 {
		errs = append(errs, fmt.Errorf("transfers.retry_base: must be a positive duration, got %q", t.RetryBase))
	}

	return errs
}

var validLogFormats = []string{"auto", "text", "json"}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if _, err := ParseLogLevel(l.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("logging.log_level: %w", err))
	}

	if !slices.Contains(validLogFormats, l.LogFormat) {
		errs = append(errs, fmt.Errorf("logging.log_format: must be one of %s, got %q",
			strings.Join(validLogFormats, ", "), l.LogFormat))
	}

	return errs
}

// ParseLogLevel maps a config log level name to a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("must be one of debug, info, warn, error, got %q", s)
	}
}

// RetryBaseDuration returns the parsed retry_base. Call only on a
// validated config.
func (t *TransfersConfig) RetryBaseDuration() time.Duration {
	d, err := time.ParseDuration(t.RetryBase)
	if err != nil {
		return 0
	}

	return d
}
