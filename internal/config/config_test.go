package config

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "1.0", cfg.Version)
	assert.Equal(t, "memory", cfg.Driver.Name)
	assert.Equal(t, 4, cfg.Cache.Workers)
	assert.Equal(t, "1MiB", cfg.Transfers.ChunkSize)
	assert.Equal(t, 5, cfg.Transfers.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Transfers.RetryBaseDuration())
	assert.Equal(t, "auto", cfg.Logging.LogFormat)
	require.NoError(t, Validate(cfg))
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeTestConfig(t, `
version = "1.0"
middleware = ["logging"]

[cache]
dsn = "sqlite:/tmp/vdrive-test.db"
workers = 8

[driver]
name = "memory"
options = { page_size = "50" }

[transfers]
chunk_size = "8MiB"
bandwidth_limit = "5MB/s"
max_retries = 3
retry_base = "2s"

[logging]
log_level = "debug"
log_format = "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"logging"}, cfg.Middleware)
	assert.Equal(t, "sqlite:/tmp/vdrive-test.db", CacheDSN(cfg))
	assert.Equal(t, 8, cfg.Cache.Workers)
	assert.Equal(t, "50", cfg.Driver.Options["page_size"])
	assert.Equal(t, 3, cfg.Transfers.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Transfers.RetryBaseDuration())
	assert.Equal(t, "json", cfg.Logging.LogFormat)
}

func TestLoad_PartialKeepsDefaults(t *testing.T) {
	path := writeTestConfig(t, `
[transfers]
max_retries = 0
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Transfers.MaxRetries)
	assert.Equal(t, "1MiB", cfg.Transfers.ChunkSize)
	assert.Equal(t, "memory", cfg.Driver.Name)
}

func TestLoad_UnknownKeys(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"top level typo", `verison = "1.0"`, `did you mean "version"`},
		{"section typo", "[cache]\ndsnn = \"x\"", `did you mean "dsn"`},
		{"unknown table", "[frobnicate]\nx = 1", `unknown config key "frobnicate"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeTestConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_ValidationAccumulates(t *testing.T) {
	path := writeTestConfig(t, `
version = "not a version"
middleware = ["logging", "logging"]

[cache]
workers = 0

[driver]
name = ""

[transfers]
chunk_size = "1KB"
bandwidth_limit = "fast"
max_retries = -1
retry_base = "soon"

[logging]
log_level = "loud"
log_format = "xml"
`)

	_, err := Load(path)
	require.Error(t, err)

	for _, want := range []string{
		"version", "listed twice", "cache.workers", "driver.name",
		"transfers.chunk_size", "transfers.bandwidth_limit", "transfers.max_retries",
		"transfers.retry_base", "logging.log_level", "logging.log_format",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoad_BadTOML(t *testing.T) {
	_, err := Load(writeTestConfig(t, "version = "))
	assert.Error(t, err)
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestResolve_Precedence(t *testing.T) {
	fromEnv := writeTestConfig(t, "[cache]\nworkers = 2")
	fromFlag := writeTestConfig(t, "[cache]\nworkers = 3")

	t.Setenv(EnvConfig, fromEnv)

	cfg, path, err := Resolve("")
	require.NoError(t, err)
	assert.Equal(t, fromEnv, path)
	assert.Equal(t, 2, cfg.Cache.Workers)

	cfg, path, err = Resolve(fromFlag)
	require.NoError(t, err)
	assert.Equal(t, fromFlag, path)
	assert.Equal(t, 3, cfg.Cache.Workers)

	_, _, err = Resolve(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err, "an explicitly named config file must exist")
}

func TestResolve_DefaultPathMayBeAbsent(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("XDG overrides apply on Linux only")
	}

	t.Setenv(EnvConfig, "")
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, path, err := Resolve("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfigPath(), path)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestPaths_XDG(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("XDG overrides apply on Linux only")
	}

	base := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(base, "cfg"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(base, "data"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(base, "cache"))

	assert.Equal(t, filepath.Join(base, "cfg", "vdrive"), DefaultConfigDir())
	assert.Equal(t, filepath.Join(base, "cfg", "vdrive", "config.toml"), DefaultConfigPath())
	assert.Equal(t, filepath.Join(base, "data", "vdrive"), DefaultDataDir())
	assert.Equal(t, filepath.Join(base, "cache", "vdrive"), DefaultCacheDir())
	assert.Equal(t, "sqlite:"+filepath.Join(base, "data", "vdrive", "cache.db"), CacheDSN(DefaultConfig()))

	require.NoError(t, EnsureDirs(DefaultDataDir(), ""))

	info, err := os.Stat(DefaultDataDir())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
	}{
		{"0", 0},
		{"", 0},
		{"1024", 1024},
		{"1KB", 1000},
		{"1KiB", 1024},
		{"10MiB", 10_485_760},
		{"1GB", 1_000_000_000},
		{"100B", 100},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSize(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}

	for _, input := range []string{"abc", "-5MB"} {
		_, err := ParseSize(input)
		assert.Error(t, err, input)
	}
}

func TestParseBandwidth(t *testing.T) {
	got, err := ParseBandwidth("5MB/s")
	require.NoError(t, err)
	assert.Equal(t, int64(5_000_000), got)

	got, err = ParseBandwidth("0")
	require.NoError(t, err)
	assert.Zero(t, got)

	_, err = ParseBandwidth("quick/s")
	assert.Error(t, err)
}

func TestRenderEffective(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Middleware = []string{"logging"}

	var buf bytes.Buffer
	require.NoError(t, RenderEffective(cfg, "", &buf))

	out := buf.String()
	assert.Contains(t, out, "built-in defaults")
	assert.Contains(t, out, `middleware = ["logging"]`)
	assert.Contains(t, out, "[transfers]")
	assert.Contains(t, out, `chunk_size = "1MiB"`)
}

func TestClosestMatch(t *testing.T) {
	assert.Equal(t, "workers", closestMatch("worker", knownKeys["cache"]))
	assert.Empty(t, closestMatch("completely_different", knownKeys["cache"]))
	assert.Equal(t, 3, levenshtein("kitten", "sitting"))
	assert.Equal(t, 4, levenshtein("", "abcd"))
}
