package driveops

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/vdrive/internal/cache"
	"github.com/tonimelisma/vdrive/internal/config"
	"github.com/tonimelisma/vdrive/internal/remote/memory"
	"github.com/tonimelisma/vdrive/internal/vfs"
)

func newFactory(t *testing.T) *SessionFactory {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Middleware = []string{"logging"}

	return &SessionFactory{Config: cfg, DataDir: t.TempDir(), Logger: testLogger(t)}
}

func TestSessionFactory_OpenSyncClose(t *testing.T) {
	f := newFactory(t)
	ctx := context.Background()

	s, err := f.Open(ctx)
	require.NoError(t, err)

	for _, err := range s.Drive.Sync(ctx) {
		require.NoError(t, err)
	}

	root, err := s.Drive.Root(ctx)
	require.NoError(t, err)

	_, err = s.Drive.CreateFolder(ctx, root, "docs", false)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	assert.FileExists(t, filepath.Join(f.DataDir, config.CacheFileName))
	assert.FileExists(t, filepath.Join(f.DataDir, memory.StateFileName))

	// The remote state and the cache both survive into the next session.
	s, err = f.Open(ctx)
	require.NoError(t, err)
	defer s.Close()

	var changes []vfs.Change
	for c, err := range s.Drive.Sync(ctx) {
		require.NoError(t, err)
		changes = append(changes, c)
	}

	require.Len(t, changes, 1)
	assert.Equal(t, "docs", changes[0].Node.Name)

	n, err := s.Drive.NodeByPath(ctx, "/docs")
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.True(t, n.IsFolder)
}

func TestSessionFactory_OwnedPoolIsClosed(t *testing.T) {
	f := newFactory(t)

	s, err := f.Open(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	err = s.pool.Do(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, cache.ErrPoolClosed)
}

func TestSessionFactory_SharedPoolStaysOpen(t *testing.T) {
	f := newFactory(t)
	f.Pool = cache.NewPool(2, testLogger(t))
	t.Cleanup(f.Pool.Close)

	s, err := f.Open(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	assert.NoError(t, f.Pool.Do(context.Background(), func(context.Context) error { return nil }))
}

func TestSessionFactory_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"unknown driver", func(c *config.Config) { c.Driver.Name = "nowhere" }},
		{"unknown middleware", func(c *config.Config) { c.Middleware = []string{"compress"} }},
		{"protocol out of range", func(c *config.Config) { c.Version = "7.0" }},
		{"bad cache dsn", func(c *config.Config) { c.Cache.DSN = "postgres://db/cache" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFactory(t)
			tt.mutate(f.Config)

			_, err := f.Open(context.Background())
			assert.ErrorIs(t, err, vfs.ErrConfiguration)
		})
	}
}

func TestSessionFactory_WithSessionClosesOnError(t *testing.T) {
	f := newFactory(t)
	boom := errors.New("boom")

	var opened *Session

	err := f.WithSession(context.Background(), func(s *Session) error {
		opened = s
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = opened.pool.Do(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, cache.ErrPoolClosed)
}

func TestTransferOptionsFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Transfers.ChunkSize = "64KiB"
	cfg.Transfers.BandwidthLimit = "2MB/s"
	cfg.Transfers.MaxRetries = 7

	opts, err := transferOptions(cfg, testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, int64(64*1024), opts.ChunkSize)
	assert.Equal(t, 7, opts.MaxRetries)
	assert.NotNil(t, opts.Limiter)
}
