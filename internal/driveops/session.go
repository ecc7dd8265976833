package driveops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/tonimelisma/vdrive/internal/cache"
	"github.com/tonimelisma/vdrive/internal/config"
	"github.com/tonimelisma/vdrive/internal/drive"
	"github.com/tonimelisma/vdrive/internal/remote"
)

// Session is one opened drive: the remote chain, the node cache behind
// it and the transfer helpers over both. Close releases the cache and,
// when the session created it, the worker pool.
type Session struct {
	Drive     *drive.Drive
	Remote    remote.Driver
	Transfers *TransferManager
	Config    *config.Config

	cache    cache.NodeCache
	pool     *cache.Pool
	ownsPool bool
	logger   *slog.Logger
}

// SessionFactory opens Sessions from a loaded configuration.
type SessionFactory struct {
	Config *config.Config

	// Pool is shared with the caller when set; the session never closes it.
	// When nil each session creates and owns a pool of Config.Cache.Workers.
	Pool *cache.Pool

	// DataDir overrides the per-user data directory handed to drivers and
	// used for the default cache database.
	DataDir string

	Logger *slog.Logger
}

// NewSessionFactory returns a factory for cfg.
func NewSessionFactory(cfg *config.Config, logger *slog.Logger) *SessionFactory {
	return &SessionFactory{Config: cfg, Logger: logger}
}

// Open builds the remote chain, opens the cache and assembles the Drive.
// Any failure releases what was already acquired.
func (f *SessionFactory) Open(ctx context.Context) (*Session, error) {
	cfg := f.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dataDir := f.DataDir
	if dataDir == "" {
		dataDir = config.DefaultDataDir()
	}

	if err := config.EnsureDirs(dataDir); err != nil {
		return nil, err
	}

	opts, err := transferOptions(cfg, logger)
	if err != nil {
		return nil, err
	}

	chain, err := remote.Build(ctx, cfg.Version, cfg.Driver.Name, cfg.Middleware, remote.Context{
		Logger:  logger,
		DataDir: dataDir,
		Options: cfg.Driver.Options,
	})
	if err != nil {
		return nil, err
	}

	dsn := cfg.Cache.DSN
	if dsn == "" {
		dsn = "sqlite:" + filepath.Join(dataDir, config.CacheFileName)
	}

	dbPath, err := cache.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}

	if err := config.EnsureDirs(filepath.Dir(dbPath)); err != nil {
		return nil, err
	}

	pool, owns := f.Pool, false
	if pool == nil {
		pool, owns = cache.NewPool(cfg.Cache.Workers, logger), true
	}

	c, err := cache.Open(ctx, dsn, pool, logger)
	if err != nil {
		if owns {
			pool.Close()
		}

		return nil, err
	}

	d := drive.New(chain, c, logger)

	logger.Debug("session opened",
		slog.String("driver", cfg.Driver.Name),
		slog.Any("middleware", cfg.Middleware),
		slog.String("cache", dbPath),
	)

	return &Session{
		Drive:     d,
		Remote:    chain,
		Transfers: NewTransferManager(d, d, opts, logger),
		Config:    cfg,
		cache:     c,
		pool:      pool,
		ownsPool:  owns,
		logger:    logger,
	}, nil
}

// Close closes the cache and any pool the session owns.
func (s *Session) Close() error {
	err := s.cache.Close()

	if s.ownsPool {
		s.pool.Close()
	}

	if err != nil {
		return fmt.Errorf("closing session: %w", err)
	}

	return nil
}

// WithSession opens a session, runs fn and closes the session on every
// path out of fn.
func (f *SessionFactory) WithSession(ctx context.Context, fn func(*Session) error) (err error) {
	s, err := f.Open(ctx)
	if err != nil {
		return err
	}

	defer func() {
		err = errors.Join(err, s.Close())
	}()

	return fn(s)
}

func transferOptions(cfg *config.Config, logger *slog.Logger) (TransferOptions, error) {
	chunk, err := config.ParseSize(cfg.Transfers.ChunkSize)
	if err != nil {
		return TransferOptions{}, fmt.Errorf("transfers.chunk_size: %w", err)
	}

	limiter, err := NewBandwidthLimiter(cfg.Transfers.BandwidthLimit, logger)
	if err != nil {
		return TransferOptions{}, err
	}

	return TransferOptions{
		ChunkSize:  chunk,
		MaxRetries: cfg.Transfers.MaxRetries,
		RetryBase:  cfg.Transfers.RetryBaseDuration(),
		Limiter:    limiter,
	}, nil
}
