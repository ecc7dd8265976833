package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tonimelisma/vdrive/internal/vfs"
)

// Dispatch returns a NodeCache that runs every call of store on pool.
// Closing it closes store but not pool.
func Dispatch(store NodeCache, pool *Pool) NodeCache {
	return &pooled{store: store, pool: pool}
}

type pooled struct {
	store NodeCache
	pool  *Pool
}

func (p *pooled) Root(ctx context.Context) (*vfs.Node, error) {
	return call(ctx, p.pool, p.store.Root)
}

func (p *pooled) NodeByID(ctx context.Context, id string) (*vfs.Node, error) {
	return call(ctx, p.pool, func(ctx context.Context) (*vfs.Node, error) {
		return p.store.NodeByID(ctx, id)
	})
}

func (p *pooled) NodeByPath(ctx context.Context, path string) (*vfs.Node, error) {
	return call(ctx, p.pool, func(ctx context.Context) (*vfs.Node, error) {
		return p.store.NodeByPath(ctx, path)
	})
}

func (p *pooled) PathOf(ctx context.Context, n *vfs.Node) (string, error) {
	return call(ctx, p.pool, func(ctx context.Context) (string, error) {
		return p.store.PathOf(ctx, n)
	})
}

func (p *pooled) ChildByName(ctx context.Context, name, parentID string) (*vfs.Node, error) {
	return call(ctx, p.pool, func(ctx context.Context) (*vfs.Node, error) {
		return p.store.ChildByName(ctx, name, parentID)
	})
}

func (p *pooled) Children(ctx context.Context, parentID string) ([]*vfs.Node, error) {
	return call(ctx, p.pool, func(ctx context.Context) ([]*vfs.Node, error) {
		return p.store.Children(ctx, parentID)
	})
}

func (p *pooled) TrashedNodes(ctx context.Context) ([]*vfs.Node, error) {
	return call(ctx, p.pool, p.store.TrashedNodes)
}

func (p *pooled) FindByRegex(ctx context.Context, pattern string) ([]*vfs.Node, error) {
	return call(ctx, p.pool, func(ctx context.Context) ([]*vfs.Node, error) {
		return p.store.FindByRegex(ctx, pattern)
	})
}

func (p *pooled) FindOrphans(ctx context.Context) ([]*vfs.Node, error) {
	return call(ctx, p.pool, p.store.FindOrphans)
}

func (p *pooled) FindMultiParent(ctx context.Context) ([]*vfs.Node, error) {
	return call(ctx, p.pool, p.store.FindMultiParent)
}

func (p *pooled) InsertRoot(ctx context.Context, root *vfs.Node) error {
	return p.pool.Do(ctx, func(ctx context.Context) error {
		return p.store.InsertRoot(ctx, root)
	})
}

func (p *pooled) ApplyChanges(ctx context.Context, changes []vfs.Change, next vfs.CheckPoint) error {
	return p.pool.Do(ctx, func(ctx context.Context) error {
		return p.store.ApplyChanges(ctx, changes, next)
	})
}

func (p *pooled) CheckPoint(ctx context.Context) (vfs.CheckPoint, bool, error) {
	type result struct {
		cp vfs.CheckPoint
		ok bool
	}

	r, err := call(ctx, p.pool, func(ctx context.Context) (result, error) {
		cp, ok, err := p.store.CheckPoint(ctx)
		return result{cp, ok}, err
	})

	return r.cp, r.ok, err
}

func (p *pooled) Metadata(ctx context.Context, key string) (string, error) {
	return call(ctx, p.pool, func(ctx context.Context) (string, error) {
		return p.store.Metadata(ctx, key)
	})
}

func (p *pooled) SetMetadata(ctx context.Context, key, value string) error {
	return p.pool.Do(ctx, func(ctx context.Context) error {
		return p.store.SetMetadata(ctx, key, value)
	})
}

func (p *pooled) Close() error {
	return p.store.Close()
}

// Open opens the cache named by dsn and dispatches it onto pool. Accepted
// forms are "sqlite:<path>", "sqlite://<path>" and a bare file path.
func Open(ctx context.Context, dsn string, pool *Pool, logger *slog.Logger) (NodeCache, error) {
	path, err := ParseDSN(dsn)
	if err != nil {
		return nil, err
	}

	store, err := call(ctx, pool, func(ctx context.Context) (*SQLite, error) {
		return OpenSQLite(ctx, path, logger)
	})
	if err != nil {
		return nil, err
	}

	return Dispatch(store, pool), nil
}

// ParseDSN extracts the database path from a cache DSN.
func ParseDSN(dsn string) (string, error) {
	path := dsn

	if scheme, rest, ok := strings.Cut(dsn, ":"); ok && len(scheme) > 1 && !strings.ContainsAny(scheme, `/\.`) {
		if scheme != "sqlite" {
			return "", &vfs.ConfigurationError{
				Subject: "cache dsn",
				Err:     fmt.Errorf("unsupported scheme %q (only sqlite is available)", scheme),
			}
		}

		path = strings.TrimPrefix(rest, "//")
	}

	if path == "" {
		return "", &vfs.ConfigurationError{Subject: "cache dsn", Err: fmt.Errorf("empty path in %q", dsn)}
	}

	return path, nil
}
