// Package drive is the orchestrator that ties a remote driver chain to the
// local node cache.
//
// Reads are served from the cache alone. Mutations validate tree structure
// and pre-empt name conflicts against the cache, then delegate to the
// remote; they never write the cache. The cache converges only through
// Sync, which replays the remote change feed and persists its checkpoint
// batch by batch.
package drive

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"golang.org/x/sync/semaphore"

	"github.com/tonimelisma/vdrive/internal/cache"
	"github.com/tonimelisma/vdrive/internal/remote"
	"github.com/tonimelisma/vdrive/internal/vfs"
)

// Drive is safe for concurrent use. At most one Sync runs at a time.
type Drive struct {
	remote  remote.Driver
	cache   cache.NodeCache
	syncSem *semaphore.Weighted
	logger  *slog.Logger
}

// New creates a Drive over an already composed remote chain and an open
// cache. The Drive does not own either; the session closes them.
func New(r remote.Driver, c cache.NodeCache, logger *slog.Logger) *Drive {
	if logger == nil {
		logger = slog.Default()
	}

	return &Drive{
		remote:  r,
		cache:   c,
		syncSem: semaphore.NewWeighted(1),
		logger:  logger,
	}
}

// Root returns the cached root folder. It fails with vfs.ErrNotFound until
// the first Sync has bootstrapped the cache.
func (d *Drive) Root(ctx context.Context) (*vfs.Node, error) {
	return d.cache.Root(ctx)
}

// NodeByID returns the cached node with the given ID.
func (d *Drive) NodeByID(ctx context.Context, id string) (*vfs.Node, error) {
	return d.cache.NodeByID(ctx, id)
}

// NodeByPath resolves an absolute path. A miss is (nil, nil).
func (d *Drive) NodeByPath(ctx context.Context, p string) (*vfs.Node, error) {
	n, err := d.cache.NodeByPath(ctx, vfs.CleanPath(p))
	if errors.Is(err, vfs.ErrNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return n, nil
}

// PathOf returns the absolute path of n built from cached parent links.
func (d *Drive) PathOf(ctx context.Context, n *vfs.Node) (string, error) {
	return d.cache.PathOf(ctx, n)
}

// Children lists the cached children of n, trashed ones included.
func (d *Drive) Children(ctx context.Context, n *vfs.Node) ([]*vfs.Node, error) {
	return d.cache.Children(ctx, n.ID)
}

// TrashedNodes lists every cached node flagged as trashed.
func (d *Drive) TrashedNodes(ctx context.Context) ([]*vfs.Node, error) {
	return d.cache.TrashedNodes(ctx)
}

// FindByRegex lists cached nodes whose name matches the RE2 pattern.
func (d *Drive) FindByRegex(ctx context.Context, pattern string) ([]*vfs.Node, error) {
	return d.cache.FindByRegex(ctx, pattern)
}

// FindOrphans lists cached nodes that cannot be reached from the root.
func (d *Drive) FindOrphans(ctx context.Context) ([]*vfs.Node, error) {
	return d.cache.FindOrphans(ctx)
}

// FindMultiParent lists cached nodes with more than one parent.
func (d *Drive) FindMultiParent(ctx context.Context) ([]*vfs.Node, error) {
	return d.cache.FindMultiParent(ctx)
}

// Hasher returns a fresh content hasher of the remote's checksum kind.
func (d *Drive) Hasher(ctx context.Context) (vfs.Hasher, error) {
	h, err := d.remote.Hasher(ctx)
	if err != nil {
		return nil, fmt.Errorf("drive: hasher: %w", err)
	}

	return h, nil
}

// WalkStep is one folder visited by Walk with its direct children split by
// kind.
type WalkStep struct {
	Folder  *vfs.Node
	Folders []*vfs.Node
	Files   []*vfs.Node
}

// Walk visits n and every folder below it breadth first. Folders are
// listed lazily, one per step, so a consumer may stop early. A file yields
// nothing. Trashed children are skipped unless includeTrashed is set.
func (d *Drive) Walk(ctx context.Context, n *vfs.Node, includeTrashed bool) iter.Seq2[WalkStep, error] {
	return func(yield func(WalkStep, error) bool) {
		if n == nil || !n.IsFolder {
			return
		}

		queue := []*vfs.Node{n}

		for len(queue) > 0 {
			folder := queue[0]
			queue = queue[1:]

			children, err := d.cache.Children(ctx, folder.ID)
			if err != nil {
				yield(WalkStep{}, fmt.Errorf("drive: walking %s: %w", folder.ID, err))
				return
			}

			step := WalkStep{Folder: folder}

			for _, c := range children {
				if c.Trashed && !includeTrashed {
					continue
				}

				if c.IsFolder {
					step.Folders = append(step.Folders, c)
				} else {
					step.Files = append(step.Files, c)
				}
			}

			if !yield(step, nil) {
				return
			}

			queue = append(queue, step.Folders...)
		}
	}
}
