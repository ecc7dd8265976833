// Package cache holds the local metadata mirror of the remote tree.
//
// NodeCache is the contract the drive core consumes. SQLite is the bundled
// implementation; Dispatch routes every call of any NodeCache through a
// bounded worker Pool so that slow local I/O never occupies more than a
// fixed number of goroutines. The cache is a lagging read replica: only the
// root bootstrap and change-feed application ever write to it.
package cache

import (
	"context"

	"github.com/tonimelisma/vdrive/internal/vfs"
)

// Metadata keys maintained by the cache itself.
const (
	KeyCheckPoint = "check_point"
	KeyRootID     = "root_id"
)

// NodeCache is the read/write contract of the local metadata store. Lookup
// misses return an error wrapping vfs.ErrNotFound. Implementations must be
// safe for concurrent use.
type NodeCache interface {
	Root(ctx context.Context) (*vfs.Node, error)
	NodeByID(ctx context.Context, id string) (*vfs.Node, error)
	NodeByPath(ctx context.Context, path string) (*vfs.Node, error)
	PathOf(ctx context.Context, n *vfs.Node) (string, error)
	ChildByName(ctx context.Context, name, parentID string) (*vfs.Node, error)

	// Children lists every child of parentID, trashed ones included.
	Children(ctx context.Context, parentID string) ([]*vfs.Node, error)
	TrashedNodes(ctx context.Context) ([]*vfs.Node, error)
	FindByRegex(ctx context.Context, pattern string) ([]*vfs.Node, error)

	// FindOrphans and FindMultiParent surface tree corruption; they never
	// repair it.
	FindOrphans(ctx context.Context) ([]*vfs.Node, error)
	FindMultiParent(ctx context.Context) ([]*vfs.Node, error)

	// InsertRoot records the root node. Repeating it is harmless.
	InsertRoot(ctx context.Context, root *vfs.Node) error

	// ApplyChanges applies changes in order and persists next as the
	// checkpoint, in one transaction: either everything lands or nothing.
	ApplyChanges(ctx context.Context, changes []vfs.Change, next vfs.CheckPoint) error

	// CheckPoint returns the persisted resume cursor; ok is false when no
	// batch has ever been applied.
	CheckPoint(ctx context.Context) (cp vfs.CheckPoint, ok bool, err error)
	Metadata(ctx context.Context, key string) (string, error)
	SetMetadata(ctx context.Context, key, value string) error

	Close() error
}
