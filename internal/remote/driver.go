// Package remote defines the capability set a cloud-storage backend must
// implement, the middleware decorators layered over it, and the
// composition of a configured driver plus middleware list into one chain.
//
// Concrete backends live outside this package and register themselves with
// RegisterDriver, in the same way database/sql drivers do. Every factory
// declares the protocol versions it supports; Compose refuses to build a
// chain containing a link that does not support ProtocolVersion.
package remote

import (
	"context"
	"iter"
	"log/slog"

	"github.com/tonimelisma/vdrive/internal/vfs"
)

// ProtocolVersion is the version of the Driver capability set implemented
// by this core.
const ProtocolVersion = "1.0"

// UploadOptions describes the content of an upload before it starts.
type UploadOptions struct {
	Size     int64
	MimeType string
	Hash     string // hex checksum computed with the driver's Hasher; optional
	Private  map[string]string
	ExistOK  bool // only consulted by the drive core's local conflict check
}

// Driver is the fixed set of operations a backend provides. Mutating calls
// only act on the remote; the local cache learns about their effect through
// FetchChanges.
type Driver interface {
	CreateFolder(ctx context.Context, parent *vfs.Node, name string, existOK bool, private map[string]string) (*vfs.Node, error)
	Upload(ctx context.Context, parent *vfs.Node, name string, opts UploadOptions) (vfs.WritableFile, error)
	Download(ctx context.Context, n *vfs.Node) (vfs.ReadableFile, error)
	TrashNode(ctx context.Context, n *vfs.Node) error
	RenameNode(ctx context.Context, n *vfs.Node, newParent *vfs.Node, newName string) (*vfs.Node, error)

	FetchRootNode(ctx context.Context) (*vfs.Node, error)
	InitialCheckPoint(ctx context.Context) (vfs.CheckPoint, error)

	// FetchChanges streams change batches recorded after since, in remote
	// order. The stream ends when the remote has no further pages.
	FetchChanges(ctx context.Context, since vfs.CheckPoint) iter.Seq2[vfs.ChangeBatch, error]

	Hasher(ctx context.Context) (vfs.Hasher, error)
}

// Context carries everything a factory may need to construct its link.
type Context struct {
	Logger  *slog.Logger
	DataDir string
	Options map[string]string
}

// DriverFactory constructs a base driver.
type DriverFactory struct {
	Name     string
	Versions VersionRange
	New      func(ctx context.Context, rc Context) (Driver, error)
}

// MiddlewareFactory constructs a decorator around next. The returned value
// must proxy every Driver method, adding behavior where it needs to.
type MiddlewareFactory struct {
	Name     string
	Versions VersionRange
	New      func(ctx context.Context, rc Context, next Driver) (Driver, error)
}
