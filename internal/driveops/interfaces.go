package driveops

import (
	"context"

	"github.com/tonimelisma/vdrive/internal/remote"
	"github.com/tonimelisma/vdrive/internal/vfs"
)

// Downloader opens read handles on remote files. Satisfied by *drive.Drive.
type Downloader interface {
	Download(ctx context.Context, n *vfs.Node) (vfs.ReadableFile, error)
}

// Uploader opens write handles for new remote files and supplies the hash
// the remote expects. CheckUpload reports, without contacting the remote,
// whether Upload would be refused. Satisfied by *drive.Drive.
type Uploader interface {
	CheckUpload(ctx context.Context, parent *vfs.Node, name string, existOK bool) error
	Upload(ctx context.Context, parent *vfs.Node, name string, opts remote.UploadOptions) (vfs.WritableFile, error)
	Hasher(ctx context.Context) (vfs.Hasher, error)
}
