package driveops

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/sethvargo/go-retry"

	"github.com/tonimelisma/vdrive/internal/remote"
	"github.com/tonimelisma/vdrive/internal/vfs"
)

const (
	defaultChunkSize = 1 << 20
	defaultRetryBase = 500 * time.Millisecond
	partialPrefix    = "."
	partialSuffix    = ".partial"
	dirPerms         = 0o700
	filePerms        = 0o600
)

// TransferOptions tunes a TransferManager. Zero values pick defaults, except
// MaxRetries where zero means a failed step is not retried.
type TransferOptions struct {
	ChunkSize  int64
	MaxRetries int
	RetryBase  time.Duration
	Limiter    *BandwidthLimiter // nil = unlimited
}

// UploadFileOptions describes one Upload call.
type UploadFileOptions struct {
	Name     string // remote name; defaults to the local base name
	ExistOK  bool   // an existing node of that name is returned instead of a conflict
	MimeType string // detected from content when empty
	Private  map[string]string
}

// TransferManager copies whole files between the local filesystem and the
// drive, one chunk at a time, resuming after transient failures.
type TransferManager struct {
	downloads Downloader
	uploads   Uploader
	opts      TransferOptions
	logger    *slog.Logger
}

// NewTransferManager creates a TransferManager. *drive.Drive satisfies both
// dl and ul.
func NewTransferManager(dl Downloader, ul Uploader, opts TransferOptions, logger *slog.Logger) *TransferManager {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}

	if opts.RetryBase <= 0 {
		opts.RetryBase = defaultRetryBase
	}

	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &TransferManager{downloads: dl, uploads: ul, opts: opts, logger: logger}
}

// PartialPath returns the hidden sibling a download of name into dir is
// staged in.
func PartialPath(dir, name string) string {
	return filepath.Join(dir, partialPrefix+name+partialSuffix)
}

// LocalPath returns dir/name for a remote name, refusing names that would
// leave dir or that the local filesystem reads as a path.
func LocalPath(dir, name string) (string, error) {
	if !vfs.ValidName(name) || strings.ContainsRune(name, filepath.Separator) || filepath.VolumeName(name) != "" {
		return "", &vfs.TransferError{Invalid: true, Err: fmt.Errorf("%w: %q", vfs.ErrInvalidName, name)}
	}

	target := filepath.Join(dir, name)
	if filepath.Dir(target) != filepath.Clean(dir) {
		return "", &vfs.TransferError{Invalid: true, Err: fmt.Errorf("%w: %q leaves %s", vfs.ErrInvalidName, name, dir)}
	}

	return target, nil
}

// Download copies the file n into dir/n.Name and returns that path. An
// existing regular file at the target counts as a finished download.
// Anything else occupying the target is a conflict.
func (tm *TransferManager) Download(ctx context.Context, n *vfs.Node, dir string) (string, error) {
	const op = "download"

	if n.IsFolder {
		return "", &vfs.StructuralError{Op: op, Node: n, Err: vfs.ErrIsFolder}
	}

	target, err := LocalPath(dir, n.Name)
	if err != nil {
		return "", fmt.Errorf("%s: %s: %w", op, n.ID, err)
	}

	info, err := os.Lstat(target)
	switch {
	case err == nil && info.Mode().IsRegular():
		tm.logger.Debug("download target exists, skipping", slog.String("path", target))
		return target, nil
	case err == nil:
		return "", &vfs.ConflictError{Path: target}
	case !errors.Is(err, os.ErrNotExist):
		return "", fmt.Errorf("%s: checking %s: %w", op, target, err)
	}

	if err := os.MkdirAll(dir, dirPerms); err != nil {
		return "", fmt.Errorf("%s: creating %s: %w", op, dir, err)
	}

	partial := PartialPath(dir, n.Name)

	if err := tm.fillPartial(ctx, n, partial); err != nil {
		return "", err
	}

	if err := os.Rename(partial, target); err != nil {
		return "", fmt.Errorf("%s: renaming %s into place: %w", op, partial, err)
	}

	tm.logger.Debug("download complete",
		slog.String("id", n.ID),
		slog.String("path", target),
		slog.Int64("size", n.Size),
	)

	return target, nil
}

// fillPartial appends to partial until it holds n.Size bytes.
func (tm *TransferManager) fillPartial(ctx context.Context, n *vfs.Node, partial string) error {
	f, err := os.OpenFile(partial, os.O_CREATE|os.O_WRONLY, filePerms)
	if err != nil {
		return fmt.Errorf("download: opening %s: %w", partial, err)
	}
	defer f.Close()

	offset, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("download: seeking %s: %w", partial, err)
	}

	if offset > n.Size {
		return &vfs.TransferError{
			Invalid: true,
			Err:     fmt.Errorf("%s holds %d bytes, %s has %d", partial, offset, n.ID, n.Size),
		}
	}

	if offset > 0 {
		tm.logger.Info("resuming download", slog.String("id", n.ID), slog.Int64("offset", offset))
	}

	var r vfs.ReadableFile

	closeReader := func() {
		if r != nil {
			r.Close()
			r = nil
		}
	}
	defer closeReader()

	for offset < n.Size {
		err := tm.step(ctx, "download", n.Name, func(ctx context.Context) error {
			if r == nil {
				var err error
				if r, err = tm.downloads.Download(ctx, n); err != nil {
					return err
				}

				if _, err := r.Seek(offset, io.SeekStart); err != nil {
					closeReader()
					return err
				}
			}

			want := min(tm.opts.ChunkSize, n.Size-offset)

			written, err := io.Copy(f, tm.opts.Limiter.WrapReader(ctx, io.LimitReader(r, want)))
			offset += written

			if err == nil && written < want {
				err = io.ErrUnexpectedEOF
			}

			if err != nil {
				closeReader()
				return err
			}

			return nil
		})
		if err != nil {
			return fmt.Errorf("download: %s at offset %d: %w", n.ID, offset, err)
		}
	}

	if err := f.Sync(); err != nil {
		return fmt.Errorf("download: syncing %s: %w", partial, err)
	}

	return f.Close()
}

// Upload copies the local file at localPath into parent and returns the
// new node. With opts.ExistOK a node already holding the name is returned
// as is.
func (tm *TransferManager) Upload(
	ctx context.Context, localPath string, parent *vfs.Node, opts UploadFileOptions,
) (*vfs.Node, error) {
	const op = "upload"

	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("%s: opening %s: %w", op, localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%s: stat %s: %w", op, localPath, err)
	}

	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s: %s is not a regular file", op, localPath)
	}

	name := opts.Name
	if name == "" {
		name = filepath.Base(localPath)
	}

	if existing, err := tm.existing(ctx, parent, name, opts.ExistOK); err != nil || existing != nil {
		return existing, err
	}

	mime := opts.MimeType
	if mime == "" {
		detected, err := mimetype.DetectReader(f)
		if err != nil {
			return nil, fmt.Errorf("%s: detecting type of %s: %w", op, localPath, err)
		}

		mime = detected.String()
	}

	hash, err := tm.localHash(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", op, localPath, err)
	}

	size := info.Size()

	w, err := tm.uploads.Upload(ctx, parent, name, remote.UploadOptions{
		Size:     size,
		MimeType: mime,
		Hash:     hash,
		Private:  opts.Private,
		ExistOK:  false,
	})
	if existing, err := tm.conflicting(name, err, opts.ExistOK); err != nil || existing != nil {
		return existing, err
	}

	if err := tm.sendAll(ctx, f, w, name, size); err != nil {
		w.Close()
		return nil, fmt.Errorf("%s: %s: %w", op, localPath, err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%s: committing %s: %w", op, name, err)
	}

	n, err := w.Node()
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", op, name, err)
	}

	tm.logger.Debug("upload complete",
		slog.String("path", localPath),
		slog.String("id", n.ID),
		slog.Int64("size", size),
		slog.String("mime_type", mime),
	)

	return n, nil
}

// existing runs the upload checks before any content is read. It returns
// the node holding name when opts allow reusing it.
func (tm *TransferManager) existing(ctx context.Context, parent *vfs.Node, name string, existOK bool) (*vfs.Node, error) {
	return tm.conflicting(name, tm.uploads.CheckUpload(ctx, parent, name, false), existOK)
}

// conflicting turns a conflict on name into the existing node when existOK.
func (tm *TransferManager) conflicting(name string, err error, existOK bool) (*vfs.Node, error) {
	if err == nil {
		return nil, nil
	}

	if ce, ok := vfs.IsConflict(err); ok && existOK && ce.Node != nil {
		tm.logger.Debug("upload target exists, skipping", slog.String("name", name), slog.String("id", ce.Node.ID))
		return ce.Node, nil
	}

	return nil, err
}

// localHash digests f with the remote's hasher and rewinds it.
func (tm *TransferManager) localHash(ctx context.Context, f *os.File) (string, error) {
	h, err := tm.uploads.Hasher(ctx)
	if err != nil {
		return "", err
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	hash, err := hashReader(f, h)
	if err != nil {
		return "", err
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	return hash, nil
}

// sendAll writes f to w chunk by chunk. After a failed step the next
// attempt asks the remote how much it holds and continues from there.
func (tm *TransferManager) sendAll(ctx context.Context, f *os.File, w vfs.WritableFile, name string, size int64) error {
	var offset int64

	resync := false

	for offset < size {
		err := tm.step(ctx, "upload", name, func(ctx context.Context) error {
			if resync {
				remoteOffset, err := w.Offset(ctx)
				if err != nil {
					return err
				}

				if _, err := w.Seek(remoteOffset, io.SeekStart); err != nil {
					return err
				}

				if _, err := f.Seek(remoteOffset, io.SeekStart); err != nil {
					return err
				}

				offset = remoteOffset
				resync = false

				if offset >= size {
					return nil
				}
			}

			want := min(tm.opts.ChunkSize, size-offset)

			sent, err := io.Copy(w, tm.opts.Limiter.WrapReader(ctx, io.LimitReader(f, want)))
			offset += sent

			if err == nil && sent < want {
				err = fmt.Errorf("local file shrank: %w", io.ErrUnexpectedEOF)
			}

			if err != nil {
				resync = true
				return err
			}

			return nil
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// step runs fn under the retry policy: up to MaxRetries further attempts
// with exponential backoff, as long as fn fails transiently. Every call
// starts with a fresh budget.
func (tm *TransferManager) step(ctx context.Context, op, name string, fn func(context.Context) error) error {
	backoff := retry.WithMaxRetries(uint64(tm.opts.MaxRetries), retry.NewExponential(tm.opts.RetryBase))
	attempt := 0

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++

		err := fn(ctx)
		if err == nil {
			return nil
		}

		if !transient(ctx, err) {
			return err
		}

		tm.logger.Warn("transfer step failed",
			slog.String("op", op),
			slog.String("name", name),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)

		return retry.RetryableError(err)
	})
}

// transient reports whether a failed step is worth another attempt.
// Invalid transfers, structural and conflict errors, missing nodes and
// cancellation are final.
func transient(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}

	var se *vfs.StructuralError

	switch {
	case errors.Is(err, vfs.ErrTransferInvalid),
		errors.Is(err, vfs.ErrConflict),
		errors.Is(err, vfs.ErrNotFound),
		errors.Is(err, vfs.ErrConfiguration),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &se):
		return false
	}

	return true
}
