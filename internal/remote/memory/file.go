package memory

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/tonimelisma/vdrive/internal/remote"
	"github.com/tonimelisma/vdrive/internal/vfs"
)

var errClosed = errors.New("memory: handle closed")

// Download opens a read handle over a snapshot of n's content.
func (d *Driver) Download(_ context.Context, n *vfs.Node) (vfs.ReadableFile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cur, ok := d.nodes[n.ID]
	if !ok {
		return nil, fmt.Errorf("memory: download %s: %w", n.ID, vfs.ErrNotFound)
	}

	if cur.IsFolder {
		return nil, &vfs.StructuralError{Op: "memory: download", Node: cur.Clone(), Err: vfs.ErrIsFolder}
	}

	data := append([]byte(nil), d.content[n.ID]...)

	return &readHandle{node: cur.Clone(), r: bytes.NewReader(data)}, nil
}

type readHandle struct {
	node   *vfs.Node
	r      *bytes.Reader
	closed bool
}

func (h *readHandle) Read(p []byte) (int, error) {
	if h.closed {
		return 0, errClosed
	}

	return h.r.Read(p)
}

func (h *readHandle) Seek(offset int64, whence int) (int64, error) {
	if h.closed {
		return 0, errClosed
	}

	return h.r.Seek(offset, whence)
}

func (h *readHandle) Close() error {
	h.closed = true
	return nil
}

func (h *readHandle) Node() *vfs.Node {
	return h.node
}

// Upload opens a write handle. The name is checked for conflicts now and
// again at commit; the node appears only when Close succeeds.
func (d *Driver) Upload(
	_ context.Context, parent *vfs.Node, name string, opts remote.UploadOptions,
) (vfs.WritableFile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.folder(parent.ID); err != nil {
		return nil, err
	}

	if existing := d.childByName(parent.ID, name); existing != nil {
		return nil, &vfs.ConflictError{Node: existing.Clone()}
	}

	if opts.Size < 0 {
		return nil, &vfs.TransferError{Invalid: true, Err: fmt.Errorf("negative size %d", opts.Size)}
	}

	return &writeHandle{d: d, parentID: parent.ID, name: name, opts: opts}, nil
}

type writeHandle struct {
	d        *Driver
	parentID string
	name     string
	opts     remote.UploadOptions
	buf      []byte
	pos      int64
	closed   bool
	node     *vfs.Node
}

// Write stores p at the current position, discarding anything previously
// written past it, the way a resumable upload session does.
func (h *writeHandle) Write(p []byte) (int, error) {
	if h.closed {
		return 0, errClosed
	}

	if h.pos+int64(len(p)) > h.opts.Size {
		return 0, &vfs.TransferError{
			Invalid: true,
			Err:     fmt.Errorf("write past declared size %d", h.opts.Size),
		}
	}

	h.buf = append(h.buf[:h.pos], p...)
	h.pos += int64(len(p))

	return len(p), nil
}

func (h *writeHandle) Seek(offset int64, whence int) (int64, error) {
	if h.closed {
		return 0, errClosed
	}

	var abs int64

	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = h.pos + offset
	case io.SeekEnd:
		abs = int64(len(h.buf)) + offset
	default:
		return 0, fmt.Errorf("memory: invalid whence %d", whence)
	}

	if abs < 0 || abs > int64(len(h.buf)) {
		return 0, fmt.Errorf("memory: seek to %d outside received range [0, %d]", abs, len(h.buf))
	}

	h.pos = abs

	return abs, nil
}

func (h *writeHandle) Offset(_ context.Context) (int64, error) {
	if h.closed {
		return 0, errClosed
	}

	return int64(len(h.buf)), nil
}

// Close commits the upload. A size or checksum mismatch is an invalid
// transfer and nothing is created.
func (h *writeHandle) Close() error {
	if h.closed {
		return nil
	}

	h.closed = true

	if int64(len(h.buf)) != h.opts.Size {
		return &vfs.TransferError{
			Invalid: true,
			Err:     fmt.Errorf("received %d bytes, declared %d", len(h.buf), h.opts.Size),
		}
	}

	sum := sha256.Sum256(h.buf)
	digest := hex.EncodeToString(sum[:])

	if h.opts.Hash != "" && h.opts.Hash != digest {
		return &vfs.TransferError{
			Invalid: true,
			Err:     fmt.Errorf("checksum mismatch: declared %s, received %s", h.opts.Hash, digest),
		}
	}

	d := h.d
	d.mu.Lock()
	defer d.mu.Unlock()

	if existing := d.childByName(h.parentID, h.name); existing != nil {
		return &vfs.ConflictError{Node: existing.Clone()}
	}

	now := d.nowFunc()
	n := &vfs.Node{
		ID:       uuid.NewString(),
		Name:     h.name,
		ParentID: h.parentID,
		Size:     h.opts.Size,
		Hash:     digest,
		MimeType: h.opts.MimeType,
		Created:  now,
		Modified: now,
		Private:  copyMap(h.opts.Private),
	}

	d.nodes[n.ID] = n
	d.content[n.ID] = h.buf
	d.record(vfs.Upsert(n.Clone()))
	h.node = n.Clone()

	d.logger.Debug("memory: file uploaded",
		slog.String("id", n.ID),
		slog.String("name", n.Name),
		slog.Int64("size", n.Size),
	)

	return nil
}

func (h *writeHandle) Node() (*vfs.Node, error) {
	if h.node == nil {
		return nil, errors.New("memory: upload not committed")
	}

	return h.node, nil
}
