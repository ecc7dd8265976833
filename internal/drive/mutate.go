package drive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tonimelisma/vdrive/internal/remote"
	"github.com/tonimelisma/vdrive/internal/vfs"
)

// CreateFolder creates name under parent. A cached child of the same name
// is a conflict unless existOK, and is reported without calling the remote.
func (d *Drive) CreateFolder(ctx context.Context, parent *vfs.Node, name string, existOK bool) (*vfs.Node, error) {
	const op = "drive: create folder"

	if err := d.checkNewChild(ctx, op, parent, name, existOK); err != nil {
		return nil, err
	}

	n, err := d.remote.CreateFolder(ctx, parent, name, existOK, nil)
	if err != nil {
		return nil, fmt.Errorf("%s %q: %w", op, name, err)
	}

	d.logger.Debug("folder created", slog.String("id", n.ID), slog.String("name", name))

	return n, nil
}

// Upload opens a write handle for a new file name under parent, applying
// the same checks as CreateFolder with opts.ExistOK. The caller owns the
// handle and must Close it.
func (d *Drive) Upload(
	ctx context.Context, parent *vfs.Node, name string, opts remote.UploadOptions,
) (vfs.WritableFile, error) {
	const op = "drive: upload"

	if err := d.checkNewChild(ctx, op, parent, name, opts.ExistOK); err != nil {
		return nil, err
	}

	w, err := d.remote.Upload(ctx, parent, name, opts)
	if err != nil {
		return nil, fmt.Errorf("%s %q: %w", op, name, err)
	}

	return w, nil
}

// CheckUpload runs the checks of Upload without touching the remote.
func (d *Drive) CheckUpload(ctx context.Context, parent *vfs.Node, name string, existOK bool) error {
	return d.checkNewChild(ctx, "drive: upload", parent, name, existOK)
}

// checkNewChild enforces that parent is a folder, that name is a valid
// entry and that it is free in the cache.
func (d *Drive) checkNewChild(ctx context.Context, op string, parent *vfs.Node, name string, existOK bool) error {
	if parent == nil {
		return &vfs.StructuralError{Op: op, Err: vfs.ErrNotFolder}
	}

	if !parent.IsFolder {
		return &vfs.StructuralError{Op: op, Node: parent, Err: vfs.ErrNotFolder}
	}

	if !vfs.ValidName(name) {
		return &vfs.StructuralError{Op: fmt.Sprintf("%s %q", op, name), Node: parent, Err: vfs.ErrInvalidName}
	}

	existing, err := d.cache.ChildByName(ctx, name, parent.ID)
	if errors.Is(err, vfs.ErrNotFound) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("%s %q: %w", op, name, err)
	}

	if existOK {
		return nil
	}

	return &vfs.ConflictError{Node: existing}
}

// Download opens a read handle on the file n. The caller owns the handle
// and must Close it.
func (d *Drive) Download(ctx context.Context, n *vfs.Node) (vfs.ReadableFile, error) {
	const op = "drive: download"

	if n.IsFolder {
		return nil, &vfs.StructuralError{Op: op, Node: n, Err: vfs.ErrIsFolder}
	}

	r, err := d.remote.Download(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", op, n.ID, err)
	}

	return r, nil
}

// TrashNode moves n to the remote trash. The root cannot be trashed.
func (d *Drive) TrashNode(ctx context.Context, n *vfs.Node) error {
	const op = "drive: trash"

	if n.IsRoot() {
		return &vfs.StructuralError{Op: op, Node: n, Err: vfs.ErrRootNode}
	}

	if err := d.remote.TrashNode(ctx, n); err != nil {
		return fmt.Errorf("%s %s: %w", op, n.ID, err)
	}

	d.logger.Debug("node trashed", slog.String("id", n.ID), slog.String("name", n.Name))

	return nil
}

// RenameNode moves n under newParent and/or renames it to newName. At least
// one must be given; a nil newParent or empty newName keeps the current
// value. Moving a folder into its own subtree is refused.
func (d *Drive) RenameNode(ctx context.Context, n, newParent *vfs.Node, newName string) (*vfs.Node, error) {
	const op = "drive: rename"

	switch {
	case n.IsRoot():
		return nil, &vfs.StructuralError{Op: op, Node: n, Err: vfs.ErrRootNode}
	case n.Trashed:
		return nil, &vfs.StructuralError{Op: op, Node: n, Err: vfs.ErrTrashed}
	case newParent == nil && newName == "":
		return nil, &vfs.StructuralError{Op: op, Node: n, Err: vfs.ErrNoChange}
	case newName != "" && !vfs.ValidName(newName):
		return nil, &vfs.StructuralError{Op: fmt.Sprintf("%s to %q", op, newName), Node: n, Err: vfs.ErrInvalidName}
	}

	if newParent != nil {
		if newParent.Trashed {
			return nil, &vfs.StructuralError{Op: op, Node: newParent, Err: vfs.ErrTrashed}
		}

		if !newParent.IsFolder {
			return nil, &vfs.StructuralError{Op: op, Node: newParent, Err: vfs.ErrNotFolder}
		}

		inside, err := d.inLineage(ctx, n, newParent)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", op, n.ID, err)
		}

		if inside {
			return nil, &vfs.StructuralError{Op: op, Node: n, Err: vfs.ErrLineage}
		}
	}

	moved, err := d.remote.RenameNode(ctx, n, newParent, newName)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", op, n.ID, err)
	}

	d.logger.Debug("node renamed",
		slog.String("id", moved.ID),
		slog.String("name", moved.Name),
		slog.String("parent_id", moved.ParentID),
	)

	return moved, nil
}

// inLineage reports whether n is target or one of target's ancestors,
// following cached parent links up to the root. A link missing from the
// cache ends the walk.
func (d *Drive) inLineage(ctx context.Context, n, target *vfs.Node) (bool, error) {
	seen := map[string]bool{}

	for cur := target; cur != nil; {
		if cur.ID == n.ID {
			return true, nil
		}

		if cur.IsRoot() || seen[cur.ID] {
			return false, nil
		}

		seen[cur.ID] = true

		parent, err := d.cache.NodeByID(ctx, cur.ParentID)
		if errors.Is(err, vfs.ErrNotFound) {
			return false, nil
		}

		if err != nil {
			return false, err
		}

		cur = parent
	}

	return false, nil
}
