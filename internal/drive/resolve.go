package drive

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/tonimelisma/vdrive/internal/vfs"
)

// RenameNodeByPath moves or renames the node at the absolute path src
// according to dst, tried in this order:
//
//   - "." leaves src where it is.
//   - ".." moves src up to its grandparent, keeping its name.
//   - any other bare name renames src in place.
//   - a relative path is resolved against src's parent folder.
//   - an absolute path naming an existing folder moves src into it.
//   - an absolute path naming an existing file is a conflict; nothing is
//     ever overwritten.
//   - an absolute path that does not exist yet moves and renames src to
//     it, provided its parent folder exists.
func (d *Drive) RenameNodeByPath(ctx context.Context, src, dst string) (*vfs.Node, error) {
	const op = "drive: rename by path"

	srcPath := vfs.CleanPath(src)

	n, err := d.cache.NodeByPath(ctx, srcPath)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", op, srcPath, err)
	}

	switch {
	case dst == ".":
		return n, nil
	case dst == "..":
		return d.moveUp(ctx, op, n)
	case vfs.IsBareName(dst):
		return d.RenameNode(ctx, n, nil, dst)
	case !strings.HasPrefix(dst, vfs.Separator):
		dst = vfs.JoinRelative(path.Dir(srcPath), dst)
	}

	dstPath := vfs.CleanPath(dst)

	target, err := d.NodeByPath(ctx, dstPath)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", op, dstPath, err)
	}

	if target == nil {
		parentPath, name := path.Split(dstPath)

		parent, err := d.cache.NodeByPath(ctx, parentPath)
		if err != nil {
			return nil, fmt.Errorf("%s %s: destination folder: %w", op, dstPath, err)
		}

		return d.RenameNode(ctx, n, parent, name)
	}

	if target.ID == n.ID {
		return n, nil
	}

	if !target.IsFolder {
		return nil, &vfs.ConflictError{Node: target}
	}

	return d.RenameNode(ctx, n, target, "")
}

// moveUp moves n from its parent to its grandparent.
func (d *Drive) moveUp(ctx context.Context, op string, n *vfs.Node) (*vfs.Node, error) {
	if n.IsRoot() {
		return nil, &vfs.StructuralError{Op: op, Node: n, Err: vfs.ErrRootNode}
	}

	parent, err := d.cache.NodeByID(ctx, n.ParentID)
	if err != nil {
		return nil, fmt.Errorf("%s: parent of %s: %w", op, n.ID, err)
	}

	if parent.IsRoot() {
		return nil, &vfs.StructuralError{Op: op, Node: parent, Err: vfs.ErrRootNode}
	}

	grandparent, err := d.cache.NodeByID(ctx, parent.ParentID)
	if err != nil {
		return nil, fmt.Errorf("%s: grandparent of %s: %w", op, n.ID, err)
	}

	return d.RenameNode(ctx, n, grandparent, "")
}
