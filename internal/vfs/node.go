// Package vfs defines the data model shared by the drive core: nodes of the
// virtual tree, change-feed entries, checkpoints, transfer handles, content
// hashers, and the error taxonomy every layer classifies failures with.
//
// This is a leaf package with zero dependencies beyond stdlib.
package vfs

import (
	"time"
)

// Node is an entry (file or folder) in the virtual drive tree. Fields are a
// snapshot of remote state; the local cache only ever learns about nodes
// through the change feed.
type Node struct {
	ID       string // opaque, stable across renames and moves
	Name     string
	ParentID string // empty only for the root
	IsFolder bool
	Trashed  bool
	Size     int64  // always 0 for folders
	Hash     string // hex content checksum, empty if unknown
	MimeType string
	Created  time.Time
	Modified time.Time
	Private  map[string]string // driver-private metadata, passed through untouched
}

// IsFile reports whether n is a regular file.
func (n *Node) IsFile() bool {
	return !n.IsFolder
}

// IsRoot reports whether n is the parent-less root of the tree.
func (n *Node) IsRoot() bool {
	return n.ParentID == ""
}

// Clone returns a deep copy of n, so callers may mutate the result without
// affecting shared snapshots.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}

	c := *n
	if n.Private != nil {
		c.Private = make(map[string]string, len(n.Private))
		for k, v := range n.Private {
			c.Private[k] = v
		}
	}

	return &c
}

// CheckPoint is an opaque resume cursor into a remote change feed. Only the
// remote that issued it can interpret it.
type CheckPoint string

// Change is one incremental mutation reported by the remote: either an
// upsert carrying a full node snapshot or a removal carrying only an ID.
type Change struct {
	Removed bool
	ID      string // removal target; equals Node.ID for upserts
	Node    *Node  // nil for removals
}

// Upsert builds a change that creates or replaces n.
func Upsert(n *Node) Change {
	return Change{ID: n.ID, Node: n}
}

// Removal builds a change that deletes the node with the given ID.
func Removal(id string) Change {
	return Change{Removed: true, ID: id}
}

// ChangeBatch is one page of the change feed. CheckPoint is the cursor that
// resumes immediately after the batch.
type ChangeBatch struct {
	CheckPoint CheckPoint
	Changes    []Change
}
