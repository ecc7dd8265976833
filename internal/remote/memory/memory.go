// Package memory implements an in-process reference backend. It keeps the
// whole remote tree in memory and records every mutation in an append-only
// change log, which it serves as a paged change feed. Tests and the CLI use
// it wherever a real cloud backend would sit.
package memory

import (
	"context"
	"crypto/sha256"
	"fmt"
	"iter"
	"log/slog"
	"path/filepath"
	"strconv"
	gosync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/tonimelisma/vdrive/internal/remote"
	"github.com/tonimelisma/vdrive/internal/vfs"
)

// DriverName is the registry name of this backend.
const DriverName = "memory"

const defaultPageSize = 100

func init() {
	remote.RegisterDriver(remote.DriverFactory{
		Name:     DriverName,
		Versions: remote.VersionRange{Min: "1.0", Max: "1.99"},
		New: func(_ context.Context, rc remote.Context) (remote.Driver, error) {
			pageSize := defaultPageSize

			if v, ok := rc.Options["page_size"]; ok {
				n, err := strconv.Atoi(v)
				if err != nil || n < 1 {
					return nil, &vfs.ConfigurationError{
						Subject: "memory driver option page_size",
						Err:     fmt.Errorf("want a positive integer, got %q", v),
					}
				}

				pageSize = n
			}

			if rc.DataDir == "" || rc.Options["persist"] == "false" {
				return New(pageSize, rc.Logger), nil
			}

			return Open(filepath.Join(rc.DataDir, StateFileName), pageSize, rc.Logger)
		},
	})
}

// Driver is the in-memory backend. The zero value is not usable; call New.
type Driver struct {
	mu       gosync.Mutex
	nodes    map[string]*vfs.Node
	content  map[string][]byte
	rootID   string
	log      [][]vfs.Change // one entry per mutation
	pageSize int
	logger   *slog.Logger
	nowFunc  func() time.Time

	statePath string // empty keeps the remote in memory only
}

// New returns a driver holding only an empty root folder. pageSize bounds
// the number of mutations delivered per change batch.
func New(pageSize int, logger *slog.Logger) *Driver {
	if pageSize < 1 {
		pageSize = defaultPageSize
	}

	if logger == nil {
		logger = slog.Default()
	}

	d := &Driver{
		nodes:    make(map[string]*vfs.Node),
		content:  make(map[string][]byte),
		pageSize: pageSize,
		logger:   logger,
		nowFunc:  time.Now,
	}

	now := d.nowFunc()
	root := &vfs.Node{ID: uuid.NewString(), IsFolder: true, Created: now, Modified: now}
	d.rootID = root.ID
	d.nodes[root.ID] = root

	return d
}

// FetchRootNode returns a snapshot of the root folder.
func (d *Driver) FetchRootNode(_ context.Context) (*vfs.Node, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.nodes[d.rootID].Clone(), nil
}

// InitialCheckPoint is the cursor that precedes every recorded mutation.
func (d *Driver) InitialCheckPoint(_ context.Context) (vfs.CheckPoint, error) {
	return "0", nil
}

// Hasher returns a SHA-256 hasher; Node.Hash values are hex SHA-256.
func (d *Driver) Hasher(_ context.Context) (vfs.Hasher, error) {
	return vfs.NewHasher(sha256.New()), nil
}

// FetchChanges serves the change log after since in pages of at most
// pageSize mutations. Each page is snapshotted under the lock, so a
// mutation racing with the stream lands in a later page.
func (d *Driver) FetchChanges(ctx context.Context, since vfs.CheckPoint) iter.Seq2[vfs.ChangeBatch, error] {
	return func(yield func(vfs.ChangeBatch, error) bool) {
		pos, err := strconv.Atoi(string(since))
		if err != nil || pos < 0 {
			yield(vfs.ChangeBatch{}, fmt.Errorf("memory: invalid check point %q", since))
			return
		}

		for {
			if err := ctx.Err(); err != nil {
				yield(vfs.ChangeBatch{}, err)
				return
			}

			batch, next, ok, err := d.page(pos)
			if err != nil {
				yield(vfs.ChangeBatch{}, err)
				return
			}

			if !ok {
				return
			}

			if !yield(batch, nil) {
				return
			}

			pos = next
		}
	}
}

func (d *Driver) page(pos int) (vfs.ChangeBatch, int, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if pos > len(d.log) {
		return vfs.ChangeBatch{}, 0, false, fmt.Errorf("memory: check point %d is ahead of the log (%d)", pos, len(d.log))
	}

	if pos == len(d.log) {
		return vfs.ChangeBatch{}, 0, false, nil
	}

	end := min(pos+d.pageSize, len(d.log))

	var changes []vfs.Change
	for _, entry := range d.log[pos:end] {
		for _, c := range entry {
			if c.Node != nil {
				c.Node = c.Node.Clone()
			}

			changes = append(changes, c)
		}
	}

	return vfs.ChangeBatch{CheckPoint: vfs.CheckPoint(strconv.Itoa(end)), Changes: changes}, end, true, nil
}

// record appends one mutation to the change log and persists the new
// state when the driver has a state file. Caller holds mu.
func (d *Driver) record(changes ...vfs.Change) {
	d.log = append(d.log, changes)

	if err := d.save(); err != nil {
		d.logger.Warn("memory: persisting state failed", slog.String("error", err.Error()))
	}
}

// childByName finds a non-trashed child of parentID. Caller holds mu.
func (d *Driver) childByName(parentID, name string) *vfs.Node {
	for _, n := range d.nodes {
		if n.ParentID == parentID && n.Name == name && !n.Trashed {
			return n
		}
	}

	return nil
}

// folder returns the live folder with the given ID. Caller holds mu.
func (d *Driver) folder(id string) (*vfs.Node, error) {
	p, ok := d.nodes[id]
	if !ok {
		return nil, fmt.Errorf("memory: folder %s: %w", id, vfs.ErrNotFound)
	}

	if !p.IsFolder {
		return nil, &vfs.StructuralError{Op: "memory", Node: p.Clone(), Err: vfs.ErrNotFolder}
	}

	return p, nil
}

// CreateFolder creates name under parent. An existing folder of that name
// is returned when existOK is set; any other occupant is a conflict.
func (d *Driver) CreateFolder(
	_ context.Context, parent *vfs.Node, name string, existOK bool, private map[string]string,
) (*vfs.Node, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.folder(parent.ID); err != nil {
		return nil, err
	}

	if existing := d.childByName(parent.ID, name); existing != nil {
		if existOK && existing.IsFolder {
			return existing.Clone(), nil
		}

		return nil, &vfs.ConflictError{Node: existing.Clone()}
	}

	now := d.nowFunc()
	n := &vfs.Node{
		ID:       uuid.NewString(),
		Name:     name,
		ParentID: parent.ID,
		IsFolder: true,
		Created:  now,
		Modified: now,
		Private:  copyMap(private),
	}

	d.nodes[n.ID] = n
	d.record(vfs.Upsert(n.Clone()))

	d.logger.Debug("memory: folder created", slog.String("id", n.ID), slog.String("name", name))

	return n.Clone(), nil
}

// TrashNode marks n trashed. Descendants keep their own flag, as on most
// cloud backends.
func (d *Driver) TrashNode(_ context.Context, n *vfs.Node) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	cur, ok := d.nodes[n.ID]
	if !ok {
		return fmt.Errorf("memory: trash %s: %w", n.ID, vfs.ErrNotFound)
	}

	if cur.ID == d.rootID {
		return &vfs.StructuralError{Op: "memory: trash", Node: cur.Clone(), Err: vfs.ErrRootNode}
	}

	cur.Trashed = true
	cur.Modified = d.nowFunc()
	d.record(vfs.Upsert(cur.Clone()))

	return nil
}

// RenameNode moves and/or renames n. An empty newName keeps the name and a
// nil newParent keeps the parent.
func (d *Driver) RenameNode(
	_ context.Context, n *vfs.Node, newParent *vfs.Node, newName string,
) (*vfs.Node, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cur, ok := d.nodes[n.ID]
	if !ok {
		return nil, fmt.Errorf("memory: rename %s: %w", n.ID, vfs.ErrNotFound)
	}

	parentID := cur.ParentID
	if newParent != nil {
		if _, err := d.folder(newParent.ID); err != nil {
			return nil, err
		}

		parentID = newParent.ID
	}

	name := cur.Name
	if newName != "" {
		name = newName
	}

	if existing := d.childByName(parentID, name); existing != nil && existing.ID != cur.ID {
		return nil, &vfs.ConflictError{Node: existing.Clone()}
	}

	cur.ParentID = parentID
	cur.Name = name
	cur.Modified = d.nowFunc()
	d.record(vfs.Upsert(cur.Clone()))

	return cur.Clone(), nil
}

// Delete permanently removes n and its subtree, producing removal changes.
// It stands in for deletions made by other clients of a real backend.
func (d *Driver) Delete(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if id == d.rootID {
		return &vfs.StructuralError{Op: "memory: delete", Err: vfs.ErrRootNode}
	}

	if _, ok := d.nodes[id]; !ok {
		return fmt.Errorf("memory: delete %s: %w", id, vfs.ErrNotFound)
	}

	var changes []vfs.Change

	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for _, n := range d.nodes {
			if n.ParentID == cur {
				queue = append(queue, n.ID)
			}
		}

		delete(d.nodes, cur)
		delete(d.content, cur)
		changes = append(changes, vfs.Removal(cur))
	}

	d.record(changes...)

	return nil
}

// Content returns a copy of a file's bytes, for assertions in tests.
func (d *Driver) Content(id string) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, ok := d.content[id]
	if !ok {
		return nil, false
	}

	return append([]byte(nil), b...), true
}

// Node returns a snapshot of the node with the given ID.
func (d *Driver) Node(id string) (*vfs.Node, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, ok := d.nodes[id]

	return n.Clone(), ok
}

// RootID returns the ID of the root folder.
func (d *Driver) RootID() string {
	return d.rootID
}

func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}

	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}

	return out
}
