package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tonimelisma/vdrive/internal/vfs"
)

// StateFileName is the snapshot file kept under the data directory when
// the driver is built with one.
const StateFileName = "memory-remote.json"

const (
	filePerms = 0o600
	dirPerms  = 0o700
)

// snapshot is the on-disk form of the whole remote. The change log is kept
// so check points handed out before a restart stay valid after it.
type snapshot struct {
	RootID  string            `json:"root_id"`
	Nodes   []*vfs.Node       `json:"nodes"`
	Content map[string][]byte `json:"content,omitempty"`
	Log     [][]vfs.Change    `json:"log,omitempty"`
}

// Open returns a driver persisted at path. An existing snapshot is loaded;
// otherwise the driver starts with an empty root, as from New. Every
// mutation rewrites the snapshot.
func Open(path string, pageSize int, logger *slog.Logger) (*Driver, error) {
	d := New(pageSize, logger)
	d.statePath = path

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		if err := d.save(); err != nil {
			return nil, err
		}

		return d, nil
	}

	if err != nil {
		return nil, fmt.Errorf("memory: reading %s: %w", path, err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("memory: decoding %s: %w", path, err)
	}

	nodes := make(map[string]*vfs.Node, len(snap.Nodes))
	for _, n := range snap.Nodes {
		nodes[n.ID] = n
	}

	if root, ok := nodes[snap.RootID]; !ok || !root.IsFolder {
		return nil, fmt.Errorf("memory: %s has no root folder %q", path, snap.RootID)
	}

	d.rootID = snap.RootID
	d.nodes = nodes
	d.log = snap.Log

	if snap.Content != nil {
		d.content = snap.Content
	}

	d.logger.Debug("memory: state loaded",
		slog.String("path", path),
		slog.Int("nodes", len(nodes)),
		slog.Int("log", len(snap.Log)),
	)

	return d, nil
}

// save writes the snapshot atomically through a temp file and rename.
// Caller holds mu.
func (d *Driver) save() error {
	if d.statePath == "" {
		return nil
	}

	snap := snapshot{RootID: d.rootID, Content: d.content, Log: d.log}
	for _, n := range d.nodes {
		snap.Nodes = append(snap.Nodes, n)
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("memory: encoding state: %w", err)
	}

	dir := filepath.Dir(d.statePath)
	if err := os.MkdirAll(dir, dirPerms); err != nil {
		return fmt.Errorf("memory: creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".memory-remote-*.tmp")
	if err != nil {
		return fmt.Errorf("memory: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, filePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("memory: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("memory: writing state: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("memory: syncing state: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("memory: closing state: %w", err)
	}

	if err := os.Rename(tmpPath, d.statePath); err != nil {
		return fmt.Errorf("memory: renaming state: %w", err)
	}

	success = true

	return nil
}
