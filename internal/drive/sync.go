package drive

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"github.com/tonimelisma/vdrive/internal/vfs"
)

// Sync brings the cache up to date with the remote. It resumes from the
// persisted checkpoint (or the remote's initial one on a fresh cache),
// applies each change batch together with its checkpoint in a single
// transaction, and only then yields the batch's changes. Stopping the
// iteration early leaves the cache at the last applied batch.
//
// Only one sync runs per Drive at a time; a second caller blocks until the
// first finishes or its own ctx ends.
func (d *Drive) Sync(ctx context.Context) iter.Seq2[vfs.Change, error] {
	return d.sync(ctx, "", true)
}

// SyncFrom replays the change feed from cp without touching the cache or
// the persisted checkpoint.
func (d *Drive) SyncFrom(ctx context.Context, cp vfs.CheckPoint) iter.Seq2[vfs.Change, error] {
	return d.sync(ctx, cp, false)
}

func (d *Drive) sync(ctx context.Context, from vfs.CheckPoint, live bool) iter.Seq2[vfs.Change, error] {
	return func(yield func(vfs.Change, error) bool) {
		if err := d.syncSem.Acquire(ctx, 1); err != nil {
			yield(vfs.Change{}, fmt.Errorf("drive: waiting for running sync: %w", err))
			return
		}
		defer d.syncSem.Release(1)

		start, err := d.startCheckPoint(ctx, from, live)
		if err != nil {
			yield(vfs.Change{}, err)
			return
		}

		d.logger.Info("sync started", slog.String("from", string(start)), slog.Bool("dry_run", !live))

		var batches, changes int

		for batch, err := range d.remote.FetchChanges(ctx, start) {
			if err != nil {
				yield(vfs.Change{}, fmt.Errorf("drive: fetching changes: %w", err))
				return
			}

			if live {
				if err := d.cache.ApplyChanges(ctx, batch.Changes, batch.CheckPoint); err != nil {
					yield(vfs.Change{}, fmt.Errorf("drive: applying batch up to %s: %w", batch.CheckPoint, err))
					return
				}
			}

			batches++

			for _, c := range batch.Changes {
				changes++

				if !yield(c, nil) {
					return
				}
			}
		}

		d.logger.Info("sync finished", slog.Int("batches", batches), slog.Int("changes", changes))
	}
}

// startCheckPoint picks where the feed resumes and bootstraps the root when
// it resumes from the very beginning. Caller holds syncSem.
func (d *Drive) startCheckPoint(ctx context.Context, from vfs.CheckPoint, live bool) (vfs.CheckPoint, error) {
	initial, err := d.remote.InitialCheckPoint(ctx)
	if err != nil {
		return "", fmt.Errorf("drive: initial check point: %w", err)
	}

	start := from

	if live {
		stored, ok, err := d.cache.CheckPoint(ctx)
		if err != nil {
			return "", fmt.Errorf("drive: reading check point: %w", err)
		}

		start = initial
		if ok {
			start = stored
		}
	}

	if start != initial {
		return start, nil
	}

	root, err := d.remote.FetchRootNode(ctx)
	if err != nil {
		return "", fmt.Errorf("drive: fetching root: %w", err)
	}

	if live {
		if err := d.cache.InsertRoot(ctx, root); err != nil {
			return "", fmt.Errorf("drive: inserting root: %w", err)
		}

		d.logger.Debug("root bootstrapped", slog.String("id", root.ID))
	}

	return start, nil
}
