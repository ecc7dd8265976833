package main

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/vdrive/internal/driveops"
	"github.com/tonimelisma/vdrive/internal/vfs"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Bring the local cache up to date with the remote",
		Long: `Fetch the remote change feed from the last saved check point and apply
it to the local cache, printing each change.

With --from, replay the feed from the given check point instead, without
touching the cache. Use --from with the backend's initial check point to
list the whole history.`,
		Args: cobra.NoArgs,
		RunE: runSync,
	}

	cmd.Flags().String("from", "", "replay changes after this check point without applying them")

	return cmd
}

// changeJSON is one line of "sync --json" output.
type changeJSON struct {
	Op   string    `json:"op"`
	ID   string    `json:"id"`
	Path string    `json:"path,omitempty"`
	Node *nodeJSON `json:"node,omitempty"`
}

func runSync(cmd *cobra.Command, _ []string) error {
	from, err := cmd.Flags().GetString("from")
	if err != nil {
		return err
	}

	dryRun := cmd.Flags().Changed("from")

	return openSession(cmd, func(ctx context.Context, s *driveops.Session) error {
		var changes iter.Seq2[vfs.Change, error]
		if dryRun {
			changes = s.Drive.SyncFrom(ctx, vfs.CheckPoint(from))
		} else {
			changes = s.Drive.Sync(ctx)
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		count := 0

		for c, err := range changes {
			if err != nil {
				return err
			}

			count++

			line := describeChange(ctx, s, c, !dryRun)

			if flagJSON {
				if err := enc.Encode(line); err != nil {
					return err
				}

				continue
			}

			fmt.Fprintln(cmd.OutOrStdout(), formatChange(line))
		}

		if dryRun {
			statusf(cmd, "Replayed %d changes after %q\n", count, from)
		} else {
			statusf(cmd, "Synced %d changes\n", count)
		}

		return nil
	})
}

// describeChange builds the output record for c. Paths are only looked up
// when the change has been applied to the cache.
func describeChange(ctx context.Context, s *driveops.Session, c vfs.Change, applied bool) changeJSON {
	if c.Removed {
		return changeJSON{Op: "remove", ID: c.ID}
	}

	out := changeJSON{Op: "upsert", ID: c.ID}

	if c.Node.Trashed {
		out.Op = "trash"
	}

	if applied {
		out.Path = pathOrID(ctx, s, c.Node)
	}

	n := toNodeJSON(c.Node, out.Path)
	out.Node = &n

	return out
}

func formatChange(c changeJSON) string {
	target := c.Path
	if target == "" && c.Node != nil {
		target = c.Node.Name + " <" + c.ID + ">"
	}

	if target == "" {
		target = "<" + c.ID + ">"
	}

	switch c.Op {
	case "remove":
		return "- " + target
	case "trash":
		return "~ " + target
	default:
		return "+ " + target
	}
}
