package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/vdrive/internal/driveops"
)

// errFsckProblems makes "fsck" exit non-zero when the cache is inconsistent.
var errFsckProblems = errors.New("cache integrity problems found")

func newFsckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fsck",
		Short: "Check the cached tree for orphans and nodes with several parents",
		Long: `Report cached nodes whose parent is missing and nodes listed under more
than one parent. Problems are reported, never repaired.`,
		Args: cobra.NoArgs,
		RunE: runFsck,
	}
}

type fsckJSON struct {
	Orphans     []nodeJSON `json:"orphans"`
	MultiParent []nodeJSON `json:"multi_parent"`
}

func runFsck(cmd *cobra.Command, _ []string) error {
	return withSession(cmd, func(ctx context.Context, s *driveops.Session) error {
		orphans, err := s.Drive.FindOrphans(ctx)
		if err != nil {
			return err
		}

		multi, err := s.Drive.FindMultiParent(ctx)
		if err != nil {
			return err
		}

		if flagJSON {
			out := fsckJSON{Orphans: []nodeJSON{}, MultiParent: []nodeJSON{}}
			for _, n := range orphans {
				out.Orphans = append(out.Orphans, toNodeJSON(n, ""))
			}

			for _, n := range multi {
				out.MultiParent = append(out.MultiParent, toNodeJSON(n, ""))
			}

			if err := writeJSON(cmd.OutOrStdout(), out); err != nil {
				return err
			}
		} else {
			for _, n := range orphans {
				fmt.Fprintf(cmd.OutOrStdout(), "orphan        %s %q (parent %s)\n", n.ID, n.Name, n.ParentID)
			}

			for _, n := range multi {
				fmt.Fprintf(cmd.OutOrStdout(), "multi-parent  %s %q\n", n.ID, n.Name)
			}
		}

		if len(orphans)+len(multi) > 0 {
			return fmt.Errorf("%w: %d orphans, %d with several parents", errFsckProblems, len(orphans), len(multi))
		}

		statusf(cmd, "Cache is consistent\n")

		return nil
	})
}
