package main

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"path"
	"slices"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/vdrive/internal/driveops"
	"github.com/tonimelisma/vdrive/internal/vfs"
)

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls [path]",
		Short: "List files and folders",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runLs,
	}
}

func newTreeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tree [path]",
		Short: "List everything below a folder, breadth first",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runTree,
	}

	cmd.Flags().Bool("trashed", false, "include trashed nodes")

	return cmd
}

func newFindCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "find <regex>",
		Short: "Find nodes whose name matches a regular expression",
		Args:  cobra.ExactArgs(1),
		RunE:  runFind,
	}
}

func newMkdirCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a folder (recursive)",
		Args:  cobra.ExactArgs(1),
		RunE:  runMkdir,
	}

	cmd.Flags().Bool("exist-ok", false, "succeed if the folder already exists")

	return cmd
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <remote-path> [local-dir]",
		Short: "Download a file or folder",
		Long: `Download a file or a whole folder into local-dir (default: the current
directory). Interrupted downloads leave a hidden .<name>.partial file that
the next run resumes from; files already present are skipped.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: runGet,
	}
}

func newPutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put <local-path> [remote-folder]",
		Short: "Upload a file",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runPut,
	}

	cmd.Flags().Bool("exist-ok", false, "succeed without uploading if the name is taken")
	cmd.Flags().String("name", "", "remote name (default: the local base name)")

	return cmd
}

func newMvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mv <src> <dst>",
		Short: "Move or rename a node",
		Long: `Move or rename the node at src. dst may be:

  .           leave src where it is
  ..          move src up one folder
  name        rename src in place
  a/b         a path relative to src's folder
  /folder     an existing folder: move src into it
  /new/name   a path that does not exist yet: move and rename

An existing file at dst is never overwritten.`,
		Args: cobra.ExactArgs(2),
		RunE: runMv,
	}
}

func newTrashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trash <path>",
		Short: "Move a file or folder to the trash",
		Args:  cobra.ExactArgs(1),
		RunE:  runTrash,
	}
}

func newTrashedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trashed",
		Short: "List trashed nodes",
		Args:  cobra.NoArgs,
		RunE:  runTrashed,
	}
}

// lookup resolves p to a cached node, turning a miss into ErrNotFound.
func lookup(ctx context.Context, s *driveops.Session, p string) (*vfs.Node, error) {
	n, err := s.Drive.NodeByPath(ctx, p)
	if err != nil {
		return nil, err
	}

	if n == nil {
		return nil, fmt.Errorf("%s: %w", vfs.CleanPath(p), vfs.ErrNotFound)
	}

	return n, nil
}

// pathOrID returns n's path, or its ID when the cache cannot place it.
func pathOrID(ctx context.Context, s *driveops.Session, n *vfs.Node) string {
	p, err := s.Drive.PathOf(ctx, n)
	if err != nil {
		return "<" + n.ID + ">"
	}

	return p
}

func runLs(cmd *cobra.Command, args []string) error {
	remotePath := vfs.Separator
	if len(args) > 0 {
		remotePath = args[0]
	}

	return withSession(cmd, func(ctx context.Context, s *driveops.Session) error {
		n, err := lookup(ctx, s, remotePath)
		if err != nil {
			return err
		}

		base := vfs.CleanPath(remotePath)
		items := []*vfs.Node{n}

		if n.IsFolder {
			children, err := s.Drive.Children(ctx, n)
			if err != nil {
				return fmt.Errorf("listing %q: %w", base, err)
			}

			items = slices.DeleteFunc(children, func(c *vfs.Node) bool { return c.Trashed })
		} else {
			base = path.Dir(base)
		}

		// Folders first, then alphabetical.
		slices.SortFunc(items, func(a, b *vfs.Node) int {
			if a.IsFolder != b.IsFolder {
				if a.IsFolder {
					return -1
				}

				return 1
			}

			return cmp.Compare(a.Name, b.Name)
		})

		if flagJSON {
			out := make([]nodeJSON, 0, len(items))
			for _, c := range items {
				out = append(out, toNodeJSON(c, path.Join(base, c.Name)))
			}

			return writeJSON(cmd.OutOrStdout(), out)
		}

		rows := make([][]string, 0, len(items))
		for _, c := range items {
			size := formatSize(c.Size)
			if c.IsFolder {
				size = "-"
			}

			rows = append(rows, []string{displayName(c), size, formatTime(c.Modified), c.ID})
		}

		printTable(cmd.OutOrStdout(), []string{"NAME", "SIZE", "MODIFIED", "ID"}, rows)

		return nil
	})
}

func runTree(cmd *cobra.Command, args []string) error {
	remotePath := vfs.Separator
	if len(args) > 0 {
		remotePath = args[0]
	}

	includeTrashed, err := cmd.Flags().GetBool("trashed")
	if err != nil {
		return err
	}

	return withSession(cmd, func(ctx context.Context, s *driveops.Session) error {
		n, err := lookup(ctx, s, remotePath)
		if err != nil {
			return err
		}

		paths := map[string]string{n.ID: vfs.CleanPath(remotePath)}

		var out []nodeJSON

		emit := func(c *vfs.Node, p string) {
			if flagJSON {
				out = append(out, toNodeJSON(c, p))
				return
			}

			line := p
			if c.IsFolder && p != vfs.Separator {
				line += "/"
			}

			if c.Trashed {
				line += " (trashed)"
			}

			fmt.Fprintln(cmd.OutOrStdout(), line)
		}

		for step, err := range s.Drive.Walk(ctx, n, includeTrashed) {
			if err != nil {
				return err
			}

			folderPath := paths[step.Folder.ID]
			emit(step.Folder, folderPath)

			for _, f := range step.Folders {
				paths[f.ID] = path.Join(folderPath, f.Name)
			}

			for _, f := range step.Files {
				emit(f, path.Join(folderPath, f.Name))
			}
		}

		if flagJSON {
			return writeJSON(cmd.OutOrStdout(), out)
		}

		return nil
	})
}

func runFind(cmd *cobra.Command, args []string) error {
	return withSession(cmd, func(ctx context.Context, s *driveops.Session) error {
		matches, err := s.Drive.FindByRegex(ctx, args[0])
		if err != nil {
			return err
		}

		return printNodeList(ctx, cmd, s, matches)
	})
}

func runTrashed(cmd *cobra.Command, _ []string) error {
	return withSession(cmd, func(ctx context.Context, s *driveops.Session) error {
		nodes, err := s.Drive.TrashedNodes(ctx)
		if err != nil {
			return err
		}

		return printNodeList(ctx, cmd, s, nodes)
	})
}

// printNodeList prints one path per node, or a JSON array.
func printNodeList(ctx context.Context, cmd *cobra.Command, s *driveops.Session, nodes []*vfs.Node) error {
	if flagJSON {
		out := make([]nodeJSON, 0, len(nodes))
		for _, n := range nodes {
			out = append(out, toNodeJSON(n, pathOrID(ctx, s, n)))
		}

		return writeJSON(cmd.OutOrStdout(), out)
	}

	for _, n := range nodes {
		fmt.Fprintln(cmd.OutOrStdout(), pathOrID(ctx, s, n))
	}

	return nil
}

func runMkdir(cmd *cobra.Command, args []string) error {
	existOK, err := cmd.Flags().GetBool("exist-ok")
	if err != nil {
		return err
	}

	return withSession(cmd, func(ctx context.Context, s *driveops.Session) error {
		segments := vfs.SplitPath(args[0])
		if len(segments) == 0 {
			return &vfs.StructuralError{Op: "mkdir", Err: vfs.ErrRootNode}
		}

		cur, err := s.Drive.Root(ctx)
		if err != nil {
			return err
		}

		curPath := vfs.Separator

		for i, name := range segments {
			last := i == len(segments)-1
			curPath = path.Join(curPath, name)

			if !last {
				existing, err := s.Drive.NodeByPath(ctx, curPath)
				if err != nil {
					return err
				}

				if existing != nil {
					if !existing.IsFolder {
						return &vfs.StructuralError{Op: "mkdir " + curPath, Node: existing, Err: vfs.ErrNotFolder}
					}

					cur = existing

					continue
				}
			}

			cur, err = s.Drive.CreateFolder(ctx, cur, name, !last || existOK)
			if err != nil {
				return err
			}
		}

		if flagJSON {
			return writeJSON(cmd.OutOrStdout(), toNodeJSON(cur, curPath))
		}

		statusf(cmd, "Created %s\n", curPath)

		return nil
	})
}

func runGet(cmd *cobra.Command, args []string) error {
	localDir := "."
	if len(args) > 1 {
		localDir = args[1]
	}

	return withSession(cmd, func(ctx context.Context, s *driveops.Session) error {
		n, err := lookup(ctx, s, args[0])
		if err != nil {
			return err
		}

		if !n.IsFolder {
			target, err := s.Transfers.Download(ctx, n, localDir)
			if err != nil {
				return err
			}

			statusf(cmd, "Downloaded %s (%s)\n", target, formatSize(n.Size))

			return nil
		}

		return downloadFolder(ctx, cmd, s, n, localDir)
	})
}

// downloadFolder mirrors the folder n, minus trashed nodes, under localDir.
// The root's content lands in localDir itself.
func downloadFolder(ctx context.Context, cmd *cobra.Command, s *driveops.Session, n *vfs.Node, localDir string) error {
	top := localDir

	if !n.IsRoot() {
		var err error
		if top, err = driveops.LocalPath(localDir, n.Name); err != nil {
			return err
		}
	}

	dirs := map[string]string{n.ID: top}

	var files int

	for step, err := range s.Drive.Walk(ctx, n, false) {
		if err != nil {
			return err
		}

		dir := dirs[step.Folder.ID]
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}

		for _, f := range step.Folders {
			sub, err := driveops.LocalPath(dir, f.Name)
			if err != nil {
				return err
			}

			dirs[f.ID] = sub
		}

		for _, f := range step.Files {
			if _, err := s.Transfers.Download(ctx, f, dir); err != nil {
				return err
			}

			files++
		}
	}

	statusf(cmd, "Downloaded %d files into %s\n", files, dirs[n.ID])

	return nil
}

func runPut(cmd *cobra.Command, args []string) error {
	existOK, err := cmd.Flags().GetBool("exist-ok")
	if err != nil {
		return err
	}

	name, err := cmd.Flags().GetString("name")
	if err != nil {
		return err
	}

	remoteDir := vfs.Separator
	if len(args) > 1 {
		remoteDir = args[1]
	}

	return withSession(cmd, func(ctx context.Context, s *driveops.Session) error {
		parent, err := lookup(ctx, s, remoteDir)
		if err != nil {
			return err
		}

		n, err := s.Transfers.Upload(ctx, args[0], parent, driveops.UploadFileOptions{Name: name, ExistOK: existOK})
		if err != nil {
			return err
		}

		remotePath := path.Join(vfs.CleanPath(remoteDir), n.Name)

		if flagJSON {
			return writeJSON(cmd.OutOrStdout(), toNodeJSON(n, remotePath))
		}

		statusf(cmd, "Uploaded %s (%s)\n", remotePath, formatSize(n.Size))

		return nil
	})
}

func runMv(cmd *cobra.Command, args []string) error {
	return withSession(cmd, func(ctx context.Context, s *driveops.Session) error {
		n, err := s.Drive.RenameNodeByPath(ctx, args[0], args[1])
		if err != nil {
			return err
		}

		if flagJSON {
			return writeJSON(cmd.OutOrStdout(), toNodeJSON(n, ""))
		}

		statusf(cmd, "Moved %s -> %s\n", vfs.CleanPath(args[0]), args[1])

		return nil
	})
}

func runTrash(cmd *cobra.Command, args []string) error {
	return withSession(cmd, func(ctx context.Context, s *driveops.Session) error {
		n, err := lookup(ctx, s, args[0])
		if err != nil {
			return err
		}

		if err := s.Drive.TrashNode(ctx, n); err != nil {
			return err
		}

		statusf(cmd, "Trashed %s\n", vfs.CleanPath(args[0]))

		return nil
	})
}
