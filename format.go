package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/vdrive/internal/vfs"
)

// statusf prints a status message to the command's stderr unless quiet
// mode is set.
func statusf(cmd *cobra.Command, format string, args ...any) {
	if !flagQuiet {
		fmt.Fprintf(cmd.ErrOrStderr(), format, args...)
	}
}

// formatSize returns a human-readable size string (e.g. "1.2 MiB").
func formatSize(bytes int64) string {
	if bytes < 0 {
		return fmt.Sprintf("%d B", bytes)
	}

	return humanize.IBytes(uint64(bytes))
}

// formatTime returns a compact timestamp for display.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}

	// Same calendar year: show "Jan  2 15:04"
	if t.Year() == time.Now().Year() {
		return t.Format("Jan _2 15:04")
	}

	return t.Format("Jan _2  2006")
}

// printTable writes aligned columns to the given writer.
// headers and each row must have the same length.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], len(cell))
		}
	}

	printRow(w, headers, widths)

	for _, row := range rows {
		printRow(w, row, widths)
	}
}

// printRow writes a single padded row.
func printRow(w io.Writer, cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
	}

	fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
}

// nodeJSON is the JSON output schema for a node.
type nodeJSON struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Path       string            `json:"path,omitempty"`
	ParentID   string            `json:"parent_id,omitempty"`
	IsFolder   bool              `json:"is_folder"`
	Trashed    bool              `json:"trashed,omitempty"`
	Size       int64             `json:"size"`
	Hash       string            `json:"hash,omitempty"`
	MimeType   string            `json:"mime_type,omitempty"`
	ModifiedAt string            `json:"modified_at,omitempty"`
	Private    map[string]string `json:"private,omitempty"`
}

func toNodeJSON(n *vfs.Node, p string) nodeJSON {
	out := nodeJSON{
		ID:       n.ID,
		Name:     n.Name,
		Path:     p,
		ParentID: n.ParentID,
		IsFolder: n.IsFolder,
		Trashed:  n.Trashed,
		Size:     n.Size,
		Hash:     n.Hash,
		MimeType: n.MimeType,
		Private:  n.Private,
	}

	if !n.Modified.IsZero() {
		out.ModifiedAt = n.Modified.UTC().Format(time.RFC3339)
	}

	return out
}

// writeJSON encodes v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

// displayName is the name shown for n in listings; folders get a slash.
func displayName(n *vfs.Node) string {
	if n.IsFolder {
		return n.Name + "/"
	}

	return n.Name
}
