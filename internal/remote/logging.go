package remote

import (
	"context"
	"iter"
	"log/slog"
	"time"

	"github.com/tonimelisma/vdrive/internal/vfs"
)

// LoggingMiddlewareName is the registry name of the logging middleware.
const LoggingMiddlewareName = "logging"

func init() {
	RegisterMiddleware(MiddlewareFactory{
		Name:     LoggingMiddlewareName,
		Versions: VersionRange{Min: "1.0", Max: "1.99"},
		New: func(_ context.Context, rc Context, next Driver) (Driver, error) {
			return NewLoggingDriver(next, rc.Logger), nil
		},
	})
}

// LoggingDriver records every remote call with its duration and outcome.
// Methods it does not override are proxied through the embedded Driver.
type LoggingDriver struct {
	Driver
	logger *slog.Logger
}

// NewLoggingDriver wraps next.
func NewLoggingDriver(next Driver, logger *slog.Logger) *LoggingDriver {
	if logger == nil {
		logger = slog.Default()
	}

	return &LoggingDriver{Driver: next, logger: logger}
}

func (l *LoggingDriver) observe(op string, start time.Time, err error, attrs ...any) {
	attrs = append(attrs,
		slog.String("op", op),
		slog.Duration("elapsed", time.Since(start)),
	)

	if err != nil {
		l.logger.Warn("remote call failed", append(attrs, slog.String("error", err.Error()))...)
		return
	}

	l.logger.Debug("remote call", attrs...)
}

func (l *LoggingDriver) CreateFolder(
	ctx context.Context, parent *vfs.Node, name string, existOK bool, private map[string]string,
) (*vfs.Node, error) {
	start := time.Now()
	n, err := l.Driver.CreateFolder(ctx, parent, name, existOK, private)
	l.observe("create_folder", start, err, slog.String("parent_id", parent.ID), slog.String("name", name))

	return n, err
}

func (l *LoggingDriver) Upload(
	ctx context.Context, parent *vfs.Node, name string, opts UploadOptions,
) (vfs.WritableFile, error) {
	start := time.Now()
	w, err := l.Driver.Upload(ctx, parent, name, opts)
	l.observe("upload", start, err,
		slog.String("parent_id", parent.ID), slog.String("name", name), slog.Int64("size", opts.Size))

	return w, err
}

func (l *LoggingDriver) Download(ctx context.Context, n *vfs.Node) (vfs.ReadableFile, error) {
	start := time.Now()
	r, err := l.Driver.Download(ctx, n)
	l.observe("download", start, err, slog.String("node_id", n.ID))

	return r, err
}

func (l *LoggingDriver) TrashNode(ctx context.Context, n *vfs.Node) error {
	start := time.Now()
	err := l.Driver.TrashNode(ctx, n)
	l.observe("trash_node", start, err, slog.String("node_id", n.ID))

	return err
}

func (l *LoggingDriver) RenameNode(
	ctx context.Context, n *vfs.Node, newParent *vfs.Node, newName string,
) (*vfs.Node, error) {
	start := time.Now()
	out, err := l.Driver.RenameNode(ctx, n, newParent, newName)

	parentID := ""
	if newParent != nil {
		parentID = newParent.ID
	}

	l.observe("rename_node", start, err,
		slog.String("node_id", n.ID), slog.String("new_parent_id", parentID), slog.String("new_name", newName))

	return out, err
}

func (l *LoggingDriver) FetchChanges(ctx context.Context, since vfs.CheckPoint) iter.Seq2[vfs.ChangeBatch, error] {
	inner := l.Driver.FetchChanges(ctx, since)

	return func(yield func(vfs.ChangeBatch, error) bool) {
		pages := 0

		for batch, err := range inner {
			if err != nil {
				l.logger.Warn("change feed failed",
					slog.String("since", string(since)),
					slog.Int("pages", pages),
					slog.String("error", err.Error()),
				)
			} else {
				pages++
				l.logger.Debug("change page",
					slog.String("check_point", string(batch.CheckPoint)),
					slog.Int("changes", len(batch.Changes)),
				)
			}

			if !yield(batch, err) {
				return
			}
		}
	}
}
