package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/vdrive/internal/config"
	"github.com/tonimelisma/vdrive/internal/driveops"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
	flagOffline    bool
)

// resolvedCfg and resolvedCfgPath hold the configuration loaded by
// PersistentPreRunE, available to every subcommand.
var (
	resolvedCfg     *config.Config
	resolvedCfgPath string
)

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "vdrive",
		Short:   "Virtual drive over a cloud-storage backend",
		Long:    "Browse and change a remote drive through a locally cached mirror of its tree.",
		Version: version,
		// Silence Cobra's default error/usage printing; main handles it.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return loadConfig()
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")
	cmd.PersistentFlags().BoolVar(&flagOffline, "offline", false, "answer from the cache without syncing first")

	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newLsCmd())
	cmd.AddCommand(newTreeCmd())
	cmd.AddCommand(newFindCmd())
	cmd.AddCommand(newMkdirCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newPutCmd())
	cmd.AddCommand(newMvCmd())
	cmd.AddCommand(newTrashCmd())
	cmd.AddCommand(newTrashedCmd())
	cmd.AddCommand(newFsckCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadConfig resolves the config file (--config, then VDRIVE_CONFIG, then
// the default path) and stores the result for subcommands.
func loadConfig() error {
	cfg, path, err := config.Resolve(flagConfigPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	resolvedCfg = cfg
	resolvedCfgPath = path

	return nil
}

// buildLogger creates an slog.Logger writing to w. The config file sets the
// baseline level; --verbose and --quiet override it because CLI flags
// always win. log_format "auto" picks text on a terminal and JSON
// otherwise.
func buildLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	format := "auto"

	if resolvedCfg != nil {
		if l, err := config.ParseLogLevel(resolvedCfg.Logging.LogLevel); err == nil {
			level = l
		}

		format = resolvedCfg.Logging.LogFormat
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if format == "json" || (format == "auto" && !isTerminal(w)) {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// openSession opens a session for the loaded config and runs fn. The
// context is canceled on SIGINT/SIGTERM and the session is closed on every
// path.
func openSession(cmd *cobra.Command, fn func(ctx context.Context, s *driveops.Session) error) error {
	logger := buildLogger(cmd.ErrOrStderr())

	ctx, stop := shutdownContext(cmd.Context(), logger)
	defer stop()

	return driveops.NewSessionFactory(resolvedCfg, logger).WithSession(ctx, func(s *driveops.Session) error {
		return fn(ctx, s)
	})
}

// withSession is openSession for commands that read the tree: it brings
// the cache up to date first unless --offline.
func withSession(cmd *cobra.Command, fn func(ctx context.Context, s *driveops.Session) error) error {
	return openSession(cmd, func(ctx context.Context, s *driveops.Session) error {
		if !flagOffline {
			if err := refresh(ctx, s); err != nil {
				return err
			}
		}

		return fn(ctx, s)
	})
}

// refresh drains one sync so reads see the current remote tree.
func refresh(ctx context.Context, s *driveops.Session) error {
	for _, err := range s.Drive.Sync(ctx) {
		if err != nil {
			return fmt.Errorf("syncing: %w", err)
		}
	}

	return nil
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
