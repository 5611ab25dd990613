// Package cli wires the engine to the scribe command line.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"scribe/internal/core/app"
	"scribe/internal/core/config"
	"scribe/internal/shared/observability"

	"github.com/spf13/cobra"
)

const versionString = "1.0.0"

type rootOptions struct {
	configPath string
	verbose    bool
	closeLogs  func()
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := NewRootCommand().Execute(); err != nil {
		return 1
	}
	return 0
}

func NewRootCommand() *cobra.Command {
	opts := &rootOptions{closeLogs: func() {}}

	root := &cobra.Command{
		Use:           "scribe",
		Short:         "Audit source trees and annotate the files behind each finding",
		Version:       versionString,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			uiMode := false
			if f := cmd.Flags().Lookup("progress"); f != nil {
				uiMode = f.Value.String() == "true"
			}
			opts.closeLogs = configureLogging(cmd, uiMode, opts.verbose)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			opts.closeLogs()
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultPath, "Path to config file")
	root.PersistentFlags().BoolVar(&opts.verbose, "verbose", false, "Enable verbose logging")

	root.AddCommand(
		newAuditCommand(opts),
		newRefactorCommand(opts),
		newHistoryCommand(opts),
		newWatchCommand(opts),
		newServeCommand(opts),
	)
	return root
}

// loadConfig reads the config file. A missing file at the default path falls
// back to built-in defaults with environment overrides applied.
func loadConfig(path string) (*config.Config, bool, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, true, nil
	}
	if os.IsNotExist(err) && path == config.DefaultPath {
		cfg, err = config.Parse("")
		return cfg, false, err
	}
	return nil, false, fmt.Errorf("load config %q: %w", path, err)
}

// withEngine builds an engine from the configured file, runs fn and releases
// the engine and tracer afterwards.
func withEngine(ctx context.Context, opts *rootOptions, fn func(context.Context, *app.Engine) error, engineOpts ...app.Option) error {
	cfg, _, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}

	shutdown, err := observability.InitTracing(ctx, cfg.Observability.OTLPEndpoint, cfg.Observability.ServiceName)
	if err != nil {
		slog.Warn("tracing disabled", "endpoint", cfg.Observability.OTLPEndpoint, "error", err)
		shutdown = func(context.Context) error { return nil }
	}
	defer func() { _ = shutdown(context.WithoutCancel(ctx)) }()

	engine, err := app.New(cfg, engineOpts...)
	if err != nil {
		return err
	}
	defer engine.Close()

	return fn(ctx, engine)
}

func configureLogging(cmd *cobra.Command, uiMode, verbose bool) func() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}

	output := cmd.ErrOrStderr()
	closeFn := func() {}
	if uiMode {
		logPath := resolveLogPath()
		if err := os.MkdirAll(filepath.Dir(logPath), 0o700); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to create log dir for %s: %v\n", logPath, err)
		} else if fi, err := os.Lstat(logPath); err == nil && (fi.Mode()&os.ModeSymlink) != 0 {
			fmt.Fprintf(os.Stderr, "warning: refusing to write logs to symlink path %s\n", logPath)
		} else {
			f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
			if err == nil {
				output = f
				closeFn = func() { _ = f.Close() }
			} else {
				fmt.Fprintf(os.Stderr, "warning: failed to open log file %s: %v\n", logPath, err)
			}
		}
	}

	logger := slog.New(slog.NewTextHandler(output, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
	return closeFn
}

func resolveLogPath() string {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "scribe", "scribe.log")
	}
	home, err := os.UserHomeDir()
	if err == nil && home != "" {
		return filepath.Join(home, ".local", "state", "scribe", "scribe.log")
	}
	return "scribe.log"
}
