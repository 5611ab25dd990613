package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"scribe/internal/core/app"
	"scribe/internal/core/config"
	"scribe/internal/data/history"
	"scribe/internal/engine/audit"
	"scribe/internal/shared/util"
	"scribe/internal/ui/report"

	"github.com/spf13/cobra"
)

func newAuditCommand(opts *rootOptions) *cobra.Command {
	var format, output string
	cmd := &cobra.Command{
		Use:   "audit [roots...]",
		Short: "Index symbols and report findings without modifying files",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateReportFormat(format); err != nil {
				return err
			}
			return withEngine(cmd.Context(), opts, func(ctx context.Context, engine *app.Engine) error {
				result, err := engine.Audit(ctx, args)
				if err != nil {
					return err
				}
				view := newAuditView(result)
				data := report.MarkdownReportData{Files: view.Files, Symbols: view.Symbols, Findings: view.Findings}
				return emitReport(cmd.OutOrStdout(), output, format, data, view, func() string { return renderAudit(view) })
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", formatText, "Output format: text, json, yaml, sarif or markdown")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the report to this file instead of stdout")
	return cmd
}

func newRefactorCommand(opts *rootOptions) *cobra.Command {
	var format, output string
	var progress bool
	cmd := &cobra.Command{
		Use:   "refactor [roots...]",
		Short: "Audit, then annotate every file referenced by a finding",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateReportFormat(format); err != nil {
				return err
			}
			var events chan audit.Progress
			var engineOpts []app.Option
			if progress {
				events = make(chan audit.Progress, 64)
				engineOpts = append(engineOpts, app.WithProgress(events))
			}
			return withEngine(cmd.Context(), opts, func(ctx context.Context, engine *app.Engine) error {
				var (
					out *app.RefactorResult
					err error
				)
				if progress {
					out, err = refactorWithProgress(ctx, engine, events, args, cmd.ErrOrStderr())
				} else {
					out, err = engine.Refactor(ctx, args)
				}
				if err != nil {
					return err
				}
				data := report.MarkdownReportData{Files: out.Files, Symbols: out.Symbols, Findings: out.Findings, Surgery: &out.Report}
				return emitReport(cmd.OutOrStdout(), output, format, data, out, func() string { return renderRefactor(out) })
			}, engineOpts...)
		},
	}
	cmd.Flags().StringVar(&format, "format", formatText, "Output format: text, json, yaml, sarif or markdown")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the report to this file instead of stdout")
	cmd.Flags().BoolVar(&progress, "progress", false, "Show a progress spinner while running")
	return cmd
}

func newHistoryCommand(opts *rootOptions) *cobra.Command {
	var format string
	var limit int
	var trend bool
	var window time.Duration
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded refactor runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFormat(format); err != nil {
				return err
			}
			return withEngine(cmd.Context(), opts, func(ctx context.Context, engine *app.Engine) error {
				runs, err := engine.History(limit)
				if err != nil {
					return err
				}
				var trendReport *history.TrendReport
				if trend && len(runs) > 0 {
					tr, err := history.BuildTrend(runs, window)
					if err != nil {
						return err
					}
					trendReport = &tr
				}
				var v any = runs
				if trendReport != nil {
					v = trendReport
				}
				return emit(cmd.OutOrStdout(), "", format, v, func() string { return renderRuns(runs, trendReport) })
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", formatText, "Output format: text, json or yaml")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to show (0 for all)")
	cmd.Flags().BoolVar(&trend, "trend", false, "Include finding and yield deltas between runs")
	cmd.Flags().DurationVar(&window, "window", 24*time.Hour, "Moving-average window for --trend")
	return cmd
}

func newWatchCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [roots...]",
		Short: "Re-audit whenever a source file changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withEngine(ctx, opts, func(ctx context.Context, engine *app.Engine) error {
				events, err := engine.Watch(ctx, args)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for ev := range events {
					if ev.Kind == app.EventError {
						slog.Warn("watch audit failed", "error", ev.Err)
					}
					fmt.Fprintln(out, renderEvent(ev))
				}
				return nil
			})
		},
	}
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the audit and refactor API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withEngine(ctx, opts, func(ctx context.Context, engine *app.Engine) error {
				cfg := engine.Config()
				if addr == "" {
					addr = cfg.Server.Address
				}

				if _, err := os.Stat(opts.configPath); err == nil {
					w := config.NewWatcher(opts.configPath, func(next *config.Config) {
						if err := engine.Reload(next); err != nil {
							slog.Warn("config reload rejected", "error", err)
						}
					})
					if err := w.Start(ctx); err != nil {
						slog.Warn("config hot reload disabled", "path", opts.configPath, "error", err)
					} else {
						defer w.Stop()
					}
				}

				limiters := util.NewLimiterRegistry(cfg.Server.RequestsPerSecond, cfg.Server.Burst, 10*time.Minute)
				defer limiters.Close()

				server := NewServer(addr, engine, limiters, cfg.Observability.MetricsOn())
				if err := server.Start(ctx); err != nil {
					return err
				}
				<-ctx.Done()

				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				defer cancel()
				return server.Stop(shutdownCtx)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (defaults to server.address)")
	return cmd
}
