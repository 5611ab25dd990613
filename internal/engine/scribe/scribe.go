// Package scribe applies crash-safe annotate-and-replace rewrites to the files
// named by findings and scores the result.
package scribe

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"scribe/internal/engine/audit"
	"scribe/internal/shared/observability"
	"scribe/internal/shared/util"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const DefaultHeaderTag = "PURIFIED_BY_SCRIBE"

type Options struct {
	AssetsDir string
	HeaderTag string
	Workers   int
	// WritesPerSecond paces rewrites when positive.
	WritesPerSecond float64
}

type Scribe struct {
	assetsDir string
	headerTag string
	workers   int
	pacer     *util.Limiter
}

func New(opts Options) *Scribe {
	if opts.HeaderTag == "" {
		opts.HeaderTag = DefaultHeaderTag
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Scribe{
		assetsDir: opts.AssetsDir,
		headerTag: opts.HeaderTag,
		workers:   opts.Workers,
		pacer:     util.NewPacer(opts.WritesPerSecond),
	}
}

// Header is the annotation prepended to a purged file.
func Header(tag, id, suggestion string) string {
	return "// [" + tag + ": " + id + "]\n// Suggestion: " + suggestion + "\n"
}

type targetGroup struct {
	target   string
	findings []audit.Finding
}

// canonicalPath resolves path to an absolute, symlink-free form so that every
// spelling of one file maps to a single key. Paths that do not resolve fall
// back to their absolute form.
func canonicalPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}

// groupByTarget buckets findings by canonical target path in order of first
// appearance, so one worker owns each file. Findings without files are dropped.
func groupByTarget(findings []audit.Finding) []targetGroup {
	index := make(map[string]int)
	var groups []targetGroup
	for _, f := range findings {
		target := f.Target()
		if target == "" {
			observability.PurgeOutcomesTotal.WithLabelValues("skipped").Inc()
			continue
		}
		target = canonicalPath(target)
		i, ok := index[target]
		if !ok {
			i = len(groups)
			index[target] = i
			groups = append(groups, targetGroup{target: target})
		}
		groups[i].findings = append(groups[i].findings, f)
	}
	return groups
}

// Purge rewrites the target of every finding and returns how many rewrites
// succeeded. Findings on one file are applied in order by a single worker, so
// their headers stack. Failures are logged and skipped. Cancellation stops
// remaining work; completed rewrites stay in place.
func (s *Scribe) Purge(ctx context.Context, findings []audit.Finding) int {
	var modified atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, group := range groupByTarget(findings) {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			for _, f := range group.findings {
				if err := s.pacer.Wait(gctx, 1); err != nil {
					return err
				}
				if err := s.rewrite(group.target, f); err != nil {
					var se *stageError
					stage := "unknown"
					if errors.As(err, &se) {
						stage = se.stage
					}
					observability.PurgeOutcomesTotal.WithLabelValues(stage).Inc()
					slog.Warn("purge failed", "path", group.target, "finding", f.ID, "stage", stage, "error", err)
					continue
				}
				observability.PurgeOutcomesTotal.WithLabelValues("modified").Inc()
				modified.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(modified.Load())
}

func (s *Scribe) rewrite(target string, f audit.Finding) error {
	info, err := os.Stat(target)
	if err != nil {
		return &stageError{stageRead, err}
	}
	original, err := os.ReadFile(target)
	if err != nil {
		return &stageError{stageRead, err}
	}

	header := Header(s.headerTag, f.ID, f.Suggestion)
	content := make([]byte, 0, len(header)+len(original))
	content = append(content, header...)
	content = append(content, original...)
	return writeAtomic(target, content, info.Mode().Perm())
}

// CountAssets returns the number of entries in the assets directory, or 0
// when it cannot be read.
func (s *Scribe) CountAssets() int {
	if s.assetsDir == "" {
		return 0
	}
	entries, err := os.ReadDir(s.assetsDir)
	if err != nil {
		return 0
	}
	return len(entries)
}

// PerformSurgery purges findings and reports the outcome. The error is
// non-nil only when ctx ended before the run completed.
func (s *Scribe) PerformSurgery(ctx context.Context, findings []audit.Finding) (Report, error) {
	ctx, span := observability.Tracer.Start(ctx, "Scribe.PerformSurgery",
		trace.WithAttributes(attribute.Int("scribe.findings", len(findings))))
	defer span.End()

	start := time.Now()
	files := s.Purge(ctx, findings)
	observability.PhaseDuration.WithLabelValues("purge").Observe(time.Since(start).Seconds())
	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		return Report{}, err
	}

	report := NewReport(files, s.CountAssets())
	span.SetAttributes(
		attribute.Int("scribe.files_modified", report.FilesModified),
		attribute.Int("scribe.assets_generated", report.AssetsGenerated),
	)
	slog.Info("surgery complete", "files_modified", report.FilesModified, "assets", report.AssetsGenerated, "yield", report.EquityYield)
	return report, nil
}
