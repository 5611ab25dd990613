package audit

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"scribe/internal/engine/source"
	"scribe/internal/shared/observability"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Detector runs the scan table over files. It is safe for concurrent use.
type Detector struct {
	rules           []compiledRule
	workers         int
	heuristicTarget string
	progress        chan<- Progress
}

func NewDetector(rules []Rule, workers int, heuristicTarget string) (*Detector, error) {
	compiled, err := compileRules(rules)
	if err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = 1
	}
	// Scan findings carry absolute paths; the heuristic target must match them.
	if heuristicTarget != "" {
		if abs, err := filepath.Abs(heuristicTarget); err == nil {
			heuristicTarget = abs
		}
	}
	return &Detector{rules: compiled, workers: workers, heuristicTarget: heuristicTarget}, nil
}

// ScanFile returns one finding per rule that matches path. Unreadable files
// yield nothing.
func (d *Detector) ScanFile(path string) []Finding {
	content, err := source.Load(path)
	if err != nil {
		slog.Debug("skipping unscannable file", "path", path, "error", err)
		return nil
	}

	var out []Finding
	for _, r := range d.rules {
		lines := r.matchedLines(content)
		if lines == 0 {
			continue
		}
		out = append(out, Finding{
			ID:          uuid.NewString(),
			Kind:        r.Kind,
			Title:       r.Title,
			Files:       []string{path},
			ImpactLines: lines,
			Suggestion:  r.Suggestion,
		})
	}
	return out
}

// Detect scans paths across the worker pool. Scan findings keep the order of
// paths; the fixed heuristics follow them. A cancelled context discards the
// partial result.
func (d *Detector) Detect(ctx context.Context, paths []string) ([]Finding, error) {
	perFile := make([][]Finding, len(paths))
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for i, path := range paths {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			perFile[i] = d.ScanFile(path)
			notify(d.progress, Progress{Phase: PhaseDetect, Done: int(done.Add(1)), Total: len(paths), Path: path})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var findings []Finding
	for _, fs := range perFile {
		findings = append(findings, fs...)
	}
	findings = appendHeuristics(findings, d.heuristicTarget)

	for _, f := range findings {
		observability.FindingsTotal.WithLabelValues(string(f.Kind)).Inc()
	}
	return findings, nil
}
