package audit

import (
	"context"
	"sync/atomic"
	"time"

	"scribe/internal/engine/symbols"
	"scribe/internal/engine/walker"
	"scribe/internal/shared/observability"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	Walker          walker.Options
	Rules           []Rule
	Workers         int
	HeuristicTarget string
	// Progress receives best-effort events; nil disables reporting.
	Progress chan<- Progress
}

// Result is the outcome of one full audit.
type Result struct {
	Registry symbols.Registry
	Findings []Finding
	Files    int
}

// Auditor owns the walker and detector for one configuration.
type Auditor struct {
	walker   *walker.Walker
	detector *Detector
	workers  int
	progress chan<- Progress
}

func NewAuditor(opts Options) (*Auditor, error) {
	w, err := walker.New(opts.Walker)
	if err != nil {
		return nil, err
	}
	rules := opts.Rules
	if rules == nil {
		rules = DefaultRules
	}
	d, err := NewDetector(rules, opts.Workers, opts.HeuristicTarget)
	if err != nil {
		return nil, err
	}
	d.progress = opts.Progress
	return &Auditor{walker: w, detector: d, workers: d.workers, progress: opts.Progress}, nil
}

func (a *Auditor) Detector() *Detector {
	return a.detector
}

// RunFullAudit walks roots, then indexes symbols and detects findings as two
// independent fan-outs over the same file list.
func (a *Auditor) RunFullAudit(ctx context.Context, roots []string) (*Result, error) {
	ctx, span := observability.Tracer.Start(ctx, "Auditor.RunFullAudit",
		trace.WithAttributes(attribute.Int("scribe.roots", len(roots))))
	defer span.End()

	start := time.Now()
	candidates, err := a.walker.Collect(ctx, roots)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	observability.PhaseDuration.WithLabelValues(PhaseWalk).Observe(time.Since(start).Seconds())
	notify(a.progress, Progress{Phase: PhaseWalk, Done: len(candidates), Total: len(candidates)})
	span.SetAttributes(attribute.Int("scribe.files", len(candidates)))

	registry := symbols.NewRegistry()
	var findings []Finding

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer observeSince(PhaseIndex, time.Now())
		return a.index(gctx, symbols.NewIndexer(registry), candidates)
	})
	g.Go(func() error {
		defer observeSince(PhaseDetect, time.Now())
		var err error
		findings, err = a.detector.Detect(gctx, walker.Paths(candidates))
		return err
	})
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	observability.RegistrySize.Set(float64(registry.Len()))
	span.SetAttributes(
		attribute.Int("scribe.symbols", registry.Len()),
		attribute.Int("scribe.findings", len(findings)),
	)
	return &Result{Registry: registry, Findings: findings, Files: len(candidates)}, nil
}

func (a *Auditor) index(ctx context.Context, ix *symbols.Indexer, candidates []walker.Candidate) error {
	var done atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for _, c := range candidates {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ix.Index(c.Project, c.Path)
			notify(a.progress, Progress{Phase: PhaseIndex, Done: int(done.Add(1)), Total: len(candidates), Path: c.Path})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func observeSince(phase string, start time.Time) {
	observability.PhaseDuration.WithLabelValues(phase).Observe(time.Since(start).Seconds())
}
