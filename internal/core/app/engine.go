// Package app owns the configured pipeline and exposes it to the CLI and
// HTTP surfaces.
package app

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"scribe/internal/core/config"
	"scribe/internal/core/errors"
	"scribe/internal/data/history"
	"scribe/internal/engine/audit"
	"scribe/internal/engine/scribe"
	"scribe/internal/engine/walker"

	"github.com/google/uuid"
)

// RunStore persists completed runs.
type RunStore interface {
	SaveRun(run history.Run) error
	LoadRuns(limit int) ([]history.Run, error)
	LoadFindings(runID string) ([]audit.Finding, error)
	Close() error
}

// AuditSummary describes the most recent audit, for health reporting.
type AuditSummary struct {
	At       time.Time `json:"at"`
	Files    int       `json:"files"`
	Symbols  int       `json:"symbols"`
	Findings int       `json:"findings"`
}

// RefactorResult is the outcome of an audit followed by surgery.
type RefactorResult struct {
	RunID     string          `json:"run_id"`
	Findings  []audit.Finding `json:"findings"`
	Files     int             `json:"files"`
	Symbols   int             `json:"symbols"`
	Report    scribe.Report   `json:"report"`
	Persisted bool            `json:"persisted"`
}

type Option func(*Engine)

// WithProgress routes best-effort audit progress events to ch.
func WithProgress(ch chan<- audit.Progress) Option {
	return func(e *Engine) { e.progress = ch }
}

// WithStore overrides the run store opened from configuration.
func WithStore(store RunStore) Option {
	return func(e *Engine) { e.store = store }
}

// Engine is the single owned instance of the pipeline. Configuration can be
// swapped at runtime; in-flight runs keep the components they started with.
type Engine struct {
	mu       sync.RWMutex
	cfg      *config.Config
	auditor  *audit.Auditor
	scribe   *scribe.Scribe
	progress chan<- audit.Progress

	store     RunStore
	lastAudit atomic.Pointer[AuditSummary]
}

func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	e := &Engine{}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.Reload(cfg); err != nil {
		return nil, err
	}

	if e.store == nil && cfg.DB.Enabled {
		store, err := history.Open(cfg.DB.Path, cfg.DB.BusyTimeout)
		if err != nil {
			return nil, errors.AddContext(errors.Wrap(err, errors.CodeInternal, "open history store"), errors.CtxPath, cfg.DB.Path)
		}
		e.store = store
	}
	return e, nil
}

// Reload rebuilds the pipeline from cfg and swaps it in.
func (e *Engine) Reload(cfg *config.Config) error {
	auditOpts, err := AuditOptions(cfg)
	if err != nil {
		return errors.Wrap(err, errors.CodeValidationError, "invalid audit configuration")
	}
	auditOpts.Progress = e.progress
	auditor, err := audit.NewAuditor(auditOpts)
	if err != nil {
		return errors.Wrap(err, errors.CodeValidationError, "invalid audit configuration")
	}
	s := scribe.New(ScribeOptions(cfg))

	e.mu.Lock()
	e.cfg = cfg
	e.auditor = auditor
	e.scribe = s
	e.mu.Unlock()
	return nil
}

func (e *Engine) Config() *config.Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

func (e *Engine) components() (*config.Config, *audit.Auditor, *scribe.Scribe) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg, e.auditor, e.scribe
}

// AuditOptions maps configuration onto the audit pipeline.
func AuditOptions(cfg *config.Config) (audit.Options, error) {
	rules := append([]audit.Rule(nil), audit.DefaultRules...)
	for _, r := range cfg.Rules {
		kind, err := audit.ParseKind(r.Kind)
		if err != nil {
			return audit.Options{}, err
		}
		rules = append(rules, audit.Rule{
			Name:       r.Name,
			Pattern:    r.Pattern,
			Kind:       kind,
			Title:      r.Title,
			Suggestion: r.Suggestion,
		})
	}
	return audit.Options{
		Walker: walker.Options{
			Extensions:       cfg.Scan.Extensions,
			ExcludeDirs:      cfg.Scan.ExcludeDirs,
			ExcludeFiles:     cfg.Scan.ExcludeFiles,
			RespectGitignore: cfg.Scan.GitignoreEnabled(),
		},
		Rules:           rules,
		Workers:         cfg.Scan.Workers,
		HeuristicTarget: cfg.Scribe.HeuristicTarget,
	}, nil
}

func ScribeOptions(cfg *config.Config) scribe.Options {
	return scribe.Options{
		AssetsDir:       cfg.Scribe.AssetsDir,
		HeaderTag:       cfg.Scribe.HeaderTag,
		Workers:         cfg.Scan.Workers,
		WritesPerSecond: cfg.Scribe.WritesPerSecond,
	}
}

func rootsOrDefault(cfg *config.Config, roots []string) []string {
	if len(roots) == 0 {
		return cfg.Scan.Roots
	}
	return roots
}

// Audit runs a full audit over roots, or the configured roots when none are given.
func (e *Engine) Audit(ctx context.Context, roots []string) (*audit.Result, error) {
	cfg, auditor, _ := e.components()
	result, err := auditor.RunFullAudit(ctx, rootsOrDefault(cfg, roots))
	if err != nil {
		return nil, err
	}
	e.lastAudit.Store(&AuditSummary{
		At:       time.Now().UTC(),
		Files:    result.Files,
		Symbols:  result.Registry.Len(),
		Findings: len(result.Findings),
	})
	return result, nil
}

// Refactor audits roots, purges every finding and records the run when a
// store is available. A failed save is logged; the report is still returned.
func (e *Engine) Refactor(ctx context.Context, roots []string) (*RefactorResult, error) {
	started := time.Now().UTC()
	cfg, _, s := e.components()
	roots = rootsOrDefault(cfg, roots)

	result, err := e.Audit(ctx, roots)
	if err != nil {
		return nil, err
	}
	report, err := s.PerformSurgery(ctx, result.Findings)
	if err != nil {
		return nil, err
	}

	out := &RefactorResult{
		RunID:    uuid.NewString(),
		Findings: result.Findings,
		Files:    result.Files,
		Symbols:  result.Registry.Len(),
		Report:   report,
	}
	if e.store != nil {
		err := e.store.SaveRun(history.Run{
			ID:           out.RunID,
			StartedAt:    started,
			FinishedAt:   time.Now().UTC(),
			Roots:        roots,
			FileCount:    result.Files,
			SymbolCount:  out.Symbols,
			FindingCount: len(result.Findings),
			Report:       report,
			Findings:     result.Findings,
		})
		if err != nil {
			slog.Error("failed to persist run", "run", out.RunID, "error", err)
		} else {
			out.Persisted = true
		}
	}
	return out, nil
}

// History returns up to limit recorded runs, newest first.
func (e *Engine) History(limit int) ([]history.Run, error) {
	if e.store == nil {
		return nil, errors.New(errors.CodeNotSupported, "run history is disabled; set db.enabled = true")
	}
	runs, err := e.store.LoadRuns(limit)
	if err != nil {
		return nil, errors.AddContext(errors.Wrap(err, errors.CodeInternal, "load run history"), errors.CtxOperation, "load_runs")
	}
	return runs, nil
}

// RunFindings returns the findings recorded for runID.
func (e *Engine) RunFindings(runID string) ([]audit.Finding, error) {
	if e.store == nil {
		return nil, errors.New(errors.CodeNotSupported, "run history is disabled; set db.enabled = true")
	}
	findings, err := e.store.LoadFindings(runID)
	if err != nil {
		return nil, errors.AddContext(errors.Wrap(err, errors.CodeInternal, "load run findings"), errors.CtxOperation, "load_findings")
	}
	if len(findings) == 0 {
		return nil, errors.New(errors.CodeNotFound, "no findings recorded for run "+runID)
	}
	return findings, nil
}

func (e *Engine) LastAudit() *AuditSummary {
	return e.lastAudit.Load()
}

func (e *Engine) Close() error {
	if e.store == nil {
		return nil
	}
	return e.store.Close()
}
