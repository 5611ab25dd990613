package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"scribe/internal/core/config"
	"scribe/internal/core/errors"
	"scribe/internal/engine/audit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, root string, dbEnabled bool) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Scan.Roots = []string{root}
	cfg.Scan.Workers = 2
	cfg.Scribe.HeuristicTarget = filepath.Join(root, "organism.rs")
	cfg.Scribe.AssetsDir = filepath.Join(root, "assets")
	cfg.DB.Enabled = dbEnabled
	cfg.DB.Path = filepath.Join(t.TempDir(), "db", "scribe.db")
	cfg.Watch.Debounce = 50 * time.Millisecond
	return cfg
}

func newTestEngine(t *testing.T, cfg *config.Config, opts ...Option) *Engine {
	t.Helper()
	e, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestEngine_AuditUsesConfiguredRoots(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "lib.rs"), "pub fn run() {\n    // TODO: finish\n}\n")

	e := newTestEngine(t, testConfig(t, root, false))
	assert.Nil(t, e.LastAudit())

	result, err := e.Audit(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Files)
	assert.Len(t, result.Findings, 4)

	last := e.LastAudit()
	require.NotNil(t, last)
	assert.Equal(t, 4, last.Findings)
	assert.Equal(t, 1, last.Symbols)
}

func TestEngine_CustomRulesFromConfig(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "app.ts"), "console.log('hi');\n")

	cfg := testConfig(t, root, false)
	cfg.Rules = []config.Rule{{Name: "console", Pattern: `console\.log`, Kind: "Redundancy", Title: "Console logging"}}
	e := newTestEngine(t, cfg)

	result, err := e.Audit(context.Background(), []string{root})
	require.NoError(t, err)
	assert.Equal(t, "Console logging", result.Findings[0].Title)
	assert.Equal(t, audit.KindRedundancy, result.Findings[0].Kind)
}

func TestEngine_ReloadRejectsBadRule(t *testing.T) {
	root := t.TempDir()
	e := newTestEngine(t, testConfig(t, root, false))

	bad := testConfig(t, root, false)
	bad.Rules = []config.Rule{{Name: "x", Pattern: "x", Kind: "Style", Title: "X"}}
	err := e.Reload(bad)
	require.Error(t, err)
	assert.Equal(t, errors.CodeValidationError, errors.CodeOf(err))
	assert.NotSame(t, bad, e.Config())
}

func TestEngine_RefactorPersistsRun(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "organism.rs")
	writeFile(t, target, "struct Organism;\n")
	writeFile(t, filepath.Join(root, "main.rs"), "fn main() { start().unwrap(); }\n")
	writeFile(t, filepath.Join(root, "assets", "logo.svg"), "<svg/>")

	e := newTestEngine(t, testConfig(t, root, true))

	out, err := e.Refactor(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, out.Persisted)
	assert.Equal(t, 4, out.Report.FilesModified)
	assert.Equal(t, 1, out.Report.AssetsGenerated)
	assert.NoError(t, out.Report.Verify())

	runs, err := e.History(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, out.RunID, runs[0].ID)
	assert.Equal(t, out.Report, runs[0].Report)
	assert.Equal(t, 4, runs[0].FindingCount)

	findings, err := e.RunFindings(out.RunID)
	require.NoError(t, err)
	assert.Len(t, findings, 4)

	_, err = e.RunFindings("unknown")
	assert.Equal(t, errors.CodeNotFound, errors.CodeOf(err))

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(string(data), "PURIFIED_BY_SCRIBE"))
}

func TestEngine_HistoryDisabled(t *testing.T) {
	e := newTestEngine(t, testConfig(t, t.TempDir(), false))

	_, err := e.History(5)
	assert.Equal(t, errors.CodeNotSupported, errors.CodeOf(err))
	_, err = e.RunFindings("x")
	assert.Equal(t, errors.CodeNotSupported, errors.CodeOf(err))
}

func TestEngine_AuditNoValidRoots(t *testing.T) {
	e := newTestEngine(t, testConfig(t, t.TempDir(), false))
	_, err := e.Audit(context.Background(), []string{filepath.Join(t.TempDir(), "missing")})
	assert.Equal(t, errors.CodeValidationError, errors.CodeOf(err))
}

func TestEngine_ProgressOption(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.rs"), "fn a() {}\n")

	progress := make(chan audit.Progress, 16)
	e := newTestEngine(t, testConfig(t, root, false), WithProgress(progress))
	_, err := e.Audit(context.Background(), nil)
	require.NoError(t, err)
	assert.NotEmpty(t, progress)
}

func TestEngine_Watch(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.rs"), "fn a() {}\n")
	e := newTestEngine(t, testConfig(t, root, false))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := e.Watch(ctx, nil)
	require.NoError(t, err)

	next := func() Event {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "events closed early")
			return ev
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for watch event")
			return Event{}
		}
	}

	initial := next()
	assert.Equal(t, EventAudit, initial.Kind)
	assert.Equal(t, 1, initial.Files)

	writeFile(t, filepath.Join(root, "b.rs"), "fn b() {}\n// TODO: more\n")
	var changed Event
	for changed.Files != 2 {
		changed = next()
	}
	assert.Equal(t, EventAudit, changed.Kind)
	assert.Equal(t, 2, changed.Symbols)
	assert.NotEmpty(t, changed.Changed)

	cancel()
	for range events {
	}
}

func TestHealthService_Check(t *testing.T) {
	root := t.TempDir()
	e := newTestEngine(t, testConfig(t, root, true))
	health := NewHealthService(e)

	status := health.Check(context.Background())
	assert.Equal(t, "up", status.Status)
	assert.Equal(t, "ok", status.Components["history"])
	assert.Equal(t, "never", status.Components["last_audit"])
	assert.Contains(t, status.Components["memory"], "MB")

	_, err := e.Audit(context.Background(), nil)
	require.NoError(t, err)
	status = health.Check(context.Background())
	assert.True(t, strings.HasPrefix(status.Components["last_audit"], "ok (0 files, 3 findings"))
}
