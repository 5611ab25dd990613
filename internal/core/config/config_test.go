package config

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	content := `
version = 1

[scan]
roots = ["./src", "./lib"]
extensions = [".rs", ".ts"]
exclude_dirs = ["fixtures*"]
exclude_files = ["*.min.js"]
respect_gitignore = false
workers = 3

[[rules]]
name = "console-log"
pattern = 'console\.log\('
kind = "Redundancy"
title = "Console logging"
suggestion = "Use structured logging."

[scribe]
assets_dir = "out/assets"
heuristic_target = "core/main.rs"
writes_per_second = 20

[watch]
debounce = "1s"
`
	path := filepath.Join(t.TempDir(), "scribe.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(cfg.Scan.Roots) != 2 || cfg.Scan.Roots[1] != "./lib" {
		t.Errorf("unexpected roots: %v", cfg.Scan.Roots)
	}
	if cfg.Scan.Workers != 3 {
		t.Errorf("expected 3 workers, got %d", cfg.Scan.Workers)
	}
	if cfg.Scan.GitignoreEnabled() {
		t.Error("expected respect_gitignore=false to disable gitignore handling")
	}
	if len(cfg.Rules) != 1 || cfg.Rules[0].Kind != "Redundancy" {
		t.Errorf("unexpected rules: %#v", cfg.Rules)
	}
	if cfg.Scribe.AssetsDir != "out/assets" || cfg.Scribe.HeuristicTarget != "core/main.rs" {
		t.Errorf("unexpected scribe section: %#v", cfg.Scribe)
	}
	if cfg.Scribe.WritesPerSecond != 20 {
		t.Errorf("expected writes_per_second 20, got %v", cfg.Scribe.WritesPerSecond)
	}
	if cfg.Watch.Debounce != time.Second {
		t.Errorf("expected debounce 1s, got %v", cfg.Watch.Debounce)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Version != 1 {
		t.Fatalf("expected version 1, got %d", cfg.Version)
	}
	if cfg.Scan.Workers != runtime.NumCPU() {
		t.Errorf("expected workers to default to NumCPU, got %d", cfg.Scan.Workers)
	}
	if cfg.Scribe.HeuristicTarget != DefaultHeuristicTarget {
		t.Errorf("expected heuristic target %q, got %q", DefaultHeuristicTarget, cfg.Scribe.HeuristicTarget)
	}
	if cfg.Scribe.AssetsDir != DefaultAssetsDir {
		t.Errorf("expected assets dir %q, got %q", DefaultAssetsDir, cfg.Scribe.AssetsDir)
	}
	if !cfg.Scan.GitignoreEnabled() || !cfg.Observability.MetricsOn() {
		t.Error("expected gitignore and metrics to default on")
	}
	if cfg.Watch.Debounce != 500*time.Millisecond {
		t.Errorf("expected default debounce 500ms, got %v", cfg.Watch.Debounce)
	}
}

func TestLoadError(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
	if _, err := Parse("this is not toml = = ="); err == nil {
		t.Fatal("expected error for malformed toml")
	}
}

func TestParse_Validation(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "UnsupportedVersion",
			content: "version = 3",
			wantErr: "unsupported config version",
		},
		{
			name:    "ExtensionWithoutDot",
			content: "[scan]\nextensions = [\"rs\"]",
			wantErr: "must start with a dot",
		},
		{
			name:    "BadGlob",
			content: "[scan]\nexclude_dirs = [\"[\"]",
			wantErr: "invalid scan.exclude_dirs pattern",
		},
		{
			name:    "RuleBadRegex",
			content: "[[rules]]\nname = \"x\"\npattern = \"(\"\nkind = \"Security\"\ntitle = \"X\"",
			wantErr: "rules[0].pattern",
		},
		{
			name:    "RuleUnknownKind",
			content: "[[rules]]\nname = \"x\"\npattern = \"x\"\nkind = \"Style\"\ntitle = \"X\"",
			wantErr: "rules[0].kind",
		},
		{
			name:    "RuleDuplicateName",
			content: "[[rules]]\nname = \"x\"\npattern = \"x\"\nkind = \"Security\"\ntitle = \"X\"\n[[rules]]\nname = \"x\"\npattern = \"y\"\nkind = \"Security\"\ntitle = \"Y\"",
			wantErr: "duplicate rule name",
		},
		{
			name:    "NegativeWriteRate",
			content: "[scribe]\nwrites_per_second = -1",
			wantErr: "writes_per_second",
		},
		{
			name:    "MultilineHeaderTag",
			content: "[scribe]\nheader_tag = \"a\\nb\"",
			wantErr: "header_tag",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.content)
			if err == nil {
				t.Fatalf("expected error containing %q", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("SCRIBE_SCAN_ROOTS", " ./a , ,./b ")
	t.Setenv("SCRIBE_SCAN_WORKERS", "7")
	t.Setenv("SCRIBE_DB_ENABLED", "TRUE")
	t.Setenv("SCRIBE_WATCH_DEBOUNCE", "250ms")
	t.Setenv("SCRIBE_SCRIBE_WRITES_PER_SECOND", "not-a-number")

	cfg, err := Parse("")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(cfg.Scan.Roots) != 2 || cfg.Scan.Roots[0] != "./a" || cfg.Scan.Roots[1] != "./b" {
		t.Errorf("unexpected roots override: %v", cfg.Scan.Roots)
	}
	if cfg.Scan.Workers != 7 {
		t.Errorf("expected workers 7, got %d", cfg.Scan.Workers)
	}
	if !cfg.DB.Enabled {
		t.Error("expected db enabled via env")
	}
	if cfg.Watch.Debounce != 250*time.Millisecond {
		t.Errorf("expected debounce 250ms, got %v", cfg.Watch.Debounce)
	}
	if cfg.Scribe.WritesPerSecond != 0 {
		t.Errorf("expected invalid float override to be ignored, got %v", cfg.Scribe.WritesPerSecond)
	}
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scribe.toml")
	if err := os.WriteFile(path, []byte("[scan]\nworkers = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	reloaded := make(chan *Config, 4)
	w := NewWatcher(path, func(cfg *Config) { reloaded <- cfg })
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start watcher: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(path, []byte("[scan]\nworkers = 4\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Scan.Workers != 4 {
			t.Fatalf("expected reloaded workers 4, got %d", cfg.Scan.Workers)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}
