// Package history persists audit and surgery runs in sqlite.
package history

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"scribe/internal/engine/audit"
	"scribe/internal/engine/scribe"

	_ "modernc.org/sqlite"
)

const (
	driverName  = "sqlite"
	maxAttempts = 5
	// Fixed width so stored timestamps sort lexically.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// Run is one persisted pipeline execution.
type Run struct {
	ID           string          `json:"id" yaml:"id"`
	StartedAt    time.Time       `json:"started_at" yaml:"started_at"`
	FinishedAt   time.Time       `json:"finished_at" yaml:"finished_at"`
	Roots        []string        `json:"roots" yaml:"roots"`
	FileCount    int             `json:"file_count" yaml:"file_count"`
	SymbolCount  int             `json:"symbol_count" yaml:"symbol_count"`
	FindingCount int             `json:"finding_count" yaml:"finding_count"`
	Report       scribe.Report   `json:"report" yaml:"report"`
	Findings     []audit.Finding `json:"findings,omitempty" yaml:"findings,omitempty"`
}

type Store struct {
	path string
	db   *sql.DB
	mu   sync.Mutex
}

func Open(path string, busyTimeout time.Duration) (*Store, error) {
	cleanPath := strings.TrimSpace(path)
	if cleanPath == "" {
		return nil, fmt.Errorf("history path must not be empty")
	}
	if info, err := os.Stat(cleanPath); err == nil && info.IsDir() {
		return nil, fmt.Errorf("history path %q is a directory, expected file", cleanPath)
	}

	dir := filepath.Dir(cleanPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history directory %q: %w", dir, err)
		}
	}
	if busyTimeout <= 0 {
		busyTimeout = 2 * time.Second
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cleanPath, busyTimeout.Milliseconds())
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite history %q: %w", cleanPath, err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite history %q: %w", cleanPath, err)
	}
	if err := EnsureSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize sqlite schema %q: %w", cleanPath, err)
	}

	return &Store{path: cleanPath, db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveRun stores run and its findings in one transaction. Saving an existing
// id replaces the previous record.
func (s *Store) SaveRun(run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(run.ID) == "" {
		return fmt.Errorf("run id must not be empty")
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.FinishedAt.IsZero() {
		run.FinishedAt = run.StartedAt
	}
	roots, err := json.Marshal(nonNil(run.Roots))
	if err != nil {
		return fmt.Errorf("encode roots: %w", err)
	}

	return s.withRetry("save run", func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.Exec(`DELETE FROM findings WHERE run_id = ?`, run.ID); err != nil {
			return err
		}
		if _, err := tx.Exec(`
INSERT INTO runs (
  id, started_at_utc, finished_at_utc, roots, file_count, symbol_count, finding_count,
  actions_performed, files_modified, assets_generated, equity_yield
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  started_at_utc=excluded.started_at_utc,
  finished_at_utc=excluded.finished_at_utc,
  roots=excluded.roots,
  file_count=excluded.file_count,
  symbol_count=excluded.symbol_count,
  finding_count=excluded.finding_count,
  actions_performed=excluded.actions_performed,
  files_modified=excluded.files_modified,
  assets_generated=excluded.assets_generated,
  equity_yield=excluded.equity_yield
`,
			run.ID,
			run.StartedAt.UTC().Format(timeLayout),
			run.FinishedAt.UTC().Format(timeLayout),
			string(roots),
			run.FileCount,
			run.SymbolCount,
			run.FindingCount,
			run.Report.ActionsPerformed,
			run.Report.FilesModified,
			run.Report.AssetsGenerated,
			run.Report.EquityYield,
		); err != nil {
			return err
		}

		stmt, err := tx.Prepare(`
INSERT INTO findings (run_id, position, finding_id, kind, title, files, impact_lines, suggestion)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i, f := range run.Findings {
			files, err := json.Marshal(nonNil(f.Files))
			if err != nil {
				return fmt.Errorf("encode files of finding %s: %w", f.ID, err)
			}
			if _, err := stmt.Exec(run.ID, i, f.ID, string(f.Kind), f.Title, string(files), f.ImpactLines, f.Suggestion); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// LoadRuns returns up to limit runs, newest first, without their findings.
// A non-positive limit returns every run.
func (s *Store) LoadRuns(limit int) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
SELECT
  id, started_at_utc, finished_at_utc, roots, file_count, symbol_count, finding_count,
  actions_performed, files_modified, assets_generated, equity_yield
FROM runs
ORDER BY started_at_utc DESC, id ASC`
	args := make([]any, 0, 1)
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var rows *sql.Rows
	err := s.withRetry("load runs", func() error {
		var qErr error
		rows, qErr = s.db.Query(query, args...)
		return qErr
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := make([]Run, 0)
	for rows.Next() {
		var (
			run                   Run
			startedRaw, finishRaw string
			rootsRaw              string
		)
		if err := rows.Scan(
			&run.ID,
			&startedRaw,
			&finishRaw,
			&rootsRaw,
			&run.FileCount,
			&run.SymbolCount,
			&run.FindingCount,
			&run.Report.ActionsPerformed,
			&run.Report.FilesModified,
			&run.Report.AssetsGenerated,
			&run.Report.EquityYield,
		); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		if run.StartedAt, err = parseTime(startedRaw); err != nil {
			return nil, err
		}
		if run.FinishedAt, err = parseTime(finishRaw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(rootsRaw), &run.Roots); err != nil {
			return nil, fmt.Errorf("decode roots of run %s: %w", run.ID, err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}
	return runs, nil
}

// LoadFindings returns the findings of runID in their original order.
func (s *Store) LoadFindings(runID string) ([]audit.Finding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows *sql.Rows
	err := s.withRetry("load findings", func() error {
		var qErr error
		rows, qErr = s.db.Query(`
SELECT finding_id, kind, title, files, impact_lines, suggestion
FROM findings
WHERE run_id = ?
ORDER BY position ASC`, runID)
		return qErr
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	findings := make([]audit.Finding, 0)
	for rows.Next() {
		var (
			f        audit.Finding
			kind     string
			filesRaw string
		)
		if err := rows.Scan(&f.ID, &kind, &f.Title, &filesRaw, &f.ImpactLines, &f.Suggestion); err != nil {
			return nil, fmt.Errorf("scan finding row: %w", err)
		}
		if f.Kind, err = audit.ParseKind(kind); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(filesRaw), &f.Files); err != nil {
			return nil, fmt.Errorf("decode files of finding %s: %w", f.ID, err)
		}
		findings = append(findings, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate finding rows: %w", err)
	}
	return findings, nil
}

func parseTime(raw string) (time.Time, error) {
	ts, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse run timestamp %q: %w", raw, err)
	}
	return ts.UTC(), nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (s *Store) withRetry(op string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isLockError(err) || attempt == maxAttempts {
			break
		}
		time.Sleep(time.Duration(attempt*25) * time.Millisecond)
	}
	return fmt.Errorf("%s: %w", op, lastErr)
}

func isLockError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}

func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

func IsCorruptError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "malformed") || strings.Contains(msg, "not a database") || errors.Is(err, os.ErrInvalid)
}
