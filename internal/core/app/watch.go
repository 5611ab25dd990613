package app

import (
	"context"
	"time"

	"scribe/internal/core/watcher"
	"scribe/internal/shared/util"
)

const (
	EventAudit = "audit"
	EventError = "error"
)

// Event reports one watch-triggered re-audit.
type Event struct {
	Kind     string    `json:"kind"`
	At       time.Time `json:"at"`
	Changed  []string  `json:"changed,omitempty"`
	Files    int       `json:"files"`
	Symbols  int       `json:"symbols"`
	Findings int       `json:"findings"`
	Err      error     `json:"-"`
}

// Watch re-audits roots whenever a matching file changes and emits one Event
// per audit. It never rewrites files. The channel closes after ctx is done.
func (e *Engine) Watch(ctx context.Context, roots []string) (<-chan Event, error) {
	cfg := e.Config()
	roots = util.UniqueRoots(rootsOrDefault(cfg, roots))

	triggers := make(chan []string, 1)
	w, err := watcher.NewWatcher(watcher.Options{
		Debounce:     cfg.Watch.Debounce,
		Extensions:   cfg.Scan.Extensions,
		ExcludeDirs:  cfg.Scan.ExcludeDirs,
		ExcludeFiles: cfg.Scan.ExcludeFiles,
	}, func(paths []string) {
		select {
		case triggers <- paths:
		default:
			// An audit is already queued and will see these changes.
		}
	})
	if err != nil {
		return nil, err
	}
	if err := w.Watch(roots); err != nil {
		_ = w.Close()
		return nil, err
	}

	events := make(chan Event, 8)
	go func() {
		defer close(events)
		defer w.Close()

		e.emit(ctx, events, e.auditEvent(ctx, roots, nil))
		for {
			select {
			case <-ctx.Done():
				return
			case changed := <-triggers:
				e.emit(ctx, events, e.auditEvent(ctx, roots, changed))
			}
		}
	}()
	return events, nil
}

func (e *Engine) auditEvent(ctx context.Context, roots, changed []string) Event {
	ev := Event{At: time.Now().UTC(), Changed: changed}
	result, err := e.Audit(ctx, roots)
	if err != nil {
		ev.Kind = EventError
		ev.Err = err
		return ev
	}
	ev.Kind = EventAudit
	ev.Files = result.Files
	ev.Symbols = result.Registry.Len()
	ev.Findings = len(result.Findings)
	return ev
}

func (e *Engine) emit(ctx context.Context, events chan<- Event, ev Event) {
	if ctx.Err() != nil {
		return
	}
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}
