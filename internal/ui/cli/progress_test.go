package cli

import (
	"errors"
	"strings"
	"testing"

	"scribe/internal/engine/audit"

	tea "github.com/charmbracelet/bubbletea"
)

func TestProgressModel(t *testing.T) {
	events := make(chan audit.Progress)
	cancelled := false
	m := newProgressModel(events, func() { cancelled = true })

	if !strings.Contains(m.View(), audit.PhaseWalk) {
		t.Fatalf("expected initial walk phase, got %q", m.View())
	}

	updated, cmd := m.Update(progressMsg{Phase: audit.PhaseDetect, Done: 3, Total: 7})
	m = updated.(progressModel)
	if cmd == nil {
		t.Fatal("expected progress update to keep listening")
	}
	if !strings.Contains(m.View(), "detect 3/7") {
		t.Fatalf("unexpected view %q", m.View())
	}

	updated, _ = m.Update(doneMsg{err: errors.New("boom")})
	m = updated.(progressModel)
	if !m.finished || m.err == nil || m.View() != "" {
		t.Fatalf("expected finished model with error, got %+v", m)
	}

	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if !cancelled {
		t.Fatal("expected ctrl+c to cancel the run")
	}
	_ = updated
}

func TestWaitForProgress_ClosedChannel(t *testing.T) {
	events := make(chan audit.Progress)
	close(events)
	if msg := waitForProgress(events)(); msg != nil {
		t.Fatalf("expected nil message from closed channel, got %#v", msg)
	}
}
