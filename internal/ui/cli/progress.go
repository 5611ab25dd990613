package cli

import (
	"context"
	"fmt"
	"io"

	"scribe/internal/core/app"
	"scribe/internal/engine/audit"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

type progressMsg audit.Progress

type doneMsg struct {
	result *app.RefactorResult
	err    error
}

// progressModel shows a spinner with the current pipeline phase until the
// refactor finishes.
type progressModel struct {
	spinner  spinner.Model
	events   <-chan audit.Progress
	cancel   context.CancelFunc
	phase    string
	done     int
	total    int
	finished bool
	err      error
}

func newProgressModel(events <-chan audit.Progress, cancel context.CancelFunc) progressModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = titleStyle
	return progressModel{spinner: s, events: events, cancel: cancel, phase: audit.PhaseWalk}
}

func waitForProgress(events <-chan audit.Progress) tea.Cmd {
	return func() tea.Msg {
		p, ok := <-events
		if !ok {
			return nil
		}
		return progressMsg(p)
	}
}

func (m progressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForProgress(m.events))
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}
		return m, nil
	case progressMsg:
		m.phase = msg.Phase
		m.done = msg.Done
		m.total = msg.Total
		return m, waitForProgress(m.events)
	case doneMsg:
		m.finished = true
		m.err = msg.err
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m progressModel) View() string {
	if m.finished {
		return ""
	}
	if m.total == 0 {
		return fmt.Sprintf("%s %s\n", m.spinner.View(), m.phase)
	}
	return fmt.Sprintf("%s %s %d/%d\n", m.spinner.View(), m.phase, m.done, m.total)
}

// refactorWithProgress runs engine.Refactor while rendering progress to out.
// events must be the channel the engine was built with.
func refactorWithProgress(ctx context.Context, engine *app.Engine, events chan audit.Progress, roots []string, out io.Writer) (*app.RefactorResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newProgressModel(events, cancel), tea.WithOutput(out), tea.WithContext(ctx))

	results := make(chan doneMsg, 1)
	go func() {
		res, err := engine.Refactor(ctx, roots)
		close(events)
		msg := doneMsg{result: res, err: err}
		results <- msg
		p.Send(msg)
	}()

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		cancel()
		<-results
		return nil, err
	}
	msg := <-results
	return msg.result, msg.err
}
