package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"scribe/internal/core/app"
	"scribe/internal/data/history"
	"scribe/internal/engine/audit"
	"scribe/internal/engine/scribe"
	"scribe/internal/shared/util"
	"scribe/internal/ui/report"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"
)

const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
	// Document formats, accepted only by commands that report findings.
	formatSARIF    = "sarif"
	formatMarkdown = "markdown"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#3B82F6")).
			Bold(true)

	kindStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FBBF24")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981")).
			Bold(true)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#64748B")).
			Italic(true)
)

func validateFormat(format string) error {
	switch format {
	case formatText, formatJSON, formatYAML:
		return nil
	}
	return fmt.Errorf("unsupported format %q: use text, json or yaml", format)
}

func validateReportFormat(format string) error {
	if format == formatSARIF || format == formatMarkdown {
		return nil
	}
	if err := validateFormat(format); err != nil {
		return fmt.Errorf("unsupported format %q: use text, json, yaml, sarif or markdown", format)
	}
	return nil
}

// auditView is the serialised form of an audit result.
type auditView struct {
	Files    int             `json:"files" yaml:"files"`
	Symbols  int             `json:"symbols" yaml:"symbols"`
	Findings []audit.Finding `json:"findings" yaml:"findings"`
}

func newAuditView(result *audit.Result) auditView {
	findings := result.Findings
	if findings == nil {
		findings = []audit.Finding{}
	}
	return auditView{Files: result.Files, Symbols: result.Registry.Len(), Findings: findings}
}

func encode(w io.Writer, format string, v any) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unsupported format %q", format)
}

func renderAudit(view auditView) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Audit"))
	fmt.Fprintf(&b, "\n%d files, %d symbols, %d findings\n", view.Files, view.Symbols, len(view.Findings))

	counts := make(map[string]int)
	for kind, n := range audit.CountByKind(view.Findings) {
		counts[string(kind)] = n
	}
	for _, kind := range util.SortedStringKeys(counts) {
		fmt.Fprintf(&b, "  %-13s %d\n", kind, counts[kind])
	}

	if len(view.Findings) > 0 {
		b.WriteString("\n")
	}
	for _, f := range view.Findings {
		target := "(no file)"
		if t := f.Target(); t != "" {
			target = t
		}
		fmt.Fprintf(&b, "%s %s\n    %s (%d lines)\n", kindStyle.Render("["+string(f.Kind)+"]"), f.Title, target, f.ImpactLines)
	}
	return b.String()
}

func renderReport(r scribe.Report) string {
	var b strings.Builder
	b.WriteString(successStyle.Render("Surgery complete"))
	fmt.Fprintf(&b, "\n  files modified    %d\n", r.FilesModified)
	fmt.Fprintf(&b, "  assets generated  %d\n", r.AssetsGenerated)
	fmt.Fprintf(&b, "  actions performed %d\n", r.ActionsPerformed)
	fmt.Fprintf(&b, "  equity yield      %.2f\n", r.EquityYield)
	return b.String()
}

func renderRefactor(out *app.RefactorResult) string {
	var b strings.Builder
	b.WriteString(renderReport(out.Report))
	if out.Persisted {
		b.WriteString(statusStyle.Render("run " + out.RunID + " recorded"))
		b.WriteString("\n")
	}
	return b.String()
}

func renderRuns(runs []history.Run, trend *history.TrendReport) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Run history"))
	b.WriteString("\n")
	if len(runs) == 0 {
		b.WriteString(statusStyle.Render("no runs recorded"))
		b.WriteString("\n")
		return b.String()
	}
	for _, r := range runs {
		roots := make([]string, len(r.Roots))
		for i, root := range r.Roots {
			roots[i] = filepath.Base(root)
		}
		fmt.Fprintf(&b, "%s  %s  findings=%d modified=%d yield=%.2f  [%s]\n",
			r.StartedAt.Format("2006-01-02 15:04:05"), r.ID, r.FindingCount, r.Report.FilesModified, r.Report.EquityYield, strings.Join(roots, ","))
	}
	if trend != nil {
		b.WriteString("\n")
		b.WriteString(titleStyle.Render("Trend (" + trend.Window + " window)"))
		b.WriteString("\n")
		for _, p := range trend.Points {
			fmt.Fprintf(&b, "%s  findings=%d (%+d) avg=%.2f yield=%.2f (%+.2f)\n",
				p.StartedAt.Format("2006-01-02 15:04"), p.FindingCount, p.DeltaFindings, p.AvgFindings, p.EquityYield, p.DeltaYield)
		}
	}
	return b.String()
}

func renderEvent(ev app.Event) string {
	if ev.Kind == app.EventError {
		return fmt.Sprintf("%s audit failed: %v", ev.At.Format("15:04:05"), ev.Err)
	}
	return fmt.Sprintf("%s %d files, %d symbols, %d findings (%d changed)", ev.At.Format("15:04:05"), ev.Files, ev.Symbols, ev.Findings, len(ev.Changed))
}

// renderDocument produces the sarif or markdown rendering of a findings report.
// Paths are shown relative to the working directory.
func renderDocument(format string, data report.MarkdownReportData) (string, error) {
	root, _ := os.Getwd()
	if format == formatSARIF {
		out, err := report.GenerateSARIF(root, versionString, data.Findings)
		if err != nil {
			return "", err
		}
		return string(out) + "\n", nil
	}
	return report.NewMarkdownGenerator().Generate(data, report.MarkdownReportOptions{
		ProjectName:         filepath.Base(root),
		ProjectRoot:         root,
		Version:             versionString,
		CollapsibleSections: true,
	}), nil
}

// emitReport is emit for commands that also accept document formats.
func emitReport(w io.Writer, path, format string, data report.MarkdownReportData, v any, text func() string) error {
	if format != formatSARIF && format != formatMarkdown {
		return emit(w, path, format, v, text)
	}
	doc, err := renderDocument(format, data)
	if err != nil {
		return err
	}
	return write(w, path, doc)
}

// emit writes v in format to w, or to path when one is given.
func emit(w io.Writer, path, format string, v any, text func() string) error {
	var buf strings.Builder
	if format == formatText {
		buf.WriteString(text())
	} else if err := encode(&buf, format, v); err != nil {
		return err
	}
	return write(w, path, buf.String())
}

func write(w io.Writer, path, content string) error {
	if path != "" {
		return util.WriteFileWithDirs(path, []byte(content), 0o644)
	}
	_, err := io.WriteString(w, content)
	return err
}
