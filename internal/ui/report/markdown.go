package report

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"scribe/internal/engine/audit"
	"scribe/internal/engine/scribe"
)

// kindOrder fixes the section order of the markdown report.
var kindOrder = []audit.Kind{
	audit.KindSecurity,
	audit.KindLogicGap,
	audit.KindPerformance,
	audit.KindRedundancy,
	audit.KindDeadCode,
	audit.KindOptimization,
}

type MarkdownReportData struct {
	Files    int
	Symbols  int
	Findings []audit.Finding
	// Surgery is rendered only when set.
	Surgery *scribe.Report
}

type MarkdownReportOptions struct {
	ProjectName         string
	ProjectRoot         string
	Version             string
	GeneratedAt         time.Time
	CollapsibleSections bool
}

type MarkdownGenerator struct{}

func NewMarkdownGenerator() *MarkdownGenerator {
	return &MarkdownGenerator{}
}

func (m *MarkdownGenerator) Generate(data MarkdownReportData, opts MarkdownReportOptions) string {
	if opts.GeneratedAt.IsZero() {
		opts.GeneratedAt = time.Now().UTC()
	}

	var b strings.Builder
	b.WriteString("---\n")
	b.WriteString("title: Codebase Audit Report\n")
	b.WriteString("project: " + nonEmpty(opts.ProjectName, "unknown") + "\n")
	b.WriteString("generated_at: " + opts.GeneratedAt.UTC().Format(time.RFC3339) + "\n")
	b.WriteString("version: " + nonEmpty(opts.Version, "unknown") + "\n")
	b.WriteString("---\n\n")

	b.WriteString("# Audit Report\n\n")
	b.WriteString("## Executive Summary\n")
	b.WriteString("| Metric | Value |\n")
	b.WriteString("| --- | --- |\n")
	fmt.Fprintf(&b, "| Files Scanned | %d |\n", data.Files)
	fmt.Fprintf(&b, "| Symbols Indexed | %d |\n", data.Symbols)
	fmt.Fprintf(&b, "| Findings | %d |\n", len(data.Findings))
	counts := audit.CountByKind(data.Findings)
	for _, kind := range kindOrder {
		if n := counts[kind]; n > 0 {
			fmt.Fprintf(&b, "| %s | %d |\n", kind, n)
		}
	}
	b.WriteString("\n")

	if data.Surgery != nil {
		m.writeSurgery(&b, *data.Surgery)
	}

	if len(data.Findings) == 0 {
		b.WriteString("No findings detected.\n")
		return b.String()
	}
	for _, kind := range kindOrder {
		m.writeKind(&b, kind, data.Findings, opts)
	}
	return b.String()
}

func (m *MarkdownGenerator) writeSurgery(b *strings.Builder, r scribe.Report) {
	b.WriteString("## Remediation\n")
	b.WriteString("| Metric | Value |\n")
	b.WriteString("| --- | --- |\n")
	fmt.Fprintf(b, "| Files Modified | %d |\n", r.FilesModified)
	fmt.Fprintf(b, "| Assets Generated | %d |\n", r.AssetsGenerated)
	fmt.Fprintf(b, "| Actions Performed | %d |\n", r.ActionsPerformed)
	fmt.Fprintf(b, "| Equity Yield | %.2f |\n\n", r.EquityYield)
}

func (m *MarkdownGenerator) writeKind(b *strings.Builder, kind audit.Kind, findings []audit.Finding, opts MarkdownReportOptions) {
	rows := make([]string, 0)
	for _, f := range findings {
		if f.Kind != kind {
			continue
		}
		files := make([]string, len(f.Files))
		for i, file := range f.Files {
			files[i] = "`" + relPath(opts.ProjectRoot, file) + "`"
		}
		rows = append(rows, fmt.Sprintf("| %d | `%s` | %s | %s | %d | %s |\n",
			len(rows)+1, f.ID, escapeCell(f.Title), nonEmpty(strings.Join(files, ", "), "-"), f.ImpactLines, escapeCell(f.Suggestion)))
	}
	if len(rows) == 0 {
		return
	}
	b.WriteString("## " + string(kind) + "\n")
	m.writeTableWithCollapse(
		b,
		string(kind)+" details",
		opts.CollapsibleSections,
		len(rows) > 10,
		[]string{"| # | ID | Title | Files | Impact Lines | Suggestion |\n", "| --- | --- | --- | --- | --- | --- |\n"},
		rows,
	)
}

func (m *MarkdownGenerator) writeTableWithCollapse(
	b *strings.Builder,
	summary string,
	collapsible bool,
	collapse bool,
	header []string,
	rows []string,
) {
	if collapsible && collapse {
		b.WriteString("<details>\n")
		b.WriteString("<summary>")
		b.WriteString(summary)
		b.WriteString("</summary>\n\n")
	}
	for _, line := range header {
		b.WriteString(line)
	}
	for _, line := range rows {
		b.WriteString(line)
	}
	b.WriteString("\n")
	if collapsible && collapse {
		b.WriteString("</details>\n\n")
	}
}

func relPath(root, path string) string {
	root = strings.TrimSpace(root)
	path = strings.TrimSpace(path)
	if root == "" || path == "" {
		return filepath.ToSlash(path)
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

func nonEmpty(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
