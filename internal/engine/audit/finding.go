// Package audit walks project roots, indexes their symbols and detects
// rule-based findings.
package audit

import (
	"fmt"
	"strings"
)

// Kind classifies a finding. It serialises as its name.
type Kind string

const (
	KindRedundancy   Kind = "Redundancy"
	KindDeadCode     Kind = "DeadCode"
	KindLogicGap     Kind = "LogicGap"
	KindOptimization Kind = "Optimization"
	KindSecurity     Kind = "Security"
	KindPerformance  Kind = "Performance"
)

var kinds = []Kind{KindRedundancy, KindDeadCode, KindLogicGap, KindOptimization, KindSecurity, KindPerformance}

func ParseKind(s string) (Kind, error) {
	for _, k := range kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown finding kind %q", s)
}

// Finding is a detected problem. Findings without files are informational and
// never rewritten.
type Finding struct {
	ID          string   `json:"id" yaml:"id"`
	Kind        Kind     `json:"kind" yaml:"kind"`
	Title       string   `json:"title" yaml:"title"`
	Files       []string `json:"files" yaml:"files"`
	ImpactLines int      `json:"impact_lines" yaml:"impact_lines"`
	Suggestion  string   `json:"suggestion" yaml:"suggestion"`
}

// Target returns the file a rewrite applies to, or "" when there is none.
func (f Finding) Target() string {
	if len(f.Files) == 0 {
		return ""
	}
	return f.Files[0]
}

// heuristic is an assumed finding appended after every scan regardless of
// what the scan discovered.
type heuristic struct {
	Kind       Kind
	Title      string
	Suggestion string
}

var heuristics = []heuristic{
	{KindLogicGap, "Unsafe Unwrap", "Replace with explicit error propagation."},
	{KindRedundancy, "Noisy Logging", "Use structured logging."},
	{KindLogicGap, "Incomplete Logic", "Implement the missing logic."},
}

// appendHeuristics adds the fixed findings for target. Their ids carry the
// finding's position in the returned slice.
func appendHeuristics(findings []Finding, target string) []Finding {
	for _, h := range heuristics {
		findings = append(findings, Finding{
			ID:          fmt.Sprintf("%s-%d", strings.ReplaceAll(h.Title, " ", "-"), len(findings)),
			Kind:        h.Kind,
			Title:       h.Title,
			Files:       []string{target},
			ImpactLines: 1,
			Suggestion:  h.Suggestion,
		})
	}
	return findings
}

// CountByKind tallies findings per kind.
func CountByKind(findings []Finding) map[Kind]int {
	out := make(map[Kind]int)
	for _, f := range findings {
		out[f.Kind]++
	}
	return out
}
