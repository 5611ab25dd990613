package audit

import (
	"fmt"
	"regexp"
	"strings"
)

// Rule is one entry of the pattern-scan table. Pattern is a Go regular
// expression matched line by line.
type Rule struct {
	Name       string
	Pattern    string
	Kind       Kind
	Title      string
	Suggestion string
}

const defaultSuggestion = "Review and entrench stable logic."

// DefaultRules is the built-in scan table, applied in order.
var DefaultRules = []Rule{
	{
		Name:       "technical-debt",
		Pattern:    `TODO:|FIXME:`,
		Kind:       KindLogicGap,
		Title:      "Technical Debt Found",
		Suggestion: defaultSuggestion,
	},
	{
		Name:       "unsafe-any",
		Pattern:    `\bany\b`,
		Kind:       KindSecurity,
		Title:      "Unsafe 'any' type detected",
		Suggestion: defaultSuggestion,
	},
	{
		Name:       "risky-unwrap",
		Pattern:    `\.unwrap\(\)`,
		Kind:       KindLogicGap,
		Title:      "Risky unwrap call",
		Suggestion: defaultSuggestion,
	},
}

type compiledRule struct {
	Rule
	re *regexp.Regexp
}

func compileRules(rules []Rule) ([]compiledRule, error) {
	out := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.Name, err)
		}
		if strings.TrimSpace(r.Suggestion) == "" {
			r.Suggestion = defaultSuggestion
		}
		out = append(out, compiledRule{Rule: r, re: re})
	}
	return out, nil
}

// matchedLines counts the lines of content on which the rule matches.
func (r compiledRule) matchedLines(content string) int {
	n := 0
	for line := range strings.Lines(content) {
		if r.re.MatchString(line) {
			n++
		}
	}
	return n
}
