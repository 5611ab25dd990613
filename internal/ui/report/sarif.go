// Package report renders audit findings into shareable document formats.
package report

import (
	"encoding/json"
	"path/filepath"
	"sort"

	"scribe/internal/engine/audit"
)

// SARIF v2.1.0 schema, see https://schemastore.azurewebsites.net/schemas/json/sarif-2.1.0-rtm.5.json
const (
	sarifSchema  = "https://schemastore.azurewebsites.net/schemas/json/sarif-2.1.0-rtm.5.json"
	sarifVersion = "2.1.0"
	sarifBaseID  = "%SRCROOT%"
)

type sarifReport struct {
	Schema  string     `json:"$schema"`
	Version string     `json:"version"`
	Runs    []sarifRun `json:"runs"`
}

type sarifRun struct {
	Tool    sarifTool     `json:"tool"`
	Results []sarifResult `json:"results"`
}

type sarifTool struct {
	Driver sarifDriver `json:"driver"`
}

type sarifDriver struct {
	Name    string      `json:"name"`
	Version string      `json:"version"`
	Rules   []sarifRule `json:"rules"`
}

type sarifRule struct {
	ID               string                 `json:"id"`
	Name             string                 `json:"name"`
	ShortDescription sarifMessage           `json:"shortDescription"`
	DefaultConfig    sarifRuleDefaultConfig `json:"defaultConfiguration"`
}

type sarifRuleDefaultConfig struct {
	Level string `json:"level"`
}

type sarifResult struct {
	RuleID    string          `json:"ruleId"`
	Level     string          `json:"level"`
	Message   sarifMessage    `json:"message"`
	Locations []sarifLocation `json:"locations,omitempty"`
}

type sarifMessage struct {
	Text string `json:"text"`
}

type sarifLocation struct {
	PhysicalLocation sarifPhysicalLocation `json:"physicalLocation"`
}

type sarifPhysicalLocation struct {
	ArtifactLocation sarifArtifactLocation `json:"artifactLocation"`
}

type sarifArtifactLocation struct {
	URI       string `json:"uri"`
	URIBaseID string `json:"uriBaseId"`
}

var kindDescriptions = map[audit.Kind]string{
	audit.KindRedundancy:   "Redundant or noisy code that can be removed.",
	audit.KindDeadCode:     "Code that is never reached or used.",
	audit.KindLogicGap:     "Unfinished or unsafe logic that needs attention.",
	audit.KindOptimization: "Code that can be generated or simplified.",
	audit.KindSecurity:     "A potential security weakness.",
	audit.KindPerformance:  "A potential performance problem.",
}

// GenerateSARIF builds a SARIF v2.1.0 document with one result per finding.
// File URIs are made relative to projectRoot so reports are safe to share.
func GenerateSARIF(projectRoot, toolVersion string, findings []audit.Finding) ([]byte, error) {
	results := make([]sarifResult, 0, len(findings))
	for _, f := range findings {
		text := f.Title
		if f.Suggestion != "" {
			text += ": " + f.Suggestion
		}
		result := sarifResult{
			RuleID:  ruleID(f.Kind),
			Level:   kindLevel(f.Kind),
			Message: sarifMessage{Text: text},
		}
		for _, file := range f.Files {
			result.Locations = append(result.Locations, sarifLocation{
				PhysicalLocation: sarifPhysicalLocation{
					ArtifactLocation: sarifArtifactLocation{
						URI:       relativeURI(projectRoot, file),
						URIBaseID: sarifBaseID,
					},
				},
			})
		}
		results = append(results, result)
	}

	report := sarifReport{
		Schema:  sarifSchema,
		Version: sarifVersion,
		Runs: []sarifRun{{
			Tool: sarifTool{Driver: sarifDriver{
				Name:    "scribe",
				Version: toolVersion,
				Rules:   buildSARIFRules(findings),
			}},
			Results: results,
		}},
	}
	return json.MarshalIndent(report, "", "  ")
}

// buildSARIFRules returns one rule per finding kind present, sorted by id.
func buildSARIFRules(findings []audit.Finding) []sarifRule {
	counts := audit.CountByKind(findings)
	rules := make([]sarifRule, 0, len(counts))
	for kind := range counts {
		rules = append(rules, sarifRule{
			ID:               ruleID(kind),
			Name:             string(kind),
			ShortDescription: sarifMessage{Text: kindDescriptions[kind]},
			DefaultConfig:    sarifRuleDefaultConfig{Level: kindLevel(kind)},
		})
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules
}

func ruleID(kind audit.Kind) string {
	return "SCRIBE-" + string(kind)
}

func kindLevel(kind audit.Kind) string {
	switch kind {
	case audit.KindSecurity:
		return "error"
	case audit.KindLogicGap, audit.KindPerformance:
		return "warning"
	default:
		return "note"
	}
}

// relativeURI converts filePath to a forward-slash URI anchored at
// projectRoot. Paths outside the root, or relative paths, are kept as given.
func relativeURI(projectRoot, filePath string) string {
	if projectRoot != "" && filepath.IsAbs(filePath) {
		if rel, err := filepath.Rel(projectRoot, filePath); err == nil && filepath.IsLocal(rel) {
			filePath = rel
		}
	}
	return filepath.ToSlash(filePath)
}
