// Package symbols extracts declaration-like identifiers from source files
// into a shared registry.
package symbols

import (
	"log/slog"
	"regexp"
	"sort"
	"strconv"

	"scribe/internal/engine/registry"
	"scribe/internal/engine/source"
	"scribe/internal/shared/observability"

	"github.com/cespare/xxhash/v2"
)

// SymbolInfo is the last-seen location of a declared name.
type SymbolInfo struct {
	Name         string `json:"name" yaml:"name"`
	ProjectLabel string `json:"project_label" yaml:"project_label"`
	FilePath     string `json:"file_path" yaml:"file_path"`
	Line         int    `json:"line" yaml:"line"`
	ContentHash  string `json:"content_hash" yaml:"content_hash"`
}

// Registry is the shared name-keyed index filled by Indexer.
type Registry = registry.Registry[string, SymbolInfo]

func NewRegistry() Registry {
	return registry.NewSyncMap[string, SymbolInfo]()
}

var declarationRE = regexp.MustCompile(
	`\b(?:export\s+)?(?:pub(?:\([a-z]+\))?\s+)?(?:class|fn|func|function|struct|enum|interface|trait)\s+([A-Za-z_][A-Za-z0-9_]*)`,
)

// Indexer is safe for concurrent use; all synchronization lives in the registry.
type Indexer struct {
	registry Registry
}

func NewIndexer(r Registry) *Indexer {
	return &Indexer{registry: r}
}

func (ix *Indexer) Registry() Registry {
	return ix.registry
}

// Index inserts every declaration found in path. Files that cannot be opened
// are skipped. It returns the number of declarations inserted.
func (ix *Indexer) Index(project, path string) int {
	content, err := source.Load(path)
	if err != nil {
		slog.Debug("skipping unindexable file", "path", path, "error", err)
		return 0
	}

	lines := newLineIndex(content)
	count := 0
	for _, m := range declarationRE.FindAllStringSubmatchIndex(content, -1) {
		name := content[m[2]:m[3]]
		ix.registry.Insert(name, SymbolInfo{
			Name:         name,
			ProjectLabel: project,
			FilePath:     path,
			Line:         lines.lineOf(m[0]),
			ContentHash:  strconv.FormatUint(xxhash.Sum64String(content[m[0]:m[1]]), 16),
		})
		count++
	}
	observability.SymbolsIndexedTotal.Add(float64(count))
	return count
}

// lineIndex holds the byte offset at which each line starts.
type lineIndex []int

func newLineIndex(content string) lineIndex {
	starts := lineIndex{0}
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}

// lineOf returns the 1-based line containing offset.
func (li lineIndex) lineOf(offset int) int {
	return sort.Search(len(li), func(i int) bool { return li[i] > offset })
}
