// Package walker enumerates candidate source files under audit roots.
package walker

import (
	"context"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"scribe/internal/core/errors"
	"scribe/internal/shared/observability"
	"scribe/internal/shared/util"

	"github.com/gobwas/glob"
	ignore "github.com/sabhiram/go-gitignore"
	"golang.org/x/sync/errgroup"
)

// Version-control metadata and build output directories, skipped by base name.
var standardExcludes = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	"node_modules": true,
	"target":       true,
	"dist":         true,
	"build":        true,
	"vendor":       true,
	".idea":        true,
	".vscode":      true,
}

type Options struct {
	// Extensions restricts candidates by suffix (".rs"); empty admits every file.
	Extensions       []string
	ExcludeDirs      []string
	ExcludeFiles     []string
	RespectGitignore bool
}

// Candidate is a file admitted by the walker together with its project label.
type Candidate struct {
	Path    string
	Project string
}

// Walker holds compiled filters only, so one value may walk many roots concurrently.
type Walker struct {
	exts      map[string]bool
	dirGlobs  []glob.Glob
	fileGlobs []glob.Glob
	gitignore bool
}

func New(opts Options) (*Walker, error) {
	exts := make(map[string]bool, len(opts.Extensions))
	for _, ext := range opts.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" {
			exts[ext] = true
		}
	}

	dirGlobs, err := compileGlobs(opts.ExcludeDirs, "exclude dir")
	if err != nil {
		return nil, err
	}
	fileGlobs, err := compileGlobs(opts.ExcludeFiles, "exclude file")
	if err != nil {
		return nil, err
	}

	return &Walker{
		exts:      exts,
		dirGlobs:  dirGlobs,
		fileGlobs: fileGlobs,
		gitignore: opts.RespectGitignore,
	}, nil
}

func compileGlobs(patterns []string, label string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s pattern %q: %w", label, p, err)
		}
		out = append(out, g)
	}
	return out, nil
}

// Walk lazily yields admitted regular files under root. Unreadable entries are
// logged and skipped; they never end the walk.
func (w *Walker) Walk(root string) iter.Seq[string] {
	return func(yield func(string) bool) {
		matcher := w.loadGitignore(root)

		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				observability.WalkErrorsTotal.Inc()
				slog.Warn("skipping unreadable path", "path", path, "error", err)
				return nil
			}

			rel, relErr := filepath.Rel(root, path)
			if relErr != nil || rel == "." {
				return nil
			}
			rel = filepath.ToSlash(rel)

			if d.IsDir() {
				if w.skipDir(d.Name()) {
					return filepath.SkipDir
				}
				if matcher != nil && matcher.MatchesPath(rel+"/") {
					return filepath.SkipDir
				}
				return nil
			}

			if !d.Type().IsRegular() {
				return nil
			}
			if !w.admitFile(d.Name()) {
				return nil
			}
			if matcher != nil && matcher.MatchesPath(rel) {
				return nil
			}

			observability.FilesWalkedTotal.Inc()
			if !yield(path) {
				return filepath.SkipAll
			}
			return nil
		})
		if err != nil {
			slog.Warn("walk aborted", "root", root, "error", err)
		}
	}
}

func (w *Walker) loadGitignore(root string) *ignore.GitIgnore {
	if !w.gitignore {
		return nil
	}
	matcher, err := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore"))
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Debug("ignoring unreadable .gitignore", "root", root, "error", err)
		}
		return nil
	}
	return matcher
}

// IsStandardExclude reports whether a directory name is always skipped.
func IsStandardExclude(name string) bool {
	return standardExcludes[name]
}

func (w *Walker) skipDir(name string) bool {
	if standardExcludes[name] {
		return true
	}
	for _, g := range w.dirGlobs {
		if g.Match(name) {
			return true
		}
	}
	return false
}

func (w *Walker) admitFile(name string) bool {
	if len(w.exts) > 0 && !w.exts[strings.ToLower(filepath.Ext(name))] {
		return false
	}
	for _, g := range w.fileGlobs {
		if g.Match(name) {
			return false
		}
	}
	return true
}

// ValidRoots returns the absolute, de-duplicated roots that are existing directories.
func ValidRoots(roots []string) []string {
	valid := make([]string, 0, len(roots))
	for _, root := range util.UniqueRoots(roots) {
		info, err := os.Stat(root)
		if err != nil {
			slog.Warn("dropping audit root", "root", root, "error", err)
			continue
		}
		if !info.IsDir() {
			slog.Warn("dropping audit root: not a directory", "root", root)
			continue
		}
		valid = append(valid, root)
	}
	return valid
}

// Collect walks every valid root concurrently and returns candidates sorted by path.
// A file reachable from two nested roots is reported once, under the innermost root.
func (w *Walker) Collect(ctx context.Context, roots []string) ([]Candidate, error) {
	valid := ValidRoots(roots)
	if len(valid) == 0 {
		err := errors.New(errors.CodeValidationError, "no valid audit roots")
		return nil, errors.AddContext(err, errors.CtxRoot, strings.Join(roots, ","))
	}

	type owned struct {
		root      string
		candidate Candidate
	}
	var mu sync.Mutex
	byPath := make(map[string]owned)

	g, gctx := errgroup.WithContext(ctx)
	for _, root := range valid {
		g.Go(func() error {
			project := filepath.Base(root)
			for path := range w.Walk(root) {
				if err := gctx.Err(); err != nil {
					return err
				}
				mu.Lock()
				if prev, ok := byPath[path]; !ok || len(root) > len(prev.root) {
					byPath[path] = owned{root: root, candidate: Candidate{Path: path, Project: project}}
				}
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Candidate, 0, len(byPath))
	for _, o := range byPath {
		out = append(out, o.candidate)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Paths projects candidates onto their file paths, preserving order.
func Paths(candidates []Candidate) []string {
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.Path
	}
	return out
}
