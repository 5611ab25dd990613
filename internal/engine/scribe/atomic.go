package scribe

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
)

const (
	stageRead   = "read"
	stageWrite  = "write"
	stageRename = "rename"
)

// stageError tags a rewrite failure with the step that failed.
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return fmt.Sprintf("%s: %v", e.stage, e.err) }
func (e *stageError) Unwrap() error { return e.err }

// writeAtomic replaces path with data through a sibling shadow file. The
// target is either untouched or fully replaced.
func writeAtomic(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.shadow")
	if err != nil {
		return &stageError{stageWrite, err}
	}
	tmpName := tmp.Name()
	fail := func(stage string, err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return &stageError{stage, err}
	}

	if err := tmp.Chmod(perm); err != nil && runtime.GOOS != "windows" {
		return fail(stageWrite, err)
	}
	if _, err := tmp.Write(data); err != nil {
		return fail(stageWrite, err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(stageWrite, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return &stageError{stageWrite, err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return &stageError{stageRename, err}
	}
	// The target is already replaced; a failed directory sync only weakens
	// durability of the rename.
	if err := syncDir(dir); err != nil {
		slog.Warn("directory sync failed after rename", "path", path, "error", err)
	}
	return nil
}

var syncDir = func(dir string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	d, err := os.Open(dir)
	if err != nil {
		return nil
	}
	defer d.Close()
	return d.Sync()
}
