// Package source loads file contents for scanning.
package source

import (
	"os"
	"strings"
	"unicode/utf8"

	"scribe/internal/shared/observability"

	"github.com/edsrzf/mmap-go"
)

// Load maps path read-only and returns its contents decoded as UTF-8, with
// invalid sequences replaced by U+FFFD. When mapping is impossible (empty files,
// special files, platforms without mmap) it falls back to a buffered read.
func Load(path string) (string, error) {
	data, err := mapFile(path)
	if err == nil {
		observability.FileLoadsTotal.WithLabelValues("mmap").Inc()
		return decode(data), nil
	}

	buf, err := os.ReadFile(path)
	if err != nil {
		observability.FileLoadsTotal.WithLabelValues("failed").Inc()
		return "", err
	}
	observability.FileLoadsTotal.WithLabelValues("read").Inc()
	return decode(buf), nil
}

// mapFile returns a private copy of the mapped bytes; the mapping itself is
// released before returning.
func mapFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer m.Unmap()

	return append([]byte(nil), m...), nil
}

func decode(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), string(utf8.RuneError))
}
