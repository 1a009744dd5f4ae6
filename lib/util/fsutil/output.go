package fsutil

import (
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Output is a sink for named debug artifacts such as screenshots or page dumps.
type Output interface {
	Write(name string, contents []byte)
}

// DirectoryOutput writes artifacts as files in a directory.
type DirectoryOutput struct {
	directory string
}

// NewDirectoryOutput creates dir if needed, an empty dir yields a nil Output.
func NewDirectoryOutput(dir string) Output {
	if dir == "" {
		return nil
	}
	err := os.MkdirAll(dir, 0777)
	if err != nil {
		slog.Warn("failed to create artifact directory, artifacts are disabled", "dir", dir, "err", err)
		return nil
	}
	return DirectoryOutput{directory: dir}
}

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// SafeName turns an arbitrary label into something usable as a file name.
func SafeName(label string) string {
	return strings.Trim(unsafeName.ReplaceAllString(label, "-"), "-")
}

func (o DirectoryOutput) Write(name string, contents []byte) {
	path := filepath.Join(o.directory, SafeName(name))
	err := os.WriteFile(path, contents, 0600)
	if err != nil {
		slog.Warn("failed to write artifact", "path", path, "err", err)
		return
	}
	slog.Debug("artifact written", "path", path)
}
