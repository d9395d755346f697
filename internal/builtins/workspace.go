package builtins

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// maxFileBytes bounds what read and grep load into memory.
const maxFileBytes = 4 << 20

var ErrOutsideWorkspace = errors.New("path_outside_workspace")

// workspace confines tool paths to one directory tree. Containment is
// lexical; symlinks inside the tree are followed.
type workspace struct {
	root string
}

func newWorkspace(dir string) workspace {
	root := expandPath(dir)
	if root == "" {
		if wd, err := os.Getwd(); err == nil {
			root = wd
		} else {
			root = "."
		}
	}
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	return workspace{root: filepath.Clean(root)}
}

// resolve expands ~ and $VAR, anchors relative paths at the root and rejects
// anything that lands outside it. An empty path is the root itself.
func (w workspace) resolve(raw string) (string, error) {
	path := expandPath(raw)
	if path == "" {
		return w.root, nil
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(w.root, path)
	}
	path = filepath.Clean(path)
	if path != w.root && !strings.HasPrefix(path, w.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideWorkspace, raw)
	}
	return path, nil
}

// rel renders abs relative to the root with forward slashes.
func (w workspace) rel(abs string) string {
	rel, err := filepath.Rel(w.root, abs)
	if err != nil {
		return filepath.ToSlash(abs)
	}
	return filepath.ToSlash(rel)
}

// walk visits every entry below start, skipping .git directories and
// entries deeper than maxDepth (-1 for no limit). fn may return
// filepath.SkipAll to stop early.
func (w workspace) walk(ctx context.Context, start string, maxDepth int, fn func(path string, d fs.DirEntry) error) error {
	return filepath.WalkDir(start, func(path string, d fs.DirEntry, inErr error) error {
		if inErr != nil {
			return inErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == start {
			return nil
		}
		if d.IsDir() && d.Name() == ".git" {
			return filepath.SkipDir
		}
		if maxDepth >= 0 {
			rel, err := filepath.Rel(start, path)
			if err != nil {
				return err
			}
			if strings.Count(rel, string(filepath.Separator))+1 > maxDepth {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}
		return fn(path, d)
	})
}

func expandPath(raw string) string {
	path := strings.TrimSpace(raw)
	if path == "" {
		return ""
	}
	path = os.Expand(path, func(name string) string {
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		return "$" + name
	})
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil && home != "" {
			path = filepath.Join(home, path[1:])
		}
	}
	return strings.TrimSpace(path)
}

// readTextFile loads a regular file, refusing directories and anything over
// maxFileBytes.
func readTextFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, errIsDirectory
	}
	if info.Size() > maxFileBytes {
		return nil, errTooLarge
	}
	return os.ReadFile(path)
}

var (
	errIsDirectory = errors.New("is_directory")
	errTooLarge    = errors.New("too_large")
)
