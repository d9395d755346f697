package builtins

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"parley/internal/provider"
)

func grepTool(w workspace) Tool {
	return Tool{
		Declaration: provider.ToolDeclaration{
			Name:        "grep",
			Description: "Search text files for lines matching a regular expression. Each match is reported as path:line: text.",
			Parameters: objectSchema(map[string]any{
				"pattern":     prop("string", "Regular expression to search for."),
				"path":        prop("string", "File or directory to search. Defaults to the working directory."),
				"limit":       prop("integer", "Maximum number of matching lines."),
				"ignore_case": prop("boolean", "Match case-insensitively."),
			}, "pattern"),
		},
		Run: func(ctx context.Context, args map[string]any) (string, error) {
			pattern, _ := args["pattern"].(string)
			ignoreCase, _ := args["ignore_case"].(bool)
			if ignoreCase {
				pattern = "(?i)" + pattern
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				return "", fmt.Errorf("grep_invalid_pattern")
			}
			rawPath, _ := args["path"].(string)
			start, err := w.resolve(rawPath)
			if err != nil {
				return "", err
			}
			info, err := os.Stat(start)
			if err != nil {
				return "", fmt.Errorf("grep_failed: %w", err)
			}

			g := &grepper{re: re, limit: intArg(args, "limit", 100)}
			if !info.IsDir() {
				g.scanFile(start, w.rel(start))
				return g.result(), nil
			}
			err = w.walk(ctx, start, -1, func(path string, d fs.DirEntry) error {
				if d.IsDir() || !d.Type().IsRegular() {
					return nil
				}
				if g.scanFile(path, w.rel(path)) {
					return filepath.SkipAll
				}
				return nil
			})
			if err != nil {
				return "", fmt.Errorf("grep_failed: %w", err)
			}
			return g.result(), nil
		},
	}
}

type grepper struct {
	re      *regexp.Regexp
	limit   int
	matches []string
}

// scanFile appends the matching lines of one file and reports whether the
// limit has been reached. Unreadable, oversized and binary files are
// skipped.
func (g *grepper) scanFile(path, rel string) bool {
	b, err := readTextFile(path)
	if err != nil || !utf8.Valid(b) {
		return false
	}
	sc := bufio.NewScanner(bytes.NewReader(b))
	sc.Buffer(make([]byte, 0, 64*1024), maxFileBytes)
	for lineNo := 1; sc.Scan(); lineNo++ {
		if !g.re.MatchString(sc.Text()) {
			continue
		}
		g.matches = append(g.matches, fmt.Sprintf("%s:%d: %s", rel, lineNo, sc.Text()))
		if len(g.matches) >= g.limit {
			return true
		}
	}
	return false
}

func (g *grepper) result() string {
	return strings.Join(g.matches, "\n")
}
