package builtins

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"parley/internal/provider"
)

func findTool(w workspace) Tool {
	return Tool{
		Declaration: provider.ToolDeclaration{
			Name:        "find",
			Description: "Find paths under a directory whose path contains query. Results are relative to the working directory.",
			Parameters: objectSchema(map[string]any{
				"query":       prop("string", "Substring to match against paths."),
				"path":        prop("string", "Directory to search. Defaults to the working directory."),
				"max_results": prop("integer", "Maximum number of matches."),
				"max_depth":   prop("integer", "Maximum depth below path, or -1 for unlimited."),
			}, "query"),
		},
		Run: func(ctx context.Context, args map[string]any) (string, error) {
			query, _ := args["query"].(string)
			rawPath, _ := args["path"].(string)
			start, err := w.resolve(rawPath)
			if err != nil {
				return "", err
			}
			maxResults := intArg(args, "max_results", 200)

			info, err := os.Stat(start)
			if err != nil {
				return "", fmt.Errorf("find_failed: %w", err)
			}
			if !info.IsDir() {
				return "", fmt.Errorf("find_not_directory")
			}

			var matches []string
			err = w.walk(ctx, start, intArg(args, "max_depth", -1), func(path string, _ fs.DirEntry) error {
				rel := w.rel(path)
				if !strings.Contains(rel, query) {
					return nil
				}
				matches = append(matches, rel)
				if len(matches) >= maxResults {
					return filepath.SkipAll
				}
				return nil
			})
			if err != nil {
				return "", fmt.Errorf("find_failed: %w", err)
			}
			sort.Strings(matches)
			if matches == nil {
				matches = []string{}
			}
			b, err := json.Marshal(matches)
			if err != nil {
				return "", fmt.Errorf("find_failed: %w", err)
			}
			return string(b), nil
		},
	}
}
