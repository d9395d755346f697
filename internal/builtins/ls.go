package builtins

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"parley/internal/provider"
)

type lsEntry struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

func lsTool(w workspace) Tool {
	return Tool{
		Declaration: provider.ToolDeclaration{
			Name:        "ls",
			Description: "List the entries of a directory as JSON objects with name, type and size. Directories sort first.",
			Parameters: objectSchema(map[string]any{
				"path": prop("string", "Directory to list, relative to the working directory. Defaults to the working directory."),
			}),
		},
		Run: func(_ context.Context, args map[string]any) (string, error) {
			rawPath, _ := args["path"].(string)
			dir, err := w.resolve(rawPath)
			if err != nil {
				return "", err
			}
			info, err := os.Stat(dir)
			if err != nil {
				return "", fmt.Errorf("ls_failed: %w", err)
			}
			if !info.IsDir() {
				return "", fmt.Errorf("ls_not_directory")
			}
			items, err := os.ReadDir(dir)
			if err != nil {
				return "", fmt.Errorf("ls_failed: %w", err)
			}

			out := make([]lsEntry, 0, len(items))
			for _, item := range items {
				entry := lsEntry{Name: item.Name(), Type: "file"}
				switch {
				case item.IsDir():
					entry.Type = "dir"
				case item.Type()&os.ModeSymlink != 0:
					entry.Type = "symlink"
				}
				if info, err := item.Info(); err == nil && !item.IsDir() {
					entry.Size = info.Size()
				}
				out = append(out, entry)
			}
			sort.Slice(out, func(i, j int) bool {
				if (out[i].Type == "dir") != (out[j].Type == "dir") {
					return out[i].Type == "dir"
				}
				return out[i].Name < out[j].Name
			})
			b, err := json.Marshal(out)
			if err != nil {
				return "", fmt.Errorf("ls_failed: %w", err)
			}
			return string(b), nil
		},
	}
}
