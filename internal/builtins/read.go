package builtins

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"parley/internal/provider"
)

func readTool(w workspace) Tool {
	return Tool{
		Declaration: provider.ToolDeclaration{
			Name:        "read",
			Description: "Read a UTF-8 text file, optionally a window of lines. Files over 4 MiB are refused.",
			Parameters: objectSchema(map[string]any{
				"path":   prop("string", "File to read, relative to the working directory."),
				"offset": prop("integer", "Zero-based first line."),
				"limit":  prop("integer", "Maximum number of lines, or -1 for all."),
			}, "path"),
		},
		Run: func(_ context.Context, args map[string]any) (string, error) {
			rawPath, _ := args["path"].(string)
			path, err := w.resolve(rawPath)
			if err != nil {
				return "", err
			}
			b, err := readTextFile(path)
			switch {
			case errors.Is(err, errIsDirectory):
				return "", fmt.Errorf("read_is_directory")
			case errors.Is(err, errTooLarge):
				return "", fmt.Errorf("read_too_large")
			case err != nil:
				return "", fmt.Errorf("read_failed: %w", err)
			}
			if !utf8.Valid(b) {
				return "", fmt.Errorf("read_non_utf8")
			}
			return lineWindow(string(b), intArg(args, "offset", 0), intArg(args, "limit", -1)), nil
		},
	}
}

// lineWindow returns limit lines of text starting at offset. A trailing
// newline does not open an extra empty line.
func lineWindow(text string, offset, limit int) string {
	if text == "" {
		return ""
	}
	text = strings.TrimSuffix(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	lines := strings.Split(text, "\n")
	if offset >= len(lines) {
		return ""
	}
	end := len(lines)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return strings.Join(lines[offset:end], "\n")
}
