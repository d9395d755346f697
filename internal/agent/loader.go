package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"parley/internal/provider"
)

// Source is the on-disk profile file. It may be TOML, YAML or JSON with
// comments, chosen by extension.
type Source struct {
	Active string                     `json:"active" yaml:"active" toml:"active"`
	Agents []Profile                  `json:"agents" yaml:"agents" toml:"agents"`
	Tools  []provider.ToolDeclaration `json:"tools" yaml:"tools" toml:"tools"`
}

func ParseSource(data []byte, format string) (Source, error) {
	var src Source
	var err error
	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case "toml":
		err = toml.Unmarshal(data, &src)
	case "yaml", "yml":
		err = yaml.Unmarshal(data, &src)
	case "json", "jsonc":
		err = json.Unmarshal(jsonc.ToJSON(data), &src)
	default:
		return Source{}, fmt.Errorf("unsupported_profile_format: %q", format)
	}
	if err != nil {
		return Source{}, fmt.Errorf("decode profile source: %w", err)
	}
	return src, nil
}

// LoadFile reads a profile source and builds a registry from it. The builtin
// declarations are registered first; declarations in the file with the same
// name replace them.
func LoadFile(path string, builtin []provider.ToolDeclaration) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile source: %w", err)
	}
	src, err := ParseSource(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return FromSource(src, builtin)
}

func FromSource(src Source, builtin []provider.ToolDeclaration) (*Registry, error) {
	decls := mergeDeclarations(builtin, src.Tools)
	r := NewRegistry(decls, src.Agents...)
	if src.Active != "" {
		if err := r.SetActive(src.Active); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func mergeDeclarations(base, extra []provider.ToolDeclaration) []provider.ToolDeclaration {
	out := make([]provider.ToolDeclaration, 0, len(base)+len(extra))
	index := map[string]int{}
	for _, decl := range append(append([]provider.ToolDeclaration(nil), base...), extra...) {
		name := strings.TrimSpace(decl.Name)
		if name == "" {
			continue
		}
		decl.Name = name
		if i, ok := index[name]; ok {
			out[i] = decl
			continue
		}
		index[name] = len(out)
		out = append(out, decl)
	}
	return out
}
