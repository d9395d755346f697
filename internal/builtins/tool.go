// Package builtins holds the tools a client executes on behalf of the model.
// The server never runs them; it only forwards their declarations.
package builtins

import (
	"context"
	"fmt"

	"parley/internal/provider"
)

// Tool pairs a declaration with its executor. Run receives arguments that
// have already been normalized for the tool.
type Tool struct {
	Declaration provider.ToolDeclaration
	Run         func(ctx context.Context, args map[string]any) (string, error)
}

func (t Tool) Name() string {
	return t.Declaration.Name
}

// Set is an ordered collection of tools rooted at one working directory.
type Set struct {
	tools []Tool
	index map[string]int
}

func NewSet(tools ...Tool) *Set {
	s := &Set{index: make(map[string]int, len(tools))}
	for _, tool := range tools {
		if i, ok := s.index[tool.Name()]; ok {
			s.tools[i] = tool
			continue
		}
		s.index[tool.Name()] = len(s.tools)
		s.tools = append(s.tools, tool)
	}
	return s
}

// DefaultTools returns the read-only file tools confined to cwd. An empty
// cwd means the process working directory.
func DefaultTools(cwd string) *Set {
	w := newWorkspace(cwd)
	return NewSet(lsTool(w), readTool(w), findTool(w), grepTool(w))
}

func (s *Set) Declarations() []provider.ToolDeclaration {
	out := make([]provider.ToolDeclaration, 0, len(s.tools))
	for _, tool := range s.tools {
		out = append(out, tool.Declaration)
	}
	return out
}

func (s *Set) Lookup(name string) (Tool, bool) {
	i, ok := s.index[name]
	if !ok {
		return Tool{}, false
	}
	return s.tools[i], true
}

// Execute runs one call and shapes the outcome as a functionResponse body:
// {"output": ...} on success and {"error": ...} otherwise.
func (s *Set) Execute(ctx context.Context, call provider.ToolCall) provider.ToolResult {
	result := provider.ToolResult{ID: call.ID, Name: call.Name}
	output, err := s.run(ctx, call)
	if err != nil {
		result.Response = map[string]any{"error": err.Error()}
		return result
	}
	result.Response = map[string]any{"output": output}
	return result
}

func (s *Set) run(ctx context.Context, call provider.ToolCall) (string, error) {
	tool, ok := s.Lookup(call.Name)
	if !ok {
		return "", fmt.Errorf("unknown_tool: %s", call.Name)
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("tool_cancelled: %w", err)
	}
	args := call.Arguments
	if args == nil {
		args = map[string]any{}
	}
	normalized, err := normalizeToolArguments(call.Name, args)
	if err != nil {
		return "", err
	}
	return tool.Run(ctx, normalized)
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func prop(kind, description string) map[string]any {
	return map[string]any{"type": kind, "description": description}
}
