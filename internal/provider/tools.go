package provider

import "strings"

// filterTools keeps the declarations whose names appear in allowed, in
// declaration order. An empty whitelist allows nothing.
func filterTools(decls []ToolDeclaration, allowed []string) []ToolDeclaration {
	if len(decls) == 0 || len(allowed) == 0 {
		return nil
	}
	permitted := make(map[string]struct{}, len(allowed))
	for _, name := range allowed {
		if name = strings.TrimSpace(name); name != "" {
			permitted[name] = struct{}{}
		}
	}
	out := make([]ToolDeclaration, 0, len(decls))
	seen := make(map[string]struct{}, len(decls))
	for _, decl := range decls {
		name := strings.TrimSpace(decl.Name)
		if name == "" {
			continue
		}
		if _, ok := permitted[name]; !ok {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, decl)
	}
	return out
}

func toolParameters(decl ToolDeclaration) map[string]any {
	if len(decl.Parameters) > 0 {
		return decl.Parameters
	}
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

func findDeclaration(decls []ToolDeclaration, name string) (ToolDeclaration, bool) {
	for _, decl := range decls {
		if decl.Name == name {
			return decl, true
		}
	}
	return ToolDeclaration{}, false
}

// backfillBooleans copies args and sets every boolean property declared in
// the tool's schema that the provider omitted to false.
func backfillBooleans(call ToolCall, decls []ToolDeclaration) map[string]any {
	out := make(map[string]any, len(call.Arguments)+2)
	for k, v := range call.Arguments {
		out[k] = v
	}
	decl, ok := findDeclaration(decls, call.Name)
	if !ok {
		return out
	}
	props, _ := decl.Parameters["properties"].(map[string]any)
	for name, raw := range props {
		schema, _ := raw.(map[string]any)
		if kind, _ := schema["type"].(string); kind != "boolean" {
			continue
		}
		if _, present := out[name]; !present {
			out[name] = false
		}
	}
	return out
}
