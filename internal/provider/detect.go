package provider

import (
	"fmt"
	"strings"
)

// DetectProvider picks the adapter for a model and base URL. It is
// deterministic and total: unrecognised endpoints get the generic adapter.
func DetectProvider(model, baseURL string) Adapter {
	m := strings.ToLower(strings.TrimSpace(model))
	u := strings.ToLower(strings.TrimSpace(baseURL))

	switch {
	case strings.Contains(u, "cloudcode-pa.googleapis.com"),
		strings.Contains(u, "generativelanguage.googleapis.com"),
		u == "" && strings.HasPrefix(m, "gemini-"):
		return NewVendorOAuthAdapter()
	case strings.Contains(u, "openai"),
		strings.Contains(u, "openrouter"),
		strings.Contains(u, ":11434"),
		strings.HasSuffix(strings.TrimRight(u, "/"), "/v1"),
		strings.Contains(u, "/v1/"):
		return NewOpenAICompatAdapter()
	case u == "" && hasAnyPrefix(m, "gpt-", "o1", "o3", "o4"):
		return NewOpenAICompatAdapter()
	default:
		return NewGenericAdapter()
	}
}

// AdapterByName resolves an explicit adapter override.
func AdapterByName(name string) (Adapter, error) {
	switch strings.TrimSpace(name) {
	case NameOpenAICompatible, "openai":
		return NewOpenAICompatAdapter(), nil
	case NameVendorOAuth, "gemini":
		return NewVendorOAuthAdapter(), nil
	case NameGeneric:
		return NewGenericAdapter(), nil
	default:
		return nil, fmt.Errorf("unknown_provider: %s", name)
	}
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
