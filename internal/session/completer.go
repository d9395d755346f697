package session

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"parley/internal/provider"
)

// ProviderMock selects the scripted provider instead of a network client.
const ProviderMock = "mock"

// CompleterFactory allocates the provider used by a new session.
type CompleterFactory func(creds provider.Credentials) (provider.Completer, error)

// ClientFactory returns a factory that builds one provider.Client per
// distinct credentials and shares it between sessions. name forces an
// adapter; empty detects it from the model and base URL.
func ClientFactory(name string, timeout time.Duration, logger *slog.Logger) CompleterFactory {
	var (
		mu      sync.Mutex
		clients = map[provider.Credentials]*provider.Client{}
	)
	name = strings.TrimSpace(name)
	return func(creds provider.Credentials) (provider.Completer, error) {
		if name == ProviderMock {
			return provider.NewMock(nil), nil
		}
		mu.Lock()
		defer mu.Unlock()
		if c, ok := clients[creds]; ok {
			return c, nil
		}
		opts := []provider.ClientOption{provider.WithLogger(logger)}
		if name != "" {
			adapter, err := provider.AdapterByName(name)
			if err != nil {
				return nil, fmt.Errorf("provider_unavailable: %w", err)
			}
			opts = append(opts, provider.WithAdapter(adapter))
		}
		c, err := provider.NewClient(creds, timeout, opts...)
		if err != nil {
			return nil, fmt.Errorf("provider_unavailable: %w", err)
		}
		clients[creds] = c
		return c, nil
	}
}
