package core

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"parley/internal/agent"
)

// Environment annotates the system prompt of new queries.
type Environment struct {
	WorkingDir string
	Platform   string
}

func (e Environment) withDefaults() Environment {
	if strings.TrimSpace(e.Platform) == "" {
		e.Platform = runtime.GOOS + "/" + runtime.GOARCH
	}
	return e
}

func (e Environment) systemPrompt(base string, now time.Time) string {
	base = strings.TrimSpace(base)
	if base == "" {
		base = agent.DefaultSystemPrompt
	}
	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\n\nEnvironment:\n")
	if dir := strings.TrimSpace(e.WorkingDir); dir != "" {
		fmt.Fprintf(&b, "Working directory: %s\n", dir)
	}
	fmt.Fprintf(&b, "Platform: %s\n", e.Platform)
	fmt.Fprintf(&b, "Date: %s\n", now.Format("2006-01-02"))
	return b.String()
}
