// Package agent holds agent profiles and the tool declarations they may
// use.
package agent

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"parley/internal/provider"
)

const DefaultSystemPrompt = "You are a helpful assistant. Answer concisely. When a tool can answer the question more reliably than you can, call it."

var ErrUnknownAgent = errors.New("unknown_agent")

type Profile struct {
	ID           string   `json:"id" yaml:"id" toml:"id"`
	Name         string   `json:"name" yaml:"name" toml:"name"`
	SystemPrompt string   `json:"system_prompt" yaml:"system_prompt" toml:"system_prompt"`
	AllowedTools []string `json:"allowed_tools" yaml:"allowed_tools" toml:"allowed_tools"`
}

// Default is used when no profile source is configured. It whitelists no
// tools.
func Default() Profile {
	return Profile{ID: "default", Name: "Default", SystemPrompt: DefaultSystemPrompt}
}

// Registry is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]Profile
	order    []string
	active   string
	decls    []provider.ToolDeclaration
}

// NewRegistry registers profiles in order; the first one becomes active.
// With no profiles the registry serves Default.
func NewRegistry(decls []provider.ToolDeclaration, profiles ...Profile) *Registry {
	r := &Registry{profiles: map[string]Profile{}, decls: slices.Clone(decls)}
	if len(profiles) == 0 {
		profiles = []Profile{Default()}
	}
	for _, p := range profiles {
		r.put(p)
	}
	r.active = r.order[0]
	return r
}

func (r *Registry) put(p Profile) {
	p.ID = strings.TrimSpace(p.ID)
	if p.ID == "" {
		p.ID = fmt.Sprintf("agent-%d", len(r.order)+1)
	}
	if p.Name == "" {
		p.Name = p.ID
	}
	if _, exists := r.profiles[p.ID]; !exists {
		r.order = append(r.order, p.ID)
	}
	r.profiles[p.ID] = p
}

// ActiveAgent returns a copy of the active profile.
func (r *Registry) ActiveAgent() Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p := r.profiles[r.active]
	p.AllowedTools = slices.Clone(p.AllowedTools)
	return p
}

func (r *Registry) SetActive(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.profiles[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}
	r.active = id
	return nil
}

func (r *Registry) Profiles() []Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Profile, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.profiles[id])
	}
	return out
}

// FunctionDeclarations returns the declarations the active profile has
// whitelisted, in registration order.
func (r *Registry) FunctionDeclarations() []provider.ToolDeclaration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	allowed := r.profiles[r.active].AllowedTools
	out := make([]provider.ToolDeclaration, 0, len(allowed))
	for _, decl := range r.decls {
		if slices.Contains(allowed, decl.Name) {
			out = append(out, decl)
		}
	}
	return out
}
