// Package prompt stores and renders the prompt templates used by the agents.
//
// Templates are Go text/templates with sprig functions. Every render receives
// a DATETIME variable (UTC, RFC 3339) unless the caller supplies one.
package prompt

import (
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/stepmesh/core"
)

// Template names used by the agents.
const (
	System      = "system"
	Planner     = "planner"
	Replanner   = "replanner"
	FinalReport = "final_report"
	Execute     = "execute"
)

// Template is a system prompt with an optional user turn.
type Template struct {
	System string `yaml:"system_prompt"`
	User   string `yaml:"user_prompt"`
}

// Options configures a Library.
type Options struct {
	// Templates override or extend the defaults by name.
	Templates map[string]Template
	// Now is the clock for DATETIME.
	Now func() time.Time
}

// Library is a concurrency safe set of named templates.
type Library struct {
	mu        sync.RWMutex
	templates map[string]Template
	now       func() time.Time
}

// NewLibrary creates a library seeded with Defaults.
func NewLibrary(optFns ...func(o *Options)) *Library {
	opts := Options{Now: time.Now}
	for _, fn := range optFns {
		fn(&opts)
	}
	templates := Defaults()
	for name, t := range opts.Templates {
		templates[name] = merge(templates[name], t)
	}
	return &Library{templates: templates, now: opts.Now}
}

// Set replaces the template stored under name.
func (l *Library) Set(name string, t Template) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.templates[name] = t
}

// Get returns the template stored under name.
func (l *Library) Get(name string) (Template, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.templates[name]
	return t, ok
}

// SystemPrompt renders only the system part of a template.
func (l *Library) SystemPrompt(name string, vars map[string]any) (string, error) {
	t, ok := l.Get(name)
	if !ok {
		return "", fmt.Errorf("prompt %q not found", name)
	}
	return Render(t.System, l.withDefaults(vars))
}

// Messages renders a template into a system message followed by an optional
// user message.
func (l *Library) Messages(name string, vars map[string]any) ([]core.Content, error) {
	t, ok := l.Get(name)
	if !ok {
		return nil, fmt.Errorf("prompt %q not found", name)
	}
	vars = l.withDefaults(vars)

	system, err := Render(t.System, vars)
	if err != nil {
		return nil, fmt.Errorf("prompt %q: %w", name, err)
	}
	messages := []core.Content{core.SystemText(system)}
	if t.User == "" {
		return messages, nil
	}
	user, err := Render(t.User, vars)
	if err != nil {
		return nil, fmt.Errorf("prompt %q: %w", name, err)
	}
	return append(messages, core.UserText(user)), nil
}

func (l *Library) withDefaults(vars map[string]any) map[string]any {
	out := make(map[string]any, len(vars)+1)
	for k, v := range vars {
		out[k] = v
	}
	if _, ok := out["DATETIME"]; !ok {
		out["DATETIME"] = l.now().UTC().Format(time.RFC3339)
	}
	return out
}

func merge(base, override Template) Template {
	if override.System != "" {
		base.System = override.System
	}
	if override.User != "" {
		base.User = override.User
	}
	return base
}
