// Package tools is SEL's agent executor: a registry of named tools,
// each taking a single argument string and returning text. Tools are
// either native (system_agent, browser) or script agents discovered in
// the agents directory.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"sync"
	"time"
)

// Executor runs a named tool.
type Executor interface {
	Run(ctx context.Context, name, arg string) (string, error)
}

// Handler implements one tool.
type Handler func(ctx context.Context, arg string) (string, error)

// Tool sources.
const (
	SourceNative = "native"
	SourceScript = "script"
)

// Tool is one registered capability.
type Tool struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Source      string  `json:"source"`
	Handler     Handler `json:"-"`
}

var validName = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidName reports whether name can be registered. Names are plain
// identifiers so they can never address a path.
func ValidName(name string) bool {
	return validName.MatchString(name)
}

// Registry is a concurrency-safe [Executor].
type Registry struct {
	logger *slog.Logger

	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger: logger,
		tools:  make(map[string]*Tool),
	}
}

// Register adds or replaces a tool.
func (r *Registry) Register(t *Tool) error {
	if !ValidName(t.Name) {
		return fmt.Errorf("invalid tool name %q", t.Name)
	}
	if t.Handler == nil {
		return fmt.Errorf("tool %q has no handler", t.Name)
	}
	if t.Source == "" {
		t.Source = SourceNative
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name] = t
	return nil
}

// Unregister removes a tool. Unknown names are ignored.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns the named tool or nil.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// List returns every tool sorted by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, *t)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Run executes the named tool. Unknown names return a [*NotFoundError];
// handler failures (including panics) come back as [*ExecError].
func (r *Registry) Run(ctx context.Context, name, arg string) (out string, err error) {
	t := r.Get(name)
	if t == nil {
		return "", &NotFoundError{Name: name}
	}

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			err = &ExecError{Tool: name, Err: fmt.Errorf("panic: %v", p)}
		}
		r.logger.Debug("tool finished",
			"tool", name,
			"source", t.Source,
			"elapsed", time.Since(start).Round(time.Millisecond),
			"error", err,
		)
	}()

	out, err = t.Handler(ctx, arg)
	if err != nil {
		if _, ok := err.(*ExecError); !ok {
			err = &ExecError{Tool: name, Err: err}
		}
		return "", err
	}
	return out, nil
}
