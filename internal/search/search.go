// Package search runs web searches for the browser tool when its
// argument is a query rather than a URL.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// Result is a single search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Options narrow a query. Zero values mean provider defaults.
type Options struct {
	Count    int    `json:"count,omitempty"`
	Language string `json:"language,omitempty"` // ISO 639-1
}

// Provider is one search backend.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, opts Options) ([]Result, error)
}

// ErrNoProviders is returned when nothing is configured.
var ErrNoProviders = errors.New("no search provider configured")

// Config selects and configures providers.
type Config struct {
	Primary string        `yaml:"primary"` // "searxng" or "brave"; empty picks the first configured
	Count   int           `yaml:"count"`
	SearXNG SearXNGConfig `yaml:"searxng"`
	Brave   BraveConfig   `yaml:"brave"`
}

// Manager queries the primary provider and falls back to the others in
// registration order when it fails.
type Manager struct {
	primary   string
	count     int
	order     []string
	providers map[string]Provider
	logger    *slog.Logger
}

// NewManager creates an empty manager.
func NewManager(primary string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		primary:   primary,
		providers: make(map[string]Provider),
		logger:    logger,
	}
}

// FromConfig builds a manager with every configured provider.
func FromConfig(cfg Config, logger *slog.Logger) *Manager {
	m := NewManager(cfg.Primary, logger)
	m.count = cfg.Count
	if cfg.SearXNG.Configured() {
		m.Register(NewSearXNG(cfg.SearXNG.URL))
	}
	if cfg.Brave.Configured() {
		m.Register(NewBrave(cfg.Brave.APIKey))
	}
	return m
}

// Register adds a provider. Registering a name twice replaces it.
func (m *Manager) Register(p Provider) {
	if _, ok := m.providers[p.Name()]; !ok {
		m.order = append(m.order, p.Name())
	}
	m.providers[p.Name()] = p
}

// Configured reports whether any provider is registered.
func (m *Manager) Configured() bool {
	return len(m.providers) > 0
}

// Providers returns provider names in the order they are tried.
func (m *Manager) Providers() []string {
	var out []string
	if _, ok := m.providers[m.primary]; ok {
		out = append(out, m.primary)
	}
	for _, name := range m.order {
		if name != m.primary {
			out = append(out, name)
		}
	}
	return out
}

// Search tries each provider in turn and returns the first success.
func (m *Manager) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	if opts.Count == 0 {
		opts.Count = m.count
	}

	var errs []error
	for _, name := range m.Providers() {
		results, err := m.providers[name].Search(ctx, query, opts)
		if err == nil {
			return results, nil
		}
		m.logger.Warn("search provider failed", "provider", name, "error", err)
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	if len(errs) == 0 {
		return nil, ErrNoProviders
	}
	return nil, fmt.Errorf("search %q: %w", query, errors.Join(errs...))
}

// FormatResults renders results as a numbered list.
func FormatResults(results []Result) string {
	if len(results) == 0 {
		return "No results found."
	}

	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(r.Title)
		b.WriteString("\n   ")
		b.WriteString(r.URL)
		if r.Snippet != "" {
			b.WriteString("\n   ")
			b.WriteString(r.Snippet)
		}
	}
	return b.String()
}
