package tools

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultWatchDebounce = 500 * time.Millisecond

// WatcherStats counts what the agents-dir watcher has seen.
type WatcherStats struct {
	Events        int       `json:"events"`
	Rescans       int       `json:"rescans"`
	Errors        int       `json:"errors"`
	LastEventPath string    `json:"last_event_path,omitempty"`
	LastEventType string    `json:"last_event_type,omitempty"`
	LastRescan    time.Time `json:"last_rescan,omitempty"`
}

// Watcher keeps the registry's script agents in step with the agents
// directory. Bursts of file events collapse into one rescan once the
// directory has been quiet for the debounce period.
type Watcher struct {
	runner   *ScriptRunner
	registry *Registry
	logger   *slog.Logger
	debounce time.Duration

	mu      sync.Mutex
	pending time.Time // zero when no rescan is due
	stats   WatcherStats
}

// NewWatcher creates a watcher. A non-positive debounce uses 500ms.
func NewWatcher(runner *ScriptRunner, registry *Registry, debounce time.Duration, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = defaultWatchDebounce
	}
	return &Watcher{
		runner:   runner,
		registry: registry,
		logger:   logger,
		debounce: debounce,
	}
}

// Run watches until ctx is cancelled. The directory is created if it
// does not exist.
func (w *Watcher) Run(ctx context.Context) error {
	dir := w.runner.Dir()
	if dir == "" {
		return fmt.Errorf("watch agents dir: no directory configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create agents dir: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.logger.Info("watching agents dir", "dir", dir, "debounce", w.debounce)

	tick := time.NewTicker(w.debounce / 5)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("agents dir watch error", "error", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()

		case <-tick.C:
			w.flush()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		return
	}

	var kind string
	switch {
	case event.Op&fsnotify.Create != 0:
		kind = "create"
	case event.Op&fsnotify.Write != 0:
		kind = "modify"
	case event.Op&fsnotify.Remove != 0:
		kind = "delete"
	case event.Op&fsnotify.Rename != 0:
		kind = "rename"
	default:
		return
	}

	w.logger.Debug("agents dir event", "path", event.Name, "op", kind)

	w.mu.Lock()
	w.stats.Events++
	w.stats.LastEventPath = event.Name
	w.stats.LastEventType = kind
	w.pending = time.Now()
	w.mu.Unlock()
}

// flush rescans if the last event is older than the debounce period.
func (w *Watcher) flush() {
	w.mu.Lock()
	if w.pending.IsZero() || time.Since(w.pending) < w.debounce {
		w.mu.Unlock()
		return
	}
	w.pending = time.Time{}
	w.mu.Unlock()

	err := w.runner.Sync(w.registry)

	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		w.stats.Errors++
		w.logger.Warn("agents dir rescan failed", "error", err)
		return
	}
	w.stats.Rescans++
	w.stats.LastRescan = time.Now()
}

// Stats returns a copy of the counters.
func (w *Watcher) Stats() WatcherStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}
