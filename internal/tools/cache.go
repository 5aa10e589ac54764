package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// CacheConfig enables result caching for selected tools.
type CacheConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"` // empty keeps the cache in memory
	// TTL applies to every cached tool without its own entry in Tools.
	TTL time.Duration `yaml:"ttl"`
	// Tools maps tool name to TTL. Only listed tools are cached; a zero
	// TTL means the default.
	Tools map[string]time.Duration `yaml:"tools"`
}

const defaultCacheTTL = 10 * time.Minute

// Cache is a badger-backed TTL store for tool output.
type Cache struct {
	db     *badger.DB
	logger *slog.Logger
}

// OpenCache opens (or creates) the cache. An empty dir opens an
// in-memory database.
func OpenCache(dir string, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{logger.With("component", "badger")})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open tool cache: %w", err)
	}
	return &Cache{db: db, logger: logger}, nil
}

// Close releases the database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Get returns the cached value and whether it was present and unexpired.
func (c *Cache) Get(key string) (string, bool, error) {
	var val []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(val), true, nil
}

// Set stores value under key for ttl.
func (c *Cache) Set(key, value string, ttl time.Duration) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(key), []byte(value)).WithTTL(ttl))
	})
}

// CachedExecutor serves repeat calls to cacheable tools from a [Cache].
// Cache failures are logged and fall through to the wrapped executor.
type CachedExecutor struct {
	next   Executor
	cache  *Cache
	ttls   map[string]time.Duration
	logger *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCachedExecutor wraps next. Tools absent from cfg.Tools bypass the
// cache entirely.
func NewCachedExecutor(next Executor, cache *Cache, cfg CacheConfig, logger *slog.Logger) *CachedExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	def := cfg.TTL
	if def <= 0 {
		def = defaultCacheTTL
	}
	ttls := make(map[string]time.Duration, len(cfg.Tools))
	for name, ttl := range cfg.Tools {
		if ttl <= 0 {
			ttl = def
		}
		ttls[name] = ttl
	}
	return &CachedExecutor{next: next, cache: cache, ttls: ttls, logger: logger}
}

func cacheKey(name, arg string) string {
	return "tool:" + name + "\x00" + arg
}

// Run implements [Executor]. Only successful results are cached.
func (c *CachedExecutor) Run(ctx context.Context, name, arg string) (string, error) {
	ttl, ok := c.ttls[name]
	if !ok {
		return c.next.Run(ctx, name, arg)
	}

	key := cacheKey(name, arg)
	if val, hit, err := c.cache.Get(key); err != nil {
		c.logger.Warn("tool cache read failed", "tool", name, "error", err)
	} else if hit {
		c.hits.Add(1)
		c.logger.Debug("tool cache hit", "tool", name)
		return val, nil
	}
	c.misses.Add(1)

	out, err := c.next.Run(ctx, name, arg)
	if err != nil {
		return "", err
	}
	if err := c.cache.Set(key, out, ttl); err != nil {
		c.logger.Warn("tool cache write failed", "tool", name, "error", err)
	}
	return out, nil
}

// List passes through to the wrapped executor when it can list tools.
func (c *CachedExecutor) List() []Tool {
	if l, ok := c.next.(interface{ List() []Tool }); ok {
		return l.List()
	}
	return nil
}

// Stats returns the hit and miss counts for cacheable tools.
func (c *CachedExecutor) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// badgerLogger routes badger's printf logging into slog. Info and debug
// chatter is demoted to debug.
type badgerLogger struct {
	l *slog.Logger
}

func (b badgerLogger) Errorf(f string, v ...any)   { b.l.Error(trimf(f, v...)) }
func (b badgerLogger) Warningf(f string, v ...any) { b.l.Warn(trimf(f, v...)) }
func (b badgerLogger) Infof(f string, v ...any)    { b.l.Debug(trimf(f, v...)) }
func (b badgerLogger) Debugf(f string, v ...any)   { b.l.Debug(trimf(f, v...)) }

func trimf(f string, v ...any) string {
	s := fmt.Sprintf(f, v...)
	for len(s) > 0 && s[len(s)-1] == '\n' {
		s = s[:len(s)-1]
	}
	return s
}
