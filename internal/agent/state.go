package agent

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sel-agent/sel/internal/affect"
	"github.com/sel-agent/sel/internal/history"
)

// conversation is one conversation's owned state. mu is held for the
// whole of a turn; affect and history are only touched under it.
type conversation struct {
	id      string
	mu      sync.Mutex
	affect  *affect.Model
	history *history.Buffer

	// Guarded by store.mu.
	refs     int // turns running or waiting
	lastUsed time.Time
	turns    int
	info     ConversationInfo
}

func newConversation(id string, historyLimit int, decayRate float64, now time.Time) *conversation {
	c := &conversation{
		id:       id,
		affect:   affect.New(now, decayRate),
		history:  history.New(historyLimit),
		lastUsed: now,
	}
	c.info = c.describe(now)
	return c
}

// describe must be called with c.mu held (or before c is shared).
func (c *conversation) describe(now time.Time) ConversationInfo {
	snap := c.affect.Snapshot()
	return ConversationInfo{
		ID:         c.id,
		HistoryLen: c.history.Len(),
		Turns:      c.turns,
		Mood:       snap.Mood,
		Affect:     snap.Values,
		LastActive: now,
	}
}

// ConversationInfo is a read-only view of one conversation, refreshed
// at the end of every turn.
type ConversationInfo struct {
	ID         string             `json:"id"`
	HistoryLen int                `json:"history_len"`
	Turns      int                `json:"turns"`
	Mood       string             `json:"mood"`
	Affect     map[string]float64 `json:"affect"`
	LastActive time.Time          `json:"last_active"`
}

// store maps conversation ids to lazily created records.
type store struct {
	mu    sync.Mutex
	convs map[string]*conversation
}

func newStore() *store {
	return &store{convs: make(map[string]*conversation)}
}

// acquire returns id's record with its lock held, creating it on first
// use. The store lock is released before waiting on the record, so a
// slow turn never blocks other conversations.
func (s *store) acquire(id string, create func() *conversation) *conversation {
	s.mu.Lock()
	c, ok := s.convs[id]
	if !ok {
		c = create()
		s.convs[id] = c
	}
	c.refs++
	s.mu.Unlock()

	c.mu.Lock()
	return c
}

// release publishes the turn's outcome and unlocks c.
func (s *store) release(c *conversation, now time.Time) {
	s.mu.Lock()
	c.turns++
	c.info = c.describe(now)
	c.lastUsed = now
	c.refs--
	s.mu.Unlock()

	c.mu.Unlock()
}

// evict drops records idle for longer than ttl with no turn running or
// waiting. It returns the number removed.
func (s *store) evict(now time.Time, ttl time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, c := range s.convs {
		if c.refs == 0 && now.Sub(c.lastUsed) > ttl {
			delete(s.convs, id)
			n++
		}
	}
	return n
}

func (s *store) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.convs)
}

func (s *store) snapshot() []ConversationInfo {
	s.mu.Lock()
	out := make([]ConversationInfo, 0, len(s.convs))
	for _, c := range s.convs {
		info := c.info
		info.Affect = make(map[string]float64, len(c.info.Affect))
		for k, v := range c.info.Affect {
			info.Affect[k] = v
		}
		out = append(out, info)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Conversations lists every live conversation, sorted by id. It never
// waits on a running turn.
func (o *Orchestrator) Conversations() []ConversationInfo {
	return o.convs.snapshot()
}

// EvictIdle removes conversations idle longer than the configured TTL.
// A zero TTL disables eviction.
func (o *Orchestrator) EvictIdle() int {
	if o.cfg.IdleTTL <= 0 {
		return 0
	}
	n := o.convs.evict(o.now(), o.cfg.IdleTTL)
	if n > 0 {
		o.logger.Info("evicted idle conversations", "count", n, "remaining", o.convs.len())
	}
	return n
}

// RunJanitor calls [Orchestrator.EvictIdle] every interval until ctx
// is done. A non-positive interval uses a tenth of the TTL, at least a
// minute.
func (o *Orchestrator) RunJanitor(ctx context.Context, interval time.Duration) error {
	if o.cfg.IdleTTL <= 0 {
		<-ctx.Done()
		return nil
	}
	if interval <= 0 {
		interval = max(o.cfg.IdleTTL/10, time.Minute)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			o.EvictIdle()
		}
	}
}
