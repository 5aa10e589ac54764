package agent

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sel-agent/sel/internal/router"
)

// Stats summarizes orchestrator activity since start.
type Stats struct {
	Turns               int64     `json:"turns"`
	ToolTurns           int64     `json:"tool_turns"`
	ModelTurns          int64     `json:"model_turns"`
	Fallbacks           int64     `json:"fallbacks"`
	Ignored             int64     `json:"ignored"`
	MemoryWriteErrors   int64     `json:"memory_write_errors"`
	ActiveConversations int       `json:"active_conversations"`
	TurnsToday          int64     `json:"turns_today"`
	LastTurn            time.Time `json:"last_turn,omitempty"`
	LastMood            string    `json:"last_mood,omitempty"`
}

type counters struct {
	turns        atomic.Int64
	toolTurns    atomic.Int64
	modelTurns   atomic.Int64
	fallbacks    atomic.Int64
	ignored      atomic.Int64
	memoryErrors atomic.Int64

	mu         sync.Mutex
	day        string // YYYY-MM-DD of turnsToday
	turnsToday int64
	lastTurn   time.Time
	lastMood   string
}

func newCounters() *counters {
	return &counters{}
}

// turn records a completed turn. at is in the configured location so
// the daily counter rolls over at local midnight.
func (c *counters) turn(at time.Time, path router.Path, fallback bool, mood string) {
	c.turns.Add(1)
	if path == router.PathNone {
		c.modelTurns.Add(1)
	} else {
		c.toolTurns.Add(1)
	}
	if fallback {
		c.fallbacks.Add(1)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if day := at.Format(time.DateOnly); day != c.day {
		c.day = day
		c.turnsToday = 0
	}
	c.turnsToday++
	c.lastTurn = at
	c.lastMood = mood
}

// Stats returns current counters.
func (o *Orchestrator) Stats() Stats {
	c := o.stats
	s := Stats{
		Turns:               c.turns.Load(),
		ToolTurns:           c.toolTurns.Load(),
		ModelTurns:          c.modelTurns.Load(),
		Fallbacks:           c.fallbacks.Load(),
		Ignored:             c.ignored.Load(),
		MemoryWriteErrors:   c.memoryErrors.Load(),
		ActiveConversations: o.convs.len(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.day == o.now().In(o.cfg.Location).Format(time.DateOnly) {
		s.TurnsToday = c.turnsToday
	}
	s.LastTurn = c.lastTurn
	s.LastMood = c.lastMood
	return s
}
