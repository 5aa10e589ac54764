// Package memory is SEL's long-term memory port. Memories are short
// summarized exchanges keyed by a stream id (the sender), retrieved by
// relevance to the current message and written back after each turn.
package memory

import (
	"context"
	"time"
)

// Memory is one stored exchange.
type Memory struct {
	Summary   string    `json:"summary"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Salience  float64   `json:"salience"`
	StreamID  string    `json:"stream_id,omitempty"`
}

// Store retrieves and persists memories.
type Store interface {
	Retrieve(ctx context.Context, streamID, query string) ([]Memory, error)
	Store(ctx context.Context, streamID, content, summary string, salience float64) error
}

// Nop is a Store that remembers nothing.
type Nop struct{}

// Retrieve returns no memories.
func (Nop) Retrieve(context.Context, string, string) ([]Memory, error) { return nil, nil }

// Store discards the memory.
func (Nop) Store(context.Context, string, string, string, float64) error { return nil }
