// Package presence tracks who is around in the chat platform and
// renders that as model context.
package presence

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Provider renders presence context for the prompt. It returns "" when
// there is nothing to say.
type Provider interface {
	RenderContext(limit int) string
}

// Entry is the last known presence of one user.
type Entry struct {
	UserID     string    `json:"user_id"`
	Name       string    `json:"name,omitempty"`
	Status     string    `json:"status"`
	Activities []string  `json:"activities,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Online reports whether the status counts as present.
func (e Entry) Online() bool {
	switch e.Status {
	case "online", "idle", "dnd":
		return true
	}
	return false
}

// Tracker is a concurrency-safe [Provider] fed by transport events.
type Tracker struct {
	mu      sync.RWMutex
	entries map[string]Entry
	now     func() time.Time
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{entries: make(map[string]Entry), now: time.Now}
}

// Update replaces the presence of userID.
func (t *Tracker) Update(userID, name, status string, activities []string) {
	acts := make([]string, 0, len(activities))
	for _, a := range activities {
		if a = strings.TrimSpace(a); a != "" {
			acts = append(acts, a)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[userID] = Entry{
		UserID:     userID,
		Name:       name,
		Status:     strings.ToLower(strings.TrimSpace(status)),
		Activities: acts,
		UpdatedAt:  t.now(),
	}
}

// Remove forgets userID.
func (t *Tracker) Remove(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, userID)
}

// Clear forgets everyone.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.entries)
}

// Entries returns every known presence ordered by user id.
func (t *Tracker) Entries() []Entry {
	t.mu.RLock()
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// RenderContext renders the online count followed by up to limit
// users, ordered by user id. limit <= 0 lists everyone.
func (t *Tracker) RenderContext(limit int) string {
	entries := t.Entries()
	if len(entries) == 0 {
		return ""
	}

	online := 0
	for _, e := range entries {
		if e.Online() {
			online++
		}
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[PRESENCE (%d online)]\n", online)
	for _, e := range entries {
		who := e.Name
		if who == "" {
			who = "User " + e.UserID
		}
		fmt.Fprintf(&b, "  • %s (%s)", who, e.Status)
		if len(e.Activities) > 0 {
			b.WriteString(" - " + strings.Join(e.Activities, ", "))
		}
		b.WriteByte('\n')
	}
	b.WriteString("[/PRESENCE]")
	return b.String()
}
