// Package history holds the bounded, in-memory transcript of a single
// conversation.
package history

// DefaultLimit is used when a buffer is created with a non-positive limit.
const DefaultLimit = 20

// Entry is one line of conversation.
type Entry struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
	IsAgent bool   `json:"is_agent"`
}

// Buffer is an ordered transcript holding at most Limit entries. When
// an append pushes it over the limit, the oldest entries are dropped in
// one step. It is not safe for concurrent use.
type Buffer struct {
	limit   int
	entries []Entry
}

// New returns an empty buffer. A limit <= 0 selects [DefaultLimit].
func New(limit int) *Buffer {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Buffer{limit: limit}
}

// Append adds an entry and truncates from the front if needed.
func (b *Buffer) Append(speaker, text string, isAgent bool) {
	b.entries = append(b.entries, Entry{Speaker: speaker, Text: text, IsAgent: isAgent})
	if over := len(b.entries) - b.limit; over > 0 {
		// Copy down so the backing array does not grow without bound.
		n := copy(b.entries, b.entries[over:])
		clear(b.entries[n:])
		b.entries = b.entries[:n]
	}
}

// Recent returns a copy of every held entry, oldest first.
func (b *Buffer) Recent() []Entry {
	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Len reports the number of held entries.
func (b *Buffer) Len() int { return len(b.entries) }

// Limit reports the configured maximum length.
func (b *Buffer) Limit() int { return b.limit }
