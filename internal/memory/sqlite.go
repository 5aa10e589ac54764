package memory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// timeLayout is fixed width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore keeps memories in a local SQLite database. Retrieval is
// keyword based: a memory matches when its summary or content contains
// any significant word of the query, and matches are ranked by the
// number of matching words, then salience, then recency.
type SQLiteStore struct {
	db    *sql.DB
	limit int
}

// NewSQLiteStore opens (or creates) the database at dbPath. limit caps
// the number of memories returned per query; <= 0 selects 10.
func NewSQLiteStore(dbPath string, limit int) (*SQLiteStore, error) {
	if limit <= 0 {
		limit = 10
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open memory database: %w", err)
	}

	s := &SQLiteStore{db: db, limit: limit}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate memory schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		id         TEXT PRIMARY KEY,
		stream_id  TEXT NOT NULL,
		summary    TEXT NOT NULL,
		content    TEXT NOT NULL,
		salience   REAL NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_memories_stream ON memories(stream_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Store inserts one memory with a UUIDv7 id.
func (s *SQLiteStore) Store(ctx context.Context, streamID, content, summary string, salience float64) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate memory ID: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO memories (id, stream_id, summary, content, salience, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id.String(), streamID, summary, content, salience,
		time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

// Retrieve returns up to the configured limit of memories for streamID
// that share a keyword with query. A query with no usable keywords
// returns nothing.
func (s *SQLiteStore) Retrieve(ctx context.Context, streamID, query string) ([]Memory, error) {
	words := keywords(query)
	if len(words) == 0 {
		return nil, nil
	}

	// score = number of keywords present in summary or content.
	var score strings.Builder
	args := make([]any, 0, 2*len(words)+2)
	for i, w := range words {
		if i > 0 {
			score.WriteString(" + ")
		}
		score.WriteString("(CASE WHEN lower(summary) LIKE ? OR lower(content) LIKE ? THEN 1 ELSE 0 END)")
		pattern := "%" + w + "%"
		args = append(args, pattern, pattern)
	}
	args = append(args, streamID, s.limit)

	q := fmt.Sprintf(
		`SELECT summary, content, salience, created_at, score FROM (
			SELECT summary, content, salience, created_at, (%s) AS score
			FROM memories WHERE stream_id = ?
		 ) WHERE score > 0
		 ORDER BY score DESC, salience DESC, created_at DESC
		 LIMIT ?`,
		score.String(),
	)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	var out []Memory
	for rows.Next() {
		var (
			m       Memory
			created string
			n       int
		)
		if err := rows.Scan(&m.Summary, &m.Content, &m.Salience, &created, &n); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		m.Timestamp, _ = time.Parse(timeLayout, created)
		m.StreamID = streamID
		out = append(out, m)
	}
	return out, rows.Err()
}

// Count returns the number of memories held for streamID.
func (s *SQLiteStore) Count(ctx context.Context, streamID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories WHERE stream_id = ?`, streamID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count memories: %w", err)
	}
	return n, nil
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "you": true, "are": true,
	"was": true, "but": true, "not": true, "with": true, "this": true,
	"that": true, "have": true, "what": true, "how": true, "can": true,
}

// keywords lowercases query and returns its distinct alphanumeric words
// of three or more runes, minus common stop words, capped at eight.
// Keywords never contain LIKE wildcards.
func keywords(query string) []string {
	const maxWords = 8
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(fields))
	var out []string
	for _, f := range fields {
		if len([]rune(f)) < 3 || stopWords[f] || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
		if len(out) == maxWords {
			break
		}
	}
	return out
}
