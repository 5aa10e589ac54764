package prompts

import (
	"fmt"
	"strings"
	"time"

	"github.com/sel-agent/sel/internal/history"
	"github.com/sel-agent/sel/internal/llm"
	"github.com/sel-agent/sel/internal/memory"
)

// timeLayout renders e.g. "Monday, January 02, 2006 at 03:04 PM UTC".
const timeLayout = "Monday, January 02, 2006 at 03:04 PM MST"

// Input is everything the assembler needs for one model call.
type Input struct {
	Persona  string
	Affect   string
	Now      time.Time
	Location *time.Location // nil means UTC
	Presence string

	Memories    []memory.Memory
	RecallLimit int // <= 0 means no cap

	History []history.Entry

	// Author and Text are the current turn.
	Author string
	Text   string
}

// Assemble builds the model context. Context blocks come first as
// system messages (persona, affect, time, presence, memories), empty
// ones omitted; then history oldest first; then the current turn.
func Assemble(in Input) []llm.Message {
	blocks := []string{
		in.Persona,
		in.Affect,
		TimeBlock(in.Now, in.Location),
		in.Presence,
		MemoryBlock(in.Memories, in.Now, in.RecallLimit),
	}

	msgs := make([]llm.Message, 0, len(blocks)+len(in.History)+1)
	for _, b := range blocks {
		if strings.TrimSpace(b) == "" {
			continue
		}
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: b})
	}

	for _, e := range in.History {
		if e.IsAgent {
			msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: e.Text})
			continue
		}
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: UserLine(e.Speaker, e.Text)})
	}

	return append(msgs, llm.Message{Role: llm.RoleUser, Content: UserLine(in.Author, in.Text)})
}

// UserLine formats a user-authored line as "{author}: {text}".
func UserLine(author, text string) string {
	return author + ": " + text
}

// TimeBlock renders the current-time context block.
func TimeBlock(now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return "[TIME]\nCurrent time: " + now.In(loc).Format(timeLayout) + "\n[/TIME]"
}

// MemoryBlock renders up to limit memories as numbered lines with a
// relative age. It returns "" when there is nothing to render.
func MemoryBlock(mems []memory.Memory, now time.Time, limit int) string {
	if limit > 0 && len(mems) > limit {
		mems = mems[:limit]
	}
	if len(mems) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("[RELEVANT MEMORIES]\n")
	for i, m := range mems {
		fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, FormatAge(now.Sub(m.Timestamp)), m.Summary)
	}
	b.WriteString("[/RELEVANT MEMORIES]")
	return b.String()
}

// FormatAge renders d by its largest nonzero unit: "3d ago", "5h ago",
// otherwise minutes ("0m ago" included). Negative ages count as zero.
func FormatAge(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d >= 24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d/(24*time.Hour)))
	case d >= time.Hour:
		return fmt.Sprintf("%dh ago", int(d/time.Hour))
	default:
		return fmt.Sprintf("%dm ago", int(d/time.Minute))
	}
}
