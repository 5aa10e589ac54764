package agent

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/sel-agent/sel/internal/router"
)

// Salience weights.
const (
	salienceBase      = 0.3
	salienceQuestion  = 0.1
	saliencePrefix    = 0.2
	salienceLongReply = 0.1
	salienceKeyword   = 0.15
	longReplyChars    = 500
)

var salienceKeywords = []string{"remember", "important", "don't forget", "always", "never"}

// Salience scores how worth remembering an exchange is, in [0.3, 1].
func Salience(text, reply string) float64 {
	s := salienceBase
	if strings.Contains(text, "?") {
		s += salienceQuestion
	}
	if hasInvocationPrefix(text) {
		s += saliencePrefix
	}
	if utf8.RuneCountInString(reply) > longReplyChars {
		s += salienceLongReply
	}
	lower := strings.ToLower(text)
	for _, kw := range salienceKeywords {
		if strings.Contains(lower, kw) {
			s += salienceKeyword
			break
		}
	}
	return min(s, 1.0)
}

func hasInvocationPrefix(text string) bool {
	if strings.HasPrefix(text, router.ExplicitPrefix) {
		return true
	}
	_, ok := router.ParseShortcut(text)
	return ok
}

const (
	summaryMaxRunes = 100
	summaryCutRunes = 97
)

// Summary is the one-line memory title: "{sender}: {text}", with text
// longer than 100 runes cut to 97 plus "...".
func Summary(sender, text string) string {
	if utf8.RuneCountInString(text) > summaryMaxRunes {
		text = string([]rune(text)[:summaryCutRunes]) + "..."
	}
	return sender + ": " + text
}

// Content is the full exchange as stored in memory.
func Content(sender, text, agentName, reply string) string {
	return sender + ": " + text + "\n" + agentName + ": " + reply
}

// FrameImage applies the IMAGE: convention to a tool result. When the
// result starts with "IMAGE:" and has more than one line, the first
// line is returned separately as image metadata and removed from the
// text. Anything else is returned verbatim.
func FrameImage(result string) (text, image string) {
	if !strings.HasPrefix(result, "IMAGE:") {
		return result, ""
	}
	first, rest, found := strings.Cut(result, "\n")
	if !found {
		return result, ""
	}
	return rest, first
}

// pendingWrites tracks in-flight memory writes.
type pendingWrites struct {
	wg sync.WaitGroup
}

// storeAsync writes the exchange to memory without blocking the reply.
// The write gets its own deadline and outlives cancellation of the
// turn's context.
func (o *Orchestrator) storeAsync(ctx context.Context, log *slog.Logger, streamID, content, summary string, salience float64) {
	wctx := context.WithoutCancel(ctx)
	o.pending.wg.Add(1)
	go func() {
		defer o.pending.wg.Done()

		ctx, cancel := context.WithTimeout(wctx, o.cfg.MemoryWriteTimeout)
		defer cancel()

		var err error
		func() {
			defer recoverInto(&err, "memory store")
			err = o.memory.Store(ctx, streamID, content, summary, salience)
		}()
		if err != nil {
			o.stats.memoryErrors.Add(1)
			log.Warn("memory write failed", "error", err)
			return
		}
		log.Debug("memory written", "salience", salience)
	}()
}

// Wait blocks until every pending memory write has finished.
func (o *Orchestrator) Wait() {
	o.pending.wg.Wait()
}
