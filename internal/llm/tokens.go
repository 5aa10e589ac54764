package llm

import (
	"sync"
	"sync/atomic"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encoderOnce sync.Once
	encoder     atomic.Pointer[tiktoken.Tiktoken]
)

// WarmEncoder loads the cl100k_base encoder and reports whether it is
// available. The first call may download the BPE ranks, so servers run
// it once at startup off the request path.
func WarmEncoder() bool {
	encoderOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoder.Store(enc)
		}
	})
	return encoder.Load() != nil
}

// EstimateTokens returns an approximate token count for text. It never
// loads the encoder itself; until [WarmEncoder] has succeeded the count
// is len/4.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	if enc := encoder.Load(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return (len(text) + 3) / 4
}

// EstimateMessages sums token estimates over a message list, adding a
// small per-message overhead for role framing.
func EstimateMessages(messages []Message) int {
	const perMessage = 4
	n := 0
	for _, m := range messages {
		n += perMessage + EstimateTokens(m.Content)
	}
	return n
}
