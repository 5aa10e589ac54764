// Package llm is SEL's language-model port and its OpenAI-compatible
// implementation. The default endpoint is OpenRouter, but any server
// speaking the chat completions API works.
package llm

import "context"

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one role-tagged entry of a model context.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Generator produces a completion for an ordered message list. A
// maxTokens <= 0 leaves the limit to the server.
type Generator interface {
	Generate(ctx context.Context, messages []Message, maxTokens int) (string, error)
}

// GeneratorFunc adapts a function to [Generator].
type GeneratorFunc func(ctx context.Context, messages []Message, maxTokens int) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, messages []Message, maxTokens int) (string, error) {
	return f(ctx, messages, maxTokens)
}

// Usage reports token counts for one completed request.
type Usage struct {
	Model        string
	InputTokens  int
	OutputTokens int
	// Estimated is set when the server omitted usage and the counts
	// come from the local tokenizer.
	Estimated bool
}

// UsageObserver receives usage after every successful request. ctx is
// the request context, so observers can read [ConversationFromContext].
type UsageObserver func(ctx context.Context, u Usage)

type conversationKey struct{}

// WithConversation tags ctx with the conversation a request serves.
func WithConversation(ctx context.Context, conversationID string) context.Context {
	return context.WithValue(ctx, conversationKey{}, conversationID)
}

// ConversationFromContext returns the tag set by [WithConversation].
func ConversationFromContext(ctx context.Context) string {
	id, _ := ctx.Value(conversationKey{}).(string)
	return id
}
