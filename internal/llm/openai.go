package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/sel-agent/sel/internal/httpkit"
)

// DefaultBaseURL is the OpenRouter API root.
const DefaultBaseURL = "https://openrouter.ai/api/v1"

// ErrEmptyCompletion is returned when the server answers without any
// usable text.
var ErrEmptyCompletion = errors.New("empty completion")

// Config selects an endpoint, model and sampling parameters.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	TopP        float64
	Timeout     time.Duration

	// Referer and Title are sent as HTTP-Referer and X-Title, which
	// OpenRouter uses for app attribution. Empty values are omitted.
	Referer string
	Title   string
}

// Client is a [Generator] backed by an OpenAI-compatible chat
// completions endpoint.
type Client struct {
	api    *openai.Client
	cfg    Config
	logger *slog.Logger

	onUsage UsageObserver
}

// NewClient creates a client. A zero Timeout selects two minutes.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}

	// Models can think for a long time before sending headers.
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = cfg.Timeout

	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	oc.HTTPClient = httpkit.NewClient(
		httpkit.WithTimeout(cfg.Timeout),
		httpkit.WithTransport(t),
		httpkit.WithHeader("HTTP-Referer", cfg.Referer),
		httpkit.WithHeader("X-Title", cfg.Title),
	)

	return &Client{
		api:    openai.NewClientWithConfig(oc),
		cfg:    cfg,
		logger: logger.With("model", cfg.Model),
	}
}

// OnUsage registers an observer for token usage. It must be called
// before the client is shared between goroutines.
func (c *Client) OnUsage(fn UsageObserver) {
	c.onUsage = fn
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.cfg.Model }

// Generate sends one non-streaming chat completion request.
func (c *Client) Generate(ctx context.Context, messages []Message, maxTokens int) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Messages:    toOpenAI(messages),
		Temperature: float32(c.cfg.Temperature),
		TopP:        float32(c.cfg.TopP),
	}
	if maxTokens > 0 {
		req.MaxTokens = maxTokens
	}

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("chat completion: status %d: %w", apiErr.HTTPStatusCode, err)
		}
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: no choices: %w", ErrEmptyCompletion)
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("chat completion: finish reason %q: %w",
			resp.Choices[0].FinishReason, ErrEmptyCompletion)
	}

	usage := Usage{
		Model:        c.cfg.Model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	if usage.InputTokens == 0 && usage.OutputTokens == 0 {
		usage.InputTokens = EstimateMessages(messages)
		usage.OutputTokens = EstimateTokens(content)
		usage.Estimated = true
	}

	c.logger.Debug("chat completion",
		"messages", len(messages),
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens,
		"estimated", usage.Estimated,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	if c.onUsage != nil {
		c.onUsage(ctx, usage)
	}

	return content, nil
}

func toOpenAI(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		out[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	return out
}
