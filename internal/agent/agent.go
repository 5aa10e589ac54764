// Package agent is SEL's conversation orchestrator. It owns every
// conversation's affect model and history, routes each inbound message
// to a tool or the language model, and records the exchange in
// long-term memory.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sel-agent/sel/internal/affect"
	"github.com/sel-agent/sel/internal/history"
	"github.com/sel-agent/sel/internal/llm"
	"github.com/sel-agent/sel/internal/memory"
	"github.com/sel-agent/sel/internal/presence"
	"github.com/sel-agent/sel/internal/prompts"
	"github.com/sel-agent/sel/internal/router"
	"github.com/sel-agent/sel/internal/tools"
)

// Fallback replies used when a collaborator fails.
const (
	FallbackThinking  = "I'm having trouble thinking right now..."
	agentFailedFormat = "❌ Agent failed: %v"
)

// Defaults for [Config] zero values.
const (
	DefaultAgentName          = "SEL"
	DefaultMaxReplyTokens     = 1000
	DefaultMemoryWriteTimeout = 30 * time.Second
	DefaultPresenceLimit      = 10
)

// Config is the orchestrator's static configuration.
type Config struct {
	AgentName         string
	SelfID            string   // sender id of the agent's own account
	ChannelWhitelist  []string // empty allows every conversation
	HistoryLimit      int
	MemoryRecallLimit int
	DecayRatePerHour  float64
	MaxReplyTokens    int
	PresenceLimit     int
	Location          *time.Location // for the time block; nil is UTC
	// IdleTTL is how long an untouched conversation is kept. Zero or negative
	// keeps conversations forever.
	IdleTTL            time.Duration
	MemoryWriteTimeout time.Duration
	// Persona is the system prompt. Empty builds the default persona
	// from AgentName and the registered tools.
	Persona string
}

// Deps are the orchestrator's collaborators. LLM, Tools and Detector
// are required; Memory and Presence may be nil.
type Deps struct {
	LLM      llm.Generator
	Memory   memory.Store
	Tools    tools.Executor
	Detector *router.Detector
	Presence presence.Provider
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Inbound is one message from the transport.
type Inbound struct {
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	SenderName     string `json:"sender_name"`
	Text           string `json:"text"`
	IsFromSelf     bool   `json:"is_from_self,omitempty"`
}

// Reply is what the transport should deliver.
type Reply struct {
	ConversationID string `json:"conversation_id"`
	TurnID         string `json:"turn_id"`
	Text           string `json:"text"`
	// Image is the out-of-band first line of an IMAGE: tool result.
	Image string `json:"image,omitempty"`
	// Tool names the tool that produced the reply, if any.
	Tool string `json:"tool,omitempty"`
	// Fallback is set when Text is a failure template.
	Fallback bool `json:"fallback,omitempty"`
}

// Orchestrator processes turns. Safe for concurrent use; turns for the
// same conversation are serialized.
type Orchestrator struct {
	logger   *slog.Logger
	cfg      Config
	llm      llm.Generator
	memory   memory.Store
	tools    tools.Executor
	detector *router.Detector
	presence presence.Provider
	now      func() time.Time

	whitelist map[string]bool
	convs     *store
	stats     *counters
	pending   pendingWrites
}

// New creates an orchestrator.
func New(logger *slog.Logger, cfg Config, deps Deps) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.AgentName == "" {
		cfg.AgentName = DefaultAgentName
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = history.DefaultLimit
	}
	if cfg.DecayRatePerHour <= 0 {
		cfg.DecayRatePerHour = affect.DefaultDecayRate
	}
	if cfg.MaxReplyTokens <= 0 {
		cfg.MaxReplyTokens = DefaultMaxReplyTokens
	}
	if cfg.PresenceLimit <= 0 {
		cfg.PresenceLimit = DefaultPresenceLimit
	}
	if cfg.MemoryWriteTimeout <= 0 {
		cfg.MemoryWriteTimeout = DefaultMemoryWriteTimeout
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if deps.Memory == nil {
		deps.Memory = memory.Nop{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Detector == nil {
		deps.Detector = router.NewDetector(logger, nil, router.Config{})
	}

	whitelist := make(map[string]bool, len(cfg.ChannelWhitelist))
	for _, id := range cfg.ChannelWhitelist {
		whitelist[id] = true
	}

	return &Orchestrator{
		logger:    logger,
		cfg:       cfg,
		llm:       deps.LLM,
		memory:    deps.Memory,
		tools:     deps.Tools,
		detector:  deps.Detector,
		presence:  deps.Presence,
		now:       deps.Now,
		whitelist: whitelist,
		convs:     newStore(),
		stats:     newCounters(),
	}
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// accepts applies the self and whitelist filters.
func (o *Orchestrator) accepts(in Inbound) bool {
	if in.IsFromSelf || (o.cfg.SelfID != "" && in.SenderID == o.cfg.SelfID) {
		return false
	}
	return len(o.whitelist) == 0 || o.whitelist[in.ConversationID]
}

// HandleMessage runs one turn. The bool is false when the message was
// ignored (self message or conversation not whitelisted); no state is
// touched in that case. Otherwise a reply is always produced.
func (o *Orchestrator) HandleMessage(ctx context.Context, in Inbound) (Reply, bool) {
	if !o.accepts(in) {
		o.stats.ignored.Add(1)
		return Reply{}, false
	}

	turnID := newTurnID()
	log := o.logger.With("conversation", in.ConversationID, "turn", turnID)
	ctx = llm.WithConversation(ctx, in.ConversationID)
	start := o.now()

	conv := o.convs.acquire(in.ConversationID, func() *conversation {
		return newConversation(in.ConversationID, o.cfg.HistoryLimit, o.cfg.DecayRatePerHour, start)
	})

	conv.history.Append(in.SenderName, in.Text, false)
	conv.affect.Decay(start)

	reply := Reply{ConversationID: in.ConversationID, TurnID: turnID}
	var memCount int

	dec := o.detector.Detect(ctx, in.SenderID, in.Text)
	if dec.Matched() {
		reply.Tool = dec.Tool
		out, err := o.runTool(ctx, dec.Tool, dec.Arg)
		if err != nil {
			log.Warn("agent failed", "tool", dec.Tool, "path", dec.Path, "error", err)
			reply.Text = fmt.Sprintf(agentFailedFormat, err)
			reply.Fallback = true
		} else {
			reply.Text, reply.Image = FrameImage(out)
		}
	} else {
		mems, err := o.retrieve(ctx, in.SenderID, in.Text)
		if err != nil {
			log.Warn("memory retrieve failed, continuing without memories", "error", err)
			mems = nil
		}
		memCount = len(mems)

		msgs := prompts.Assemble(prompts.Input{
			Persona:     o.persona(),
			Affect:      conv.affect.Render(),
			Now:         start,
			Location:    o.cfg.Location,
			Presence:    o.presenceContext(),
			Memories:    mems,
			RecallLimit: o.cfg.MemoryRecallLimit,
			History:     conv.history.Recent(),
			Author:      in.SenderName,
			Text:        in.Text,
		})

		text, err := o.generate(ctx, msgs)
		if err != nil {
			log.Error("language model failed", "error", err)
			text = FallbackThinking
			reply.Fallback = true
		}
		reply.Text = text
	}

	end := o.now()
	conv.history.Append(o.cfg.AgentName, reply.Text, true)
	conv.affect.ApplyEvent(end, affect.SentimentOf(in.Text), memCount == 0)
	mood := conv.affect.Summarize()
	o.convs.release(conv, end)

	// Everything the write needs is computed while the turn still owns
	// the conversation.
	salience := Salience(in.Text, reply.Text)
	summary := Summary(in.SenderName, in.Text)
	content := Content(in.SenderName, in.Text, o.cfg.AgentName, reply.Text)
	o.storeAsync(ctx, log, in.SenderID, content, summary, salience)

	o.stats.turn(end.In(o.cfg.Location), dec.Path, reply.Fallback, mood)
	log.Info("turn complete",
		"path", dec.Path,
		"tool", reply.Tool,
		"memories", memCount,
		"mood", mood,
		"salience", salience,
		"fallback", reply.Fallback,
		"elapsed", end.Sub(start).Round(time.Millisecond),
	)
	return reply, true
}

func (o *Orchestrator) persona() string {
	if o.cfg.Persona != "" {
		return o.cfg.Persona
	}
	var docs []prompts.ToolDoc
	if lister, ok := o.tools.(interface{ List() []tools.Tool }); ok {
		for _, t := range lister.List() {
			docs = append(docs, prompts.ToolDoc{Name: t.Name, Description: t.Description})
		}
	}
	return prompts.Persona(o.cfg.AgentName, docs)
}

func (o *Orchestrator) presenceContext() (out string) {
	if o.presence == nil {
		return ""
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Warn("presence provider panicked", "panic", r)
			out = ""
		}
	}()
	return o.presence.RenderContext(o.cfg.PresenceLimit)
}

func (o *Orchestrator) runTool(ctx context.Context, name, arg string) (out string, err error) {
	if o.tools == nil {
		return "", &tools.NotFoundError{Name: name}
	}
	defer recoverInto(&err, "tool executor")
	return o.tools.Run(ctx, name, arg)
}

func (o *Orchestrator) retrieve(ctx context.Context, streamID, query string) (mems []memory.Memory, err error) {
	defer recoverInto(&err, "memory retrieve")
	return o.memory.Retrieve(ctx, streamID, query)
}

func (o *Orchestrator) generate(ctx context.Context, msgs []llm.Message) (out string, err error) {
	if o.llm == nil {
		return "", fmt.Errorf("no language model configured")
	}
	defer recoverInto(&err, "language model")
	return o.llm.Generate(ctx, msgs, o.cfg.MaxReplyTokens)
}

// recoverInto turns a collaborator panic into an error.
func recoverInto(err *error, what string) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%s panic: %v", what, r)
	}
}

func newTurnID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
