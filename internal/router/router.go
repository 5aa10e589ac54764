// Package router decides whether an inbound message is a tool
// invocation. Syntactic forms are checked first and cost nothing; the
// model-backed classifier runs only for the single approved sender.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sel-agent/sel/internal/llm"
	"github.com/sel-agent/sel/internal/prompts"
)

// Invocation syntax.
const (
	ExplicitPrefix    = "agent:"
	DefaultSystemTool = "system_agent"

	// classifierMaxTokens bounds the one-word classifier answer.
	classifierMaxTokens = 10
)

// ShortcutPrefixes route straight to the system tool. Only the first
// matching prefix is stripped.
var ShortcutPrefixes = []string{"bash ", "run command "}

// Path names how a decision was reached.
type Path string

const (
	PathNone       Path = "none"
	PathExplicit   Path = "explicit"
	PathShortcut   Path = "shortcut"
	PathClassifier Path = "classifier"
)

// Decision is the outcome of inspecting one message. Path is PathNone
// when the message should go to the language model.
type Decision struct {
	Timestamp time.Time `json:"timestamp"`
	SenderID  string    `json:"sender_id"`
	Path      Path      `json:"path"`
	Tool      string    `json:"tool,omitempty"`
	Arg       string    `json:"arg,omitempty"`

	// Classifier details, set only when the classifier ran.
	ClassifierAnswer string        `json:"classifier_answer,omitempty"`
	ClassifierError  string        `json:"classifier_error,omitempty"`
	ClassifierTime   time.Duration `json:"classifier_time,omitempty"`
}

// Matched reports whether the message is a tool invocation. An explicit
// invocation with an empty name still matches and fails at lookup.
func (d Decision) Matched() bool { return d.Path != PathNone }

// Prefixed reports whether the decision came from a syntactic prefix.
func (d Decision) Prefixed() bool {
	return d.Path == PathExplicit || d.Path == PathShortcut
}

// Config holds detector configuration.
type Config struct {
	// ApprovedSenderID is the only sender whose plain messages are sent
	// to the classifier. Empty disables the classifier entirely.
	ApprovedSenderID string
	SystemTool       string // default "system_agent"
	MaxAuditLog      int    // decisions kept in memory, default 200
}

// Stats counts decisions by path.
type Stats struct {
	Total            int64          `json:"total"`
	ByPath           map[Path]int64 `json:"by_path"`
	ClassifierErrors int64          `json:"classifier_errors"`
}

// Detector resolves messages to tool invocations.
type Detector struct {
	logger     *slog.Logger
	classifier llm.Generator
	config     Config

	mu       sync.RWMutex
	auditLog []Decision
	stats    Stats
}

// NewDetector creates a detector. classifier may be nil, which
// disables the classifier path.
func NewDetector(logger *slog.Logger, classifier llm.Generator, config Config) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	if config.SystemTool == "" {
		config.SystemTool = DefaultSystemTool
	}
	if config.MaxAuditLog <= 0 {
		config.MaxAuditLog = 200
	}
	return &Detector{
		logger:     logger,
		classifier: classifier,
		config:     config,
		auditLog:   make([]Decision, 0, config.MaxAuditLog),
		stats:      Stats{ByPath: make(map[Path]int64)},
	}
}

// Detect inspects text from senderID. It never fails: classifier
// errors are logged at debug and yield no tool.
func (d *Detector) Detect(ctx context.Context, senderID, text string) Decision {
	dec := Decision{Timestamp: time.Now(), SenderID: senderID, Path: PathNone}

	if name, arg, ok := ParseExplicit(text); ok {
		dec.Path, dec.Tool, dec.Arg = PathExplicit, name, arg
	} else if arg, ok := ParseShortcut(text); ok {
		dec.Path, dec.Tool, dec.Arg = PathShortcut, d.config.SystemTool, arg
	} else if d.classifierAllowed(senderID) {
		d.classify(ctx, text, &dec)
	}

	d.record(dec)
	if dec.Matched() {
		d.logger.Info("tool invocation detected",
			"path", dec.Path,
			"tool", dec.Tool,
			"sender", senderID,
		)
	}
	return dec
}

func (d *Detector) classifierAllowed(senderID string) bool {
	return d.classifier != nil &&
		d.config.ApprovedSenderID != "" &&
		senderID == d.config.ApprovedSenderID
}

func (d *Detector) classify(ctx context.Context, text string, dec *Decision) {
	start := time.Now()
	answer, err := safeGenerate(ctx, d.classifier, []llm.Message{
		{Role: llm.RoleSystem, Content: prompts.ClassifierPrompt()},
		{Role: llm.RoleUser, Content: text},
	})
	dec.ClassifierTime = time.Since(start)

	if err != nil {
		dec.ClassifierError = err.Error()
		d.logger.Debug("classifier failed, treating as normal", "error", err)
		return
	}

	dec.ClassifierAnswer = strings.ToLower(strings.TrimSpace(answer))
	if dec.ClassifierAnswer == prompts.ClassSystem {
		dec.Path, dec.Tool, dec.Arg = PathClassifier, d.config.SystemTool, text
	}
}

// safeGenerate shields the detector from a panicking generator.
func safeGenerate(ctx context.Context, g llm.Generator, msgs []llm.Message) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("classifier panic: %v", r)
		}
	}()
	return g.Generate(ctx, msgs, classifierMaxTokens)
}

// ParseExplicit recognizes "agent:<name>[ <arg>]". The name runs up to
// the first space and may be empty; everything after that single space
// is the argument.
func ParseExplicit(text string) (name, arg string, ok bool) {
	rest, found := strings.CutPrefix(text, ExplicitPrefix)
	if !found {
		return "", "", false
	}
	name, arg, _ = strings.Cut(rest, " ")
	return name, arg, true
}

// ParseShortcut recognizes the shell shortcuts and returns the text
// after the first matching prefix.
func ParseShortcut(text string) (arg string, ok bool) {
	for _, p := range ShortcutPrefixes {
		if rest, found := strings.CutPrefix(text, p); found {
			return rest, true
		}
	}
	return "", false
}

func (d *Detector) record(dec Decision) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.auditLog) >= d.config.MaxAuditLog {
		d.auditLog = d.auditLog[1:]
	}
	d.auditLog = append(d.auditLog, dec)

	d.stats.Total++
	d.stats.ByPath[dec.Path]++
	if dec.ClassifierError != "" {
		d.stats.ClassifierErrors++
	}
}

// AuditLog returns up to limit of the most recent decisions, oldest
// first. limit <= 0 returns all held decisions.
func (d *Detector) AuditLog(limit int) []Decision {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if limit <= 0 || limit > len(d.auditLog) {
		limit = len(d.auditLog)
	}
	out := make([]Decision, limit)
	copy(out, d.auditLog[len(d.auditLog)-limit:])
	return out
}

// Stats returns a copy of the decision counters.
func (d *Detector) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	s := d.stats
	s.ByPath = make(map[Path]int64, len(d.stats.ByPath))
	for k, v := range d.stats.ByPath {
		s.ByPath[k] = v
	}
	return s
}
