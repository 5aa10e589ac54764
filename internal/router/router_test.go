package router

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/sel-agent/sel/internal/llm"
	"github.com/sel-agent/sel/internal/prompts"
)

// fakeClassifier records calls and answers with a fixed reply.
type fakeClassifier struct {
	answer string
	err    error
	panics bool

	calls     int
	lastMsgs  []llm.Message
	lastLimit int
}

func (f *fakeClassifier) Generate(_ context.Context, msgs []llm.Message, maxTokens int) (string, error) {
	f.calls++
	f.lastMsgs = msgs
	f.lastLimit = maxTokens
	if f.panics {
		panic("boom")
	}
	return f.answer, f.err
}

func newTestDetector(c llm.Generator, approved string) *Detector {
	return NewDetector(slog.New(slog.NewTextHandler(io.Discard, nil)), c, Config{
		ApprovedSenderID: approved,
		MaxAuditLog:      3,
	})
}

func TestDetect_Priority(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		wantPath Path
		wantTool string
		wantArg  string
	}{
		{"explicit with arg", "agent:browser search cats", PathExplicit, "browser", "search cats"},
		{"explicit no arg", "agent:ping", PathExplicit, "ping", ""},
		{"explicit keeps extra spaces", "agent:echo  two  spaces", PathExplicit, "echo", " two  spaces"},
		{"bash shortcut", "bash ls -la", PathShortcut, "system_agent", "ls -la"},
		{"run command shortcut", "run command df -h", PathShortcut, "system_agent", "df -h"},
		{"explicit beats shortcut", "agent:system_agent bash ls", PathExplicit, "system_agent", "bash ls"},
		{"shortcut strips once", "bash bash ls", PathShortcut, "system_agent", "bash ls"},
		{"empty name", "agent: hello", PathExplicit, "", "hello"},
		{"bare prefix", "agent:", PathExplicit, "", ""},
		{"prefix must lead", "please bash ls", PathNone, "", ""},
		{"case sensitive", "Bash ls", PathNone, "", ""},
		{"plain text", "how are you?", PathNone, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &fakeClassifier{answer: "system"}
			d := newTestDetector(c, "owner")

			got := d.Detect(context.Background(), "stranger", tt.text)
			if got.Path != tt.wantPath || got.Tool != tt.wantTool || got.Arg != tt.wantArg {
				t.Errorf("Detect(%q) = (%s, %q, %q), want (%s, %q, %q)",
					tt.text, got.Path, got.Tool, got.Arg, tt.wantPath, tt.wantTool, tt.wantArg)
			}
			if c.calls != 0 {
				t.Errorf("classifier called %d times for non-approved sender", c.calls)
			}
		})
	}
}

func TestDetect_PrefixesSkipClassifier(t *testing.T) {
	c := &fakeClassifier{answer: "normal"}
	d := newTestDetector(c, "owner")

	for _, text := range []string{"agent:system_agent check disk space", "bash df -h", "run command uptime"} {
		if dec := d.Detect(context.Background(), "owner", text); !dec.Matched() || !dec.Prefixed() {
			t.Errorf("Detect(%q) = %+v, want prefixed match", text, dec)
		}
	}
	if c.calls != 0 {
		t.Errorf("classifier called %d times, want 0", c.calls)
	}
}

func TestDetect_Classifier(t *testing.T) {
	tests := []struct {
		name     string
		answer   string
		err      error
		panics   bool
		wantTool string
	}{
		{"system", "system", nil, false, "system_agent"},
		{"system padded and cased", "  System\n", nil, false, "system_agent"},
		{"normal", "normal", nil, false, ""},
		{"chatty answer", "system, probably", nil, false, ""},
		{"error", "", errors.New("timeout"), false, ""},
		{"panic", "", nil, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &fakeClassifier{answer: tt.answer, err: tt.err, panics: tt.panics}
			d := newTestDetector(c, "owner")

			text := "can you check how much disk is left"
			got := d.Detect(context.Background(), "owner", text)

			if c.calls != 1 {
				t.Fatalf("classifier calls = %d, want 1", c.calls)
			}
			if got.Tool != tt.wantTool {
				t.Errorf("Tool = %q, want %q", got.Tool, tt.wantTool)
			}
			if tt.wantTool != "" {
				if got.Path != PathClassifier || got.Arg != text {
					t.Errorf("decision = %+v, want classifier path with whole message", got)
				}
				if got.Prefixed() {
					t.Error("classifier decision reported as prefixed")
				}
			}
			if (tt.err != nil || tt.panics) && got.ClassifierError == "" {
				t.Error("ClassifierError not recorded")
			}
		})
	}
}

func TestDetect_ClassifierRequest(t *testing.T) {
	c := &fakeClassifier{answer: "normal"}
	d := newTestDetector(c, "owner")
	d.Detect(context.Background(), "owner", "hello")

	if c.lastLimit != 10 {
		t.Errorf("max tokens = %d, want 10", c.lastLimit)
	}
	if len(c.lastMsgs) != 2 ||
		c.lastMsgs[0] != (llm.Message{Role: llm.RoleSystem, Content: prompts.ClassifierPrompt()}) ||
		c.lastMsgs[1] != (llm.Message{Role: llm.RoleUser, Content: "hello"}) {
		t.Errorf("classifier messages = %+v", c.lastMsgs)
	}
}

func TestDetect_ClassifierGate(t *testing.T) {
	t.Run("empty approved id", func(t *testing.T) {
		c := &fakeClassifier{answer: "system"}
		d := newTestDetector(c, "")
		if dec := d.Detect(context.Background(), "", "check disk"); dec.Matched() {
			t.Errorf("matched with empty approved id: %+v", dec)
		}
		if c.calls != 0 {
			t.Errorf("classifier called %d times", c.calls)
		}
	})

	t.Run("nil classifier", func(t *testing.T) {
		d := newTestDetector(nil, "owner")
		if dec := d.Detect(context.Background(), "owner", "check disk"); dec.Matched() {
			t.Errorf("matched without classifier: %+v", dec)
		}
	})
}

func TestAuditLogAndStats(t *testing.T) {
	c := &fakeClassifier{err: errors.New("down")}
	d := newTestDetector(c, "owner")
	ctx := context.Background()

	d.Detect(ctx, "u", "agent:ping")
	d.Detect(ctx, "u", "bash ls")
	d.Detect(ctx, "u", "hi")
	d.Detect(ctx, "owner", "hi")

	log := d.AuditLog(0)
	if len(log) != 3 {
		t.Fatalf("audit log len = %d, want 3 (capped)", len(log))
	}
	if log[0].Path != PathShortcut || log[2].SenderID != "owner" {
		t.Errorf("audit log = %+v", log)
	}
	if last := d.AuditLog(1); len(last) != 1 || last[0].SenderID != "owner" {
		t.Errorf("AuditLog(1) = %+v", last)
	}

	s := d.Stats()
	if s.Total != 4 || s.ByPath[PathNone] != 2 || s.ByPath[PathExplicit] != 1 || s.ClassifierErrors != 1 {
		t.Errorf("stats = %+v", s)
	}
	s.ByPath[PathNone] = 99
	if d.Stats().ByPath[PathNone] != 2 {
		t.Error("Stats() returned shared map")
	}
}
