package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/shlex"
)

// ScriptConfig configures script agents discovered on disk.
type ScriptConfig struct {
	Dir          string            `yaml:"agents_dir"`
	Interpreters map[string]string `yaml:"interpreters"` // extension (".py") -> command line
	Timeout      time.Duration     `yaml:"timeout"`
}

// DefaultInterpreters maps file extensions to the command used to run
// them.
func DefaultInterpreters() map[string]string {
	return map[string]string{
		".py": "python3",
		".sh": "sh",
	}
}

var (
	descAssign  = regexp.MustCompile(`(?m)^\s*DESCRIPTION\s*=\s*["']([^"'\n]+)["']`)
	descComment = regexp.MustCompile(`(?mi)^\s*(?:#|//)\s*description:\s*(.+?)\s*$`)
)

const descScanBytes = 4096

// ScriptRunner turns files in the agents directory into tools. Each
// file <name>.<ext> with a known extension becomes tool <name>.
type ScriptRunner struct {
	dir          string
	interpreters map[string][]string
	timeout      time.Duration
	logger       *slog.Logger

	mu     sync.Mutex
	synced map[string]bool // script tools currently registered by Sync
}

// NewScriptRunner validates the interpreter command lines.
func NewScriptRunner(cfg ScriptConfig, logger *slog.Logger) (*ScriptRunner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	interps := cfg.Interpreters
	if len(interps) == 0 {
		interps = DefaultInterpreters()
	}

	parsed := make(map[string][]string, len(interps))
	for ext, line := range interps {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		argv, err := shlex.Split(line)
		if err != nil {
			return nil, fmt.Errorf("interpreter for %s: %w", ext, err)
		}
		if len(argv) == 0 {
			return nil, fmt.Errorf("interpreter for %s is empty", ext)
		}
		parsed[strings.ToLower(ext)] = argv
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &ScriptRunner{
		dir:          cfg.Dir,
		interpreters: parsed,
		timeout:      timeout,
		logger:       logger,
		synced:       make(map[string]bool),
	}, nil
}

// Dir returns the agents directory.
func (s *ScriptRunner) Dir() string {
	return s.dir
}

// Scan lists the script tools currently present on disk, sorted by
// name. A missing directory yields no tools. When two files share a
// name the first extension in lexical order wins.
func (s *ScriptRunner) Scan() ([]*Tool, error) {
	if s.dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan agents dir: %w", err)
	}

	seen := make(map[string]bool)
	var out []*Tool
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		interp, ok := s.interpreters[ext]
		if !ok {
			continue
		}
		name := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		if !ValidName(name) || strings.HasPrefix(name, "_") || seen[name] {
			continue
		}
		seen[name] = true

		path := filepath.Join(s.dir, e.Name())
		out = append(out, &Tool{
			Name:        name,
			Description: readDescription(path),
			Source:      SourceScript,
			Handler:     s.handler(name, path, interp),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Sync rescans the directory and reconciles the registry: new scripts
// are registered, vanished ones removed. Native tools are never
// replaced by a script of the same name.
func (s *ScriptRunner) Sync(r *Registry) error {
	found, err := s.Scan()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := make(map[string]bool, len(found))
	for _, t := range found {
		if existing := r.Get(t.Name); existing != nil && existing.Source != SourceScript {
			s.logger.Warn("script agent shadowed by native tool", "tool", t.Name)
			continue
		}
		if err := r.Register(t); err != nil {
			s.logger.Warn("script agent not registered", "tool", t.Name, "error", err)
			continue
		}
		current[t.Name] = true
		if !s.synced[t.Name] {
			s.logger.Info("script agent registered", "tool", t.Name)
		}
	}

	for name := range s.synced {
		if !current[name] {
			r.Unregister(name)
			s.logger.Info("script agent removed", "tool", name)
		}
	}
	s.synced = current
	return nil
}

func (s *ScriptRunner) handler(name, path string, interp []string) Handler {
	return func(ctx context.Context, arg string) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		// The argument is one argv entry; it is never spliced into a
		// command line.
		argv := make([]string, 0, len(interp)+2)
		argv = append(argv, interp[1:]...)
		argv = append(argv, path, arg)

		cmd := exec.CommandContext(ctx, interp[0], argv...)
		cmd.Dir = s.dir
		cmd.WaitDelay = time.Second

		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				err = fmt.Errorf("timed out after %s", s.timeout)
			}
			return "", &ExecError{Tool: name, Err: err, Output: stderr.String()}
		}
		return strings.TrimSpace(stdout.String()), nil
	}
}

func readDescription(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	head, _ := io.ReadAll(io.LimitReader(f, descScanBytes))
	if m := descAssign.FindSubmatch(head); m != nil {
		return strings.TrimSpace(string(m[1]))
	}
	if m := descComment.FindSubmatch(head); m != nil {
		return strings.TrimSpace(string(m[1]))
	}
	return ""
}
