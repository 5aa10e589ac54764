package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/shlex"
)

// SystemToolName is the tool the shortcut prefixes and the classifier
// route to.
const SystemToolName = "system_agent"

// ErrShellDisabled is returned by [Shell.Exec] when shell execution has
// not been enabled in config.
var ErrShellDisabled = errors.New("shell execution is disabled")

const maxShellTimeout = 5 * time.Minute

// ShellConfig configures the system_agent tool.
type ShellConfig struct {
	Enabled        bool          `yaml:"enabled"`
	WorkingDir     string        `yaml:"working_dir"`
	Allow          []string      `yaml:"allow"` // command names; empty allows all
	Deny           []string      `yaml:"deny"`  // substrings, case-insensitive
	Timeout        time.Duration `yaml:"timeout"`
	MaxOutputBytes int           `yaml:"max_output_bytes"`
}

// DefaultShellConfig returns a disabled shell with the stock deny list.
func DefaultShellConfig() ShellConfig {
	return ShellConfig{
		Deny: []string{
			"rm -rf /",
			"rm -rf /*",
			"mkfs",
			"dd if=",
			"> /dev/sd",
			"chmod -R 777 /",
			":(){ :|:& };:",
			"shutdown",
			"reboot",
		},
		Timeout:        30 * time.Second,
		MaxOutputBytes: 16 * 1024,
	}
}

// Shell runs commands through sh -c, subject to the allow and deny
// lists.
type Shell struct {
	cfg ShellConfig
}

// NewShell creates a shell executor. Zero timeouts and output caps take
// the defaults.
func NewShell(cfg ShellConfig) *Shell {
	def := DefaultShellConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Timeout > maxShellTimeout {
		cfg.Timeout = maxShellTimeout
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = def.MaxOutputBytes
	}
	return &Shell{cfg: cfg}
}

// Enabled reports whether commands will run.
func (s *Shell) Enabled() bool {
	return s.cfg.Enabled
}

// ShellResult is the outcome of one command.
type ShellResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
	TimedOut bool   `json:"timed_out,omitempty"`
}

// Format renders the result as chat text: stdout, then stderr, then a
// trailing exit code when it is not zero.
func (r *ShellResult) Format() string {
	var parts []string
	if out := strings.TrimRight(r.Stdout, "\n"); out != "" {
		parts = append(parts, out)
	}
	if errOut := strings.TrimRight(r.Stderr, "\n"); errOut != "" {
		parts = append(parts, "[stderr]\n"+errOut)
	}
	if r.ExitCode != 0 {
		parts = append(parts, fmt.Sprintf("[exit code %d]", r.ExitCode))
	}
	if len(parts) == 0 {
		return "(no output)"
	}
	return strings.Join(parts, "\n")
}

// check applies the deny and allow lists.
func (s *Shell) check(command string) error {
	lower := strings.ToLower(command)
	for _, denied := range s.cfg.Deny {
		if denied != "" && strings.Contains(lower, strings.ToLower(denied)) {
			return fmt.Errorf("command blocked by policy: matches %q", denied)
		}
	}

	if len(s.cfg.Allow) == 0 {
		return nil
	}
	words, err := shlex.Split(command)
	if err != nil {
		return fmt.Errorf("parse command: %w", err)
	}
	if len(words) == 0 {
		return errors.New("empty command")
	}
	name := filepath.Base(words[0])
	for _, allowed := range s.cfg.Allow {
		if name == allowed {
			return nil
		}
	}
	return fmt.Errorf("command %q not in allow list", name)
}

// Exec runs command. A non-zero exit is reported in the result, not as
// an error; timeouts set TimedOut.
func (s *Shell) Exec(ctx context.Context, command string) (*ShellResult, error) {
	if !s.cfg.Enabled {
		return nil, ErrShellDisabled
	}
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, errors.New("empty command")
	}
	if err := s.check(command); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = s.cfg.WorkingDir
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := &ShellResult{
		Stdout: truncateOutput(stdout.String(), s.cfg.MaxOutputBytes),
		Stderr: truncateOutput(stderr.String(), s.cfg.MaxOutputBytes),
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		result.TimedOut = true
		result.ExitCode = -1
		return result, nil
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("run command: %w", err)
		}
		result.ExitCode = exitErr.ExitCode()
	}
	return result, nil
}

// Tool exposes the shell as system_agent.
func (s *Shell) Tool() *Tool {
	return &Tool{
		Name:        SystemToolName,
		Description: "Run a shell command on the host and return its output",
		Source:      SourceNative,
		Handler: func(ctx context.Context, arg string) (string, error) {
			res, err := s.Exec(ctx, arg)
			if err != nil {
				return "", err
			}
			if res.TimedOut {
				return "", &ExecError{
					Tool:   SystemToolName,
					Err:    fmt.Errorf("command timed out after %s", s.cfg.Timeout),
					Output: res.Stderr,
				}
			}
			return res.Format(), nil
		},
	}
}

func truncateOutput(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	return s[:maxBytes] + "\n[... output truncated ...]"
}
