package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func enabledShell(t *testing.T) *Shell {
	t.Helper()
	cfg := DefaultShellConfig()
	cfg.Enabled = true
	return NewShell(cfg)
}

func TestShell_Basic(t *testing.T) {
	res, err := enabledShell(t).Exec(context.Background(), "echo hello")
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if res.ExitCode != 0 || res.Stdout != "hello\n" {
		t.Errorf("result = %+v", res)
	}
}

func TestShell_Disabled(t *testing.T) {
	_, err := NewShell(DefaultShellConfig()).Exec(context.Background(), "echo hello")
	if !errors.Is(err, ErrShellDisabled) {
		t.Fatalf("err = %v, want ErrShellDisabled", err)
	}
}

func TestShell_Policy(t *testing.T) {
	cfg := DefaultShellConfig()
	cfg.Enabled = true
	cfg.Allow = []string{"echo", "uptime"}
	sh := NewShell(cfg)

	tests := []struct {
		command string
		wantErr bool
	}{
		{"echo ok", false},
		{"/bin/echo ok", false},
		{"uptime", false},
		{"ls /", true},
		{"echo 'unterminated", true},
		{"echo x; RM -RF /", true},
		{"   ", true},
	}
	for _, tt := range tests {
		_, err := sh.Exec(context.Background(), tt.command)
		if (err != nil) != tt.wantErr {
			t.Errorf("Exec(%q) err = %v, wantErr %v", tt.command, err, tt.wantErr)
		}
	}
}

func TestShell_Timeout(t *testing.T) {
	cfg := DefaultShellConfig()
	cfg.Enabled = true
	cfg.Timeout = 200 * time.Millisecond
	res, err := NewShell(cfg).Exec(context.Background(), "sleep 5")
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if !res.TimedOut {
		t.Error("expected timeout")
	}
}

func TestShell_NonZeroExit(t *testing.T) {
	res, err := enabledShell(t).Exec(context.Background(), "echo oops >&2; exit 42")
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if res.ExitCode != 42 {
		t.Errorf("ExitCode = %d, want 42", res.ExitCode)
	}
	if res.Stderr != "oops\n" {
		t.Errorf("Stderr = %q", res.Stderr)
	}
}

func TestShell_OutputCap(t *testing.T) {
	cfg := DefaultShellConfig()
	cfg.Enabled = true
	cfg.MaxOutputBytes = 10
	res, err := NewShell(cfg).Exec(context.Background(), "printf '%050d' 0")
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if !strings.HasPrefix(res.Stdout, "0000000000\n") || !strings.Contains(res.Stdout, "truncated") {
		t.Errorf("Stdout = %q", res.Stdout)
	}
}

func TestShellResult_Format(t *testing.T) {
	tests := []struct {
		name string
		res  ShellResult
		want string
	}{
		{"empty", ShellResult{}, "(no output)"},
		{"stdout", ShellResult{Stdout: "up 3 days\n"}, "up 3 days"},
		{"all", ShellResult{Stdout: "a\n", Stderr: "b\n", ExitCode: 2}, "a\n[stderr]\nb\n[exit code 2]"},
		{"exit only", ShellResult{ExitCode: 1}, "[exit code 1]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.res.Format(); got != tt.want {
				t.Errorf("Format() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestShell_ToolThroughRegistry(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register(enabledShell(t).Tool()); err != nil {
		t.Fatal(err)
	}

	out, err := r.Run(context.Background(), SystemToolName, "echo hi")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "hi" {
		t.Errorf("out = %q, want hi", out)
	}

	cfg := DefaultShellConfig()
	cfg.Enabled = true
	cfg.Timeout = 100 * time.Millisecond
	if err := r.Register(NewShell(cfg).Tool()); err != nil {
		t.Fatal(err)
	}
	_, err = r.Run(context.Background(), SystemToolName, "sleep 5")
	var execErr *ExecError
	if !errors.As(err, &execErr) || !strings.Contains(err.Error(), "timed out") {
		t.Errorf("err = %v, want timeout ExecError", err)
	}
}
