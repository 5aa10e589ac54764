package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), &out, &out, []string{"version"}); err != nil {
		t.Fatalf("run version: %v", err)
	}
	if !strings.HasPrefix(out.String(), "SEL ") || !strings.Contains(out.String(), "go_version:") {
		t.Errorf("version output = %q", out.String())
	}
}

func TestRun_VersionJSON(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), &out, &out, []string{"-o", "json", "version"}); err != nil {
		t.Fatalf("run version: %v", err)
	}
	var info map[string]string
	if err := json.Unmarshal(out.Bytes(), &info); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out.String())
	}
	if info["version"] == "" || info["os"] == "" {
		t.Errorf("info = %v", info)
	}
}

func TestRun_Usage(t *testing.T) {
	for _, args := range [][]string{nil, {"-h"}, {"--help"}} {
		var out bytes.Buffer
		if err := run(context.Background(), &out, &out, args); err != nil {
			t.Errorf("run(%v): %v", args, err)
		}
		if !strings.Contains(out.String(), "Usage: sel") {
			t.Errorf("run(%v) output = %q", args, out.String())
		}
	}
}

func TestRun_BadArgs(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"--bogus"}, "unknown flag"},
		{[]string{"dance"}, "unknown command"},
		{[]string{"-o", "yaml", "version"}, "unknown output format"},
		{[]string{"ask"}, "usage: sel ask"},
		{[]string{"-config", "/nonexistent/config.yaml", "ask", "hi"}, "config file not found"},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		err := run(context.Background(), &out, &out, tt.args)
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("run(%v) = %v, want error containing %q", tt.args, err, tt.want)
		}
	}
}

func completionServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "cmpl-1",
			"object":  "chat.completion",
			"model":   "test-model",
			"choices": []map[string]any{{"index": 0, "message": map[string]any{"role": "assistant", "content": content}, "finish_reason": "stop"}},
			"usage":   map[string]any{"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeTestConfig(t *testing.T, baseURL, extra string) string {
	t.Helper()
	dir := t.TempDir()
	body := fmt.Sprintf(`llm:
  base_url: %s/v1
  api_key: sk-test
memory:
  backend: none
tools:
  agents_dir: %s
data_dir: %s
log_level: error
%s`, baseURL, filepath.Join(dir, "agents"), filepath.Join(dir, "data"), extra)
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRun_Ask(t *testing.T) {
	srv := completionServer(t, "hi from sel")
	path := writeTestConfig(t, srv.URL, "")

	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), &stdout, &stderr, []string{"-config", path, "ask", "hello", "there"}); err != nil {
		t.Fatalf("run ask: %v\nstderr: %s", err, stderr.String())
	}
	if got := stdout.String(); got != "hi from sel\n" {
		t.Errorf("stdout = %q", got)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(path), "data", "usage.db")); err != nil {
		t.Errorf("usage ledger not created: %v", err)
	}
}

func TestRun_AskIgnored(t *testing.T) {
	srv := completionServer(t, "unused")
	path := writeTestConfig(t, srv.URL, "conversation:\n  whitelist: [general]\n")

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), &stdout, &stderr, []string{"-config", path, "ask", "hello"})
	if err == nil || !strings.Contains(err.Error(), "ignored") {
		t.Errorf("run ask = %v, want ignored error", err)
	}
}

func TestRun_AskInvalidConfig(t *testing.T) {
	srv := completionServer(t, "unused")
	path := writeTestConfig(t, srv.URL, "log_format: xml\n")

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), &stdout, &stderr, []string{"-config=" + path, "ask", "hello"})
	if err == nil || !strings.Contains(err.Error(), "invalid config") {
		t.Errorf("run ask = %v, want invalid config", err)
	}
}
