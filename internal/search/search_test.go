package search

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type mockProvider struct {
	name    string
	results []Result
	err     error
	calls   int
	gotOpts Options
}

func (m *mockProvider) Name() string { return m.name }
func (m *mockProvider) Search(_ context.Context, _ string, opts Options) ([]Result, error) {
	m.calls++
	m.gotOpts = opts
	return m.results, m.err
}

func TestManager_PrimaryFirst(t *testing.T) {
	mgr := NewManager("brave", nil)
	sx := &mockProvider{name: "searxng", results: []Result{{Title: "SearXNG"}}}
	br := &mockProvider{name: "brave", results: []Result{{Title: "Brave"}}}
	mgr.Register(sx)
	mgr.Register(br)

	if got := mgr.Providers(); strings.Join(got, ",") != "brave,searxng" {
		t.Errorf("Providers() = %v", got)
	}

	results, err := mgr.Search(context.Background(), "q", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Title != "Brave" || sx.calls != 0 {
		t.Errorf("results = %+v, searxng calls = %d", results, sx.calls)
	}
}

func TestManager_FallsBack(t *testing.T) {
	mgr := NewManager("", nil)
	first := &mockProvider{name: "a", err: errors.New("down")}
	second := &mockProvider{name: "b", results: []Result{{Title: "B"}}}
	mgr.Register(first)
	mgr.Register(second)

	results, err := mgr.Search(context.Background(), "q", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Title != "B" {
		t.Errorf("results = %+v", results)
	}
}

func TestManager_AllFail(t *testing.T) {
	mgr := NewManager("", nil)
	mgr.Register(&mockProvider{name: "a", err: errors.New("first down")})
	mgr.Register(&mockProvider{name: "b", err: errors.New("second down")})

	_, err := mgr.Search(context.Background(), "q", Options{})
	if err == nil || !strings.Contains(err.Error(), "first down") || !strings.Contains(err.Error(), "second down") {
		t.Errorf("err = %v", err)
	}
}

func TestManager_Unconfigured(t *testing.T) {
	mgr := NewManager("missing", nil)
	if mgr.Configured() {
		t.Error("empty manager reports configured")
	}
	if _, err := mgr.Search(context.Background(), "q", Options{}); !errors.Is(err, ErrNoProviders) {
		t.Errorf("err = %v, want ErrNoProviders", err)
	}
}

func TestManager_DefaultCount(t *testing.T) {
	mgr := FromConfig(Config{Count: 3}, nil)
	p := &mockProvider{name: "m"}
	mgr.Register(p)
	if _, err := mgr.Search(context.Background(), "q", Options{}); err != nil {
		t.Fatal(err)
	}
	if p.gotOpts.Count != 3 {
		t.Errorf("Count = %d, want 3", p.gotOpts.Count)
	}
}

func TestFromConfig(t *testing.T) {
	mgr := FromConfig(Config{
		Primary: "brave",
		SearXNG: SearXNGConfig{URL: "http://localhost:8888"},
		Brave:   BraveConfig{APIKey: "k"},
	}, nil)
	if got := strings.Join(mgr.Providers(), ","); got != "brave,searxng" {
		t.Errorf("Providers() = %q", got)
	}
	if FromConfig(Config{}, nil).Configured() {
		t.Error("empty config should configure nothing")
	}
}

func TestFormatResults(t *testing.T) {
	out := FormatResults([]Result{
		{Title: "First", URL: "https://a.com", Snippet: "Snippet A"},
		{Title: "Second", URL: "https://b.com"},
	})
	want := "1. First\n   https://a.com\n   Snippet A\n\n2. Second\n   https://b.com"
	if out != want {
		t.Errorf("FormatResults() = %q, want %q", out, want)
	}
	if got := FormatResults(nil); got != "No results found." {
		t.Errorf("empty = %q", got)
	}
}

func TestSearXNG(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" || r.URL.Query().Get("format") != "json" || r.URL.Query().Get("q") != "go modules" {
			t.Errorf("unexpected request %s", r.URL)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":[
			{"title":"One","url":"https://1","content":"c1"},
			{"title":"Two","url":"https://2","content":"c2"},
			{"title":"Three","url":"https://3","content":"c3"}]}`))
	}))
	defer ts.Close()

	results, err := NewSearXNG(ts.URL+"/").Search(context.Background(), "go modules", Options{Count: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 || results[1].Snippet != "c2" {
		t.Errorf("results = %+v", results)
	}
}

func TestSearXNG_HTTPError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer ts.Close()

	_, err := NewSearXNG(ts.URL).Search(context.Background(), "q", Options{})
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Errorf("err = %v", err)
	}
}

func TestBrave(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Subscription-Token"); got != "secret" {
			t.Errorf("token = %q", got)
		}
		if got := r.URL.Query().Get("count"); got != "5" {
			t.Errorf("count = %q", got)
		}
		w.Write([]byte(`{"web":{"results":[{"title":"T","url":"https://t","description":"d"}]}}`))
	}))
	defer ts.Close()

	b := NewBrave("secret")
	b.endpoint = ts.URL
	results, err := b.Search(context.Background(), "q", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Snippet != "d" {
		t.Errorf("results = %+v", results)
	}
}
