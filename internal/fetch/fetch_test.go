package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestExtractHTML(t *testing.T) {
	page := `<!DOCTYPE html>
<html>
<head><title>Test   Page</title></head>
<body>
<nav>Navigation stuff</nav>
<script>var x = 1;</script>
<style>.foo { color: red; }</style>
<main>
<h1>Hello World</h1>
<p>This is a test paragraph with <strong>bold text</strong>.</p>
<aside>Related links</aside>
<p>Second paragraph.</p>
</main>
<footer>Footer stuff</footer>
</body>
</html>`

	title, content := extractHTML(page)

	if title != "Test Page" {
		t.Errorf("title = %q, want %q", title, "Test Page")
	}
	for _, want := range []string{"Hello World", "bold text", "Second paragraph."} {
		if !strings.Contains(content, want) {
			t.Errorf("content missing %q: %q", want, content)
		}
	}
	for _, absent := range []string{"var x = 1", "Navigation stuff", "Footer stuff", "Related links", "color: red"} {
		if strings.Contains(content, absent) {
			t.Errorf("content should not contain %q", absent)
		}
	}
}

func TestExtractHTML_TitleFallsBackToH1(t *testing.T) {
	title, _ := extractHTML(`<html><body><h1> Release
	notes </h1><p>x</p></body></html>`)
	if title != "Release notes" {
		t.Errorf("title = %q", title)
	}
}

func TestFetch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); !strings.HasPrefix(ua, "SEL/") {
			t.Errorf("User-Agent = %q", ua)
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><head><title>Test</title></head><body><p>Hello from test server</p></body></html>`))
	}))
	defer ts.Close()

	page, err := New(Config{}).Fetch(context.Background(), ts.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if page.Title != "Test" || page.Content != "Hello from test server" || page.StatusCode != 200 {
		t.Errorf("page = %+v", page)
	}
	if page.Truncated {
		t.Error("short page marked truncated")
	}
}

func TestFetch_PlainText(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("Just plain text content\n"))
	}))
	defer ts.Close()

	page, err := New(Config{}).Fetch(context.Background(), ts.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if page.Content != "Just plain text content" {
		t.Errorf("Content = %q", page.Content)
	}
}

func TestFetch_Truncation(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(strings.Repeat("é", 1000)))
	}))
	defer ts.Close()

	page, err := New(Config{MaxChars: 100}).Fetch(context.Background(), ts.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !page.Truncated {
		t.Error("expected Truncated")
	}
	if n := len([]rune(page.Content)); n != 100 {
		t.Errorf("content has %d runes, want 100", n)
	}
	if !strings.HasSuffix(page.Text(), "[truncated]") {
		t.Errorf("Text() = %q", page.Text())
	}
}

func TestFetch_HTTPError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone fishing", http.StatusNotFound)
	}))
	defer ts.Close()

	_, err := New(Config{}).Fetch(context.Background(), ts.URL)
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("err = %v, want HTTP 404", err)
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"example.com", "https://example.com", false},
		{"http://example.com/a?b=c", "http://example.com/a?b=c", false},
		{"  https://example.com  ", "https://example.com", false},
		{"", "", true},
		{"https://", "", true},
	}
	for _, tt := range tests {
		got, err := Normalize(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("Normalize(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestFindURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"summarize https://go.dev/blog/ please", "https://go.dev/blog/", true},
		{"see (http://example.com/x).", "http://example.com/x", true},
		{"news.ycombinator.com", "news.ycombinator.com", true},
		{"golang generics tutorial", "", false},
		{"what is 3.14", "", false},
	}
	for _, tt := range tests {
		got, ok := FindURL(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("FindURL(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestTidyText(t *testing.T) {
	got := tidyText("\n\n  Hello   world  \n\n\n\n  Second line  \n Next\n\n\n Third  \n")
	want := "Hello world\n\nSecond line\nNext\n\nThird"
	if got != want {
		t.Errorf("tidyText() = %q, want %q", got, want)
	}
}

func TestExtractHTML_Paragraphs(t *testing.T) {
	_, content := extractHTML(`<body><div><div><p>One</p></div></div><div></div><ul><li>a</li><li>b</li></ul>x<br>y</body>`)
	want := "One\n\na\nb\nx\ny"
	if content != want {
		t.Errorf("content = %q, want %q", content, want)
	}
}

func TestTruncateUTF8(t *testing.T) {
	if got := truncateUTF8("Héllo wörld café", 5); got != "Héllo" {
		t.Errorf("truncateUTF8 = %q", got)
	}
	if got := truncateUTF8("abc", 10); got != "abc" {
		t.Errorf("truncateUTF8 short = %q", got)
	}
}

func TestPage_Text(t *testing.T) {
	p := &Page{URL: "https://example.com", Title: "Example", Content: "Body"}
	if got := p.Text(); got != "Example\nhttps://example.com\n\nBody" {
		t.Errorf("Text() = %q", got)
	}
}
