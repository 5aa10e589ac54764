// Package fetch downloads a web page and reduces it to readable text
// for the browser tool.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sel-agent/sel/internal/httpkit"
)

// Defaults applied by [New] for zero config fields.
const (
	DefaultTimeout        = 20 * time.Second
	DefaultMaxBytes int64 = 2 << 20
	DefaultMaxChars       = 4000
)

// Config tunes a [Fetcher].
type Config struct {
	Timeout  time.Duration `yaml:"timeout"`
	MaxBytes int64         `yaml:"max_bytes"` // response body cap
	MaxChars int           `yaml:"max_chars"` // extracted text cap
}

// Page is the readable form of one URL.
type Page struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Content     string `json:"content"`
	ContentType string `json:"content_type,omitempty"`
	Truncated   bool   `json:"truncated,omitempty"`
	StatusCode  int    `json:"status_code"`
}

// Fetcher downloads pages through a shared client.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
	maxChars int
}

// New creates a Fetcher. Extra client options (retry, logger) are
// passed through to httpkit.
func New(cfg Config, opts ...httpkit.ClientOption) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = DefaultMaxChars
	}
	opts = append([]httpkit.ClientOption{httpkit.WithTimeout(cfg.Timeout)}, opts...)
	return &Fetcher{
		client:   httpkit.NewClient(opts...),
		maxBytes: cfg.MaxBytes,
		maxChars: cfg.MaxChars,
	}
}

// Fetch downloads rawURL and extracts its text. Scheme-less URLs get
// https. Responses outside 2xx are errors.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	u, err := Normalize(rawURL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,text/plain;q=0.8,*/*;q=0.5")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", u, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body := httpkit.ReadErrorBody(resp.Body, 256)
		return nil, fmt.Errorf("fetch %s: HTTP %d: %s", u, resp.StatusCode, body)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: read body: %w", u, err)
	}

	page := &Page{
		URL:         resp.Request.URL.String(),
		ContentType: resp.Header.Get("Content-Type"),
		StatusCode:  resp.StatusCode,
	}

	switch {
	case isHTML(page.ContentType):
		page.Title, page.Content = extractHTML(string(body))
	case utf8.Valid(body):
		page.Content = tidyText(string(body))
	default:
		page.Content = fmt.Sprintf("Binary content (%s), %d bytes", page.ContentType, len(body))
		return page, nil
	}

	if utf8.RuneCountInString(page.Content) > f.maxChars {
		page.Content = truncateUTF8(page.Content, f.maxChars)
		page.Truncated = true
	}
	return page, nil
}

// Text renders the page for a chat reply.
func (p *Page) Text() string {
	var b strings.Builder
	if p.Title != "" {
		b.WriteString(p.Title)
		b.WriteString("\n")
	}
	b.WriteString(p.URL)
	if p.Content != "" {
		b.WriteString("\n\n")
		b.WriteString(p.Content)
	}
	if p.Truncated {
		b.WriteString("\n[truncated]")
	}
	return b.String()
}

// Normalize validates rawURL, defaulting the scheme to https.
func Normalize(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", errors.New("fetch: url is required")
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		rawURL = "https://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("fetch: invalid url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("fetch: invalid url %q: no host", rawURL)
	}
	return u.String(), nil
}

var (
	urlPattern    = regexp.MustCompile(`https?://[^\s<>"']+`)
	domainPattern = regexp.MustCompile(`^(?:[A-Za-z0-9-]+\.)+[A-Za-z]{2,}(?:/\S*)?$`)
)

// FindURL returns the first URL in text. A bare argument that looks
// like a domain ("example.com/page") also counts.
func FindURL(text string) (string, bool) {
	if m := urlPattern.FindString(text); m != "" {
		return strings.TrimRight(m, ".,;:!?)]"), true
	}
	if t := strings.TrimSpace(text); domainPattern.MatchString(t) {
		return t, true
	}
	return "", false
}

func isHTML(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}

// truncateUTF8 cuts s to at most maxChars runes.
func truncateUTF8(s string, maxChars int) string {
	count := 0
	for i := range s {
		if count == maxChars {
			return s[:i]
		}
		count++
	}
	return s
}
