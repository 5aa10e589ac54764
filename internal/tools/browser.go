package tools

import (
	"context"
	"errors"
	"strings"

	"github.com/sel-agent/sel/internal/fetch"
	"github.com/sel-agent/sel/internal/search"
)

// BrowserToolName is the native web tool.
const BrowserToolName = "browser"

// Browser answers with page text when the argument carries a URL and
// with search results otherwise.
type Browser struct {
	fetcher  *fetch.Fetcher
	searcher *search.Manager
}

// NewBrowser creates the browser tool. searcher may be nil, in which
// case only URLs are handled.
func NewBrowser(fetcher *fetch.Fetcher, searcher *search.Manager) *Browser {
	return &Browser{fetcher: fetcher, searcher: searcher}
}

// Browse runs one request.
func (b *Browser) Browse(ctx context.Context, arg string) (string, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return "", errors.New("browser: give a URL or a search query")
	}

	if u, ok := fetch.FindURL(arg); ok {
		page, err := b.fetcher.Fetch(ctx, u)
		if err != nil {
			return "", err
		}
		return page.Text(), nil
	}

	if b.searcher == nil || !b.searcher.Configured() {
		return "", errors.New("browser: no URL in request and web search is not configured")
	}
	results, err := b.searcher.Search(ctx, arg, search.Options{})
	if err != nil {
		return "", err
	}
	return search.FormatResults(results), nil
}

// Tool exposes the browser for registration.
func (b *Browser) Tool() *Tool {
	return &Tool{
		Name:        BrowserToolName,
		Description: "Open a web page and read it, or search the web",
		Source:      SourceNative,
		Handler:     b.Browse,
	}
}
