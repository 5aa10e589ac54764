package fetch

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// hidden elements are page chrome or code; nothing under them is read.
var hidden = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Iframe:   true,
	atom.Svg:      true,
	atom.Nav:      true,
	atom.Header:   true,
	atom.Footer:   true,
	atom.Aside:    true,
	atom.Form:     true,
	atom.Button:   true,
}

// breaks start a new paragraph in the extracted text.
var breaks = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Section: true, atom.Article: true, atom.Main: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Blockquote: true, atom.Pre: true, atom.Ul: true, atom.Ol: true, atom.Table: true,
	atom.Tr: true, atom.Dl: true, atom.Dt: true, atom.Dd: true, atom.Figure: true,
	atom.Figcaption: true, atom.Details: true, atom.Summary: true, atom.Hr: true,
}

// reader walks a parsed page once, picking up the title, the first h1
// and the readable body text.
type reader struct {
	title   string
	heading string
	text    strings.Builder
	owed    bool // paragraph break due before the next word
}

// extractHTML returns the page title (the first h1 when there is no
// <title>) and its readable text.
func extractHTML(raw string) (title, text string) {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return "", tokenText(raw)
	}

	var r reader
	r.walk(doc)
	title = r.title
	if title == "" {
		title = r.heading
	}
	return strings.Join(strings.Fields(title), " "), tidyText(r.text.String())
}

func (r *reader) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		r.word(n.Data)
		return
	case html.ElementNode:
		if n.DataAtom == atom.Title {
			if r.title == "" {
				r.title = innerText(n)
			}
			return
		}
		if n.DataAtom == atom.H1 && r.heading == "" {
			r.heading = innerText(n)
		}
		if hidden[n.DataAtom] {
			return
		}
		if breaks[n.DataAtom] {
			r.owed = true
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		r.walk(c)
	}

	if n.DataAtom == atom.Br || n.DataAtom == atom.Li {
		r.text.WriteByte('\n')
	}
}

func (r *reader) word(s string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return
	}
	if r.owed && r.text.Len() > 0 {
		r.text.WriteString("\n\n")
	}
	r.owed = false
	r.text.WriteString(s)
	r.text.WriteByte(' ')
}

// innerText concatenates every text node under n.
func innerText(n *html.Node) string {
	var b strings.Builder
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)
	return b.String()
}

// tidyText collapses blanks within each line and keeps at most one
// empty line between non-empty ones.
func tidyText(s string) string {
	var b strings.Builder
	gap := false
	for _, line := range strings.Split(s, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			gap = true
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
			if gap {
				b.WriteByte('\n')
			}
		}
		gap = false
		b.WriteString(line)
	}
	return b.String()
}

// tokenText reads only the text tokens of s.
func tokenText(s string) string {
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	for {
		switch z.Next() {
		case html.ErrorToken:
			return tidyText(b.String())
		case html.TextToken:
			b.Write(z.Text())
			b.WriteByte(' ')
		}
	}
}
