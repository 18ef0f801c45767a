// Package cleaner strips navigation and other boilerplate from rendered pages.
package cleaner

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/markusmobius/go-trafilatura"
	xhtml "golang.org/x/net/html"

	"github.com/JakeFAU/site-ingest/internal/crawler"
)

// Cleaner modes.
const (
	ModeSelector    = "selector"
	ModeTrafilatura = "trafilatura"
	ModeNone        = "none"
)

// ErrNoContent is returned when a page has neither <main> nor <body> content.
var ErrNoContent = errors.New("no content")

// DefaultDropSelectors are removed from the content root.
var DefaultDropSelectors = []string{
	"aside",
	".pagedetails",
	"script",
	".nojs-hide",
	".alert",
	"nav",
	"header",
	"footer",
}

var whitespace = regexp.MustCompile(`\s+`)

// New returns the cleaner for mode. An empty mode selects ModeSelector.
func New(mode string) (crawler.Cleaner, error) {
	switch mode {
	case "", ModeSelector:
		return NewSelector(nil), nil
	case ModeTrafilatura:
		return Trafilatura{}, nil
	case ModeNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown cleaner mode %q", mode)
	}
}

// Selector keeps <main> (or <body> when there is none), drops boilerplate
// selectors and comments, and collapses whitespace. The page <title> is kept
// so the stored document stays self-describing.
type Selector struct {
	drop []string
}

// NewSelector builds a Selector. nil drop means DefaultDropSelectors.
func NewSelector(drop []string) *Selector {
	if drop == nil {
		drop = DefaultDropSelectors
	}
	return &Selector{drop: drop}
}

// Clean implements crawler.Cleaner.
func (s *Selector) Clean(page string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())

	root := doc.Find("main").First()
	if root.Length() > 0 {
		for _, sel := range s.drop {
			root.Find(sel).Remove()
		}
	} else {
		root = doc.Find("body").First()
		if root.Length() == 0 {
			return "", ErrNoContent
		}
	}
	removeComments(root)

	content, err := goquery.OuterHtml(root)
	if err != nil {
		return "", fmt.Errorf("render content: %w", err)
	}
	return wrap(title, whitespace.ReplaceAllString(content, " ")), nil
}

func removeComments(sel *goquery.Selection) {
	for _, n := range sel.Nodes {
		var comments []*xhtml.Node
		var walk func(*xhtml.Node)
		walk = func(node *xhtml.Node) {
			for c := node.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == xhtml.CommentNode {
					comments = append(comments, c)
					continue
				}
				walk(c)
			}
		}
		walk(n)
		for _, c := range comments {
			c.Parent.RemoveChild(c)
		}
	}
}

// Trafilatura extracts the main content with go-trafilatura.
type Trafilatura struct{}

// Clean implements crawler.Cleaner.
func (Trafilatura) Clean(page string) (string, error) {
	result, err := trafilatura.Extract(strings.NewReader(page), trafilatura.Options{})
	if err != nil {
		return "", fmt.Errorf("trafilatura extract: %w", err)
	}
	if result == nil || result.ContentNode == nil {
		return "", ErrNoContent
	}
	var buf bytes.Buffer
	if err := xhtml.Render(&buf, result.ContentNode); err != nil {
		return "", fmt.Errorf("render content: %w", err)
	}
	return wrap(result.Metadata.Title, whitespace.ReplaceAllString(buf.String(), " ")), nil
}

func wrap(title, body string) string {
	var b strings.Builder
	b.WriteString("<html><head>")
	if title != "" {
		b.WriteString("<title>")
		b.WriteString(html.EscapeString(title))
		b.WriteString("</title>")
	}
	b.WriteString("</head><body>")
	b.WriteString(strings.TrimSpace(body))
	b.WriteString("</body></html>")
	return b.String()
}
