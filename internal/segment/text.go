package segment

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/html"
)

var skippedTags = map[string]struct{}{
	"script":   {},
	"style":    {},
	"noscript": {},
	"template": {},
	"head":     {},
	"iframe":   {},
	"svg":      {},
}

// blockTags break words apart when flattening markup to text.
var blockTags = map[string]struct{}{
	"address": {}, "article": {}, "aside": {}, "blockquote": {}, "br": {},
	"dd": {}, "details": {}, "div": {}, "dl": {}, "dt": {},
	"figcaption": {}, "figure": {}, "footer": {}, "form": {},
	"h1": {}, "h2": {}, "h3": {}, "h4": {}, "h5": {}, "h6": {},
	"header": {}, "hr": {}, "li": {}, "main": {}, "nav": {}, "ol": {},
	"p": {}, "pre": {}, "section": {}, "summary": {}, "table": {},
	"tbody": {}, "td": {}, "tfoot": {}, "th": {}, "thead": {}, "tr": {}, "ul": {},
}

func isSkipped(n *html.Node) bool {
	if n.Type == html.CommentNode {
		return true
	}
	if n.Type != html.ElementNode {
		return false
	}
	_, skip := skippedTags[n.Data]
	return skip
}

// flatten returns the visible text under n with whitespace collapsed. Block
// elements are separated by a space so adjacent paragraphs never fuse words.
func flatten(n *html.Node) string {
	type frame struct {
		node *html.Node
		exit bool
	}
	var b strings.Builder
	stack := []frame{{node: n}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		cur := top.node
		if top.exit {
			b.WriteByte(' ')
			continue
		}
		if isSkipped(cur) {
			continue
		}
		switch cur.Type {
		case html.TextNode:
			b.WriteString(cur.Data)
			continue
		case html.ElementNode:
			if _, block := blockTags[cur.Data]; block {
				b.WriteByte(' ')
				stack = append(stack, frame{node: cur, exit: true})
			}
		}
		var children []*html.Node
		for c := cur.FirstChild; c != nil; c = c.NextSibling {
			children = append(children, c)
		}
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, frame{node: children[i]})
		}
	}
	return collapse(b.String())
}

// collapse squeezes every whitespace run to a single space and trims the ends.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// splitSentences cuts text after '.', '!' or '?' runs. Each piece keeps its
// terminator and trailing whitespace, so joining the pieces restores text.
func splitSentences(text string) []string {
	var out []string
	start := 0
	i := 0
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		i += size
		if !isTerminator(r) {
			continue
		}
		for i < len(text) {
			next, nsize := utf8.DecodeRuneInString(text[i:])
			if !isTerminator(next) {
				break
			}
			i += nsize
		}
		if i < len(text) {
			next, _ := utf8.DecodeRuneInString(text[i:])
			if !unicode.IsSpace(next) {
				continue
			}
		}
		for i < len(text) {
			next, nsize := utf8.DecodeRuneInString(text[i:])
			if !unicode.IsSpace(next) {
				break
			}
			i += nsize
		}
		out = append(out, text[start:i])
		start = i
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// splitWords cuts text into words that keep their trailing whitespace.
func splitWords(text string) []string {
	var out []string
	start := 0
	inSpace := false
	for i, r := range text {
		space := unicode.IsSpace(r)
		if inSpace && !space {
			out = append(out, text[start:i])
			start = i
		}
		inSpace = space
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}
