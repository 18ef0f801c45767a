package segment

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

const headingSelector = "h1,h2,h3,h4,h5,h6"

// block is one node of the heading tree, addressed by its arena index.
type block struct {
	level    int
	title    string
	parent   int
	children []int
	text     []string
}

func (b *block) isLeaf() bool { return len(b.children) == 0 }

// tree is an arena of blocks. Index 0 is the document root.
type tree struct {
	blocks []block
}

func (t *tree) add(parent, level int, title string) int {
	id := len(t.blocks)
	t.blocks = append(t.blocks, block{level: level, title: title, parent: parent})
	if parent >= 0 {
		t.blocks[parent].children = append(t.blocks[parent].children, id)
	}
	return id
}

func (t *tree) text(id int) string {
	return strings.Join(t.blocks[id].text, " ")
}

// unit is one linearized piece of the body: a heading or a run of content.
type unit struct {
	level int // 1-6 for headings, 0 for content
	text  string
}

// structure parses doc into a heading tree. A heading's block holds
// everything up to the next heading of equal or higher rank. Any element that
// contains a heading is treated as transparent, which lifts headings out of
// wrappers such as <section> or <div>.
func structure(doc string) (*tree, error) {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return nil, err
	}
	gq := goquery.NewDocumentFromNode(root)
	title := collapse(gq.Find("title").First().Text())

	body := gq.Find("body").First()
	if body.Length() == 0 {
		return plainTree(title, flatten(root)), nil
	}

	hasHeading := make(map[*html.Node]struct{})
	gq.Find(headingSelector).Each(func(_ int, s *goquery.Selection) {
		for n := s.Get(0).Parent; n != nil; n = n.Parent {
			if _, seen := hasHeading[n]; seen {
				break
			}
			hasHeading[n] = struct{}{}
		}
	})

	t := &tree{}
	t.add(-1, 0, title)
	open := []int{0}
	for _, u := range linearize(body.Get(0), hasHeading) {
		if u.level == 0 {
			top := open[len(open)-1]
			t.blocks[top].text = append(t.blocks[top].text, u.text)
			continue
		}
		for len(open) > 1 && t.blocks[open[len(open)-1]].level >= u.level {
			open = open[:len(open)-1]
		}
		id := t.add(open[len(open)-1], u.level, u.text)
		if u.text != "" {
			t.blocks[id].text = append(t.blocks[id].text, u.text)
		}
		open = append(open, id)
	}
	t.splitIntros()
	return t, nil
}

// plainTree is a single-leaf tree used when markup cannot be structured.
func plainTree(title, text string) *tree {
	t := &tree{}
	id := t.add(-1, 0, title)
	if text != "" {
		t.blocks[id].text = []string{text}
	}
	return t
}

// linearize walks body in document order and emits heading and content units.
func linearize(body *html.Node, hasHeading map[*html.Node]struct{}) []unit {
	var out []unit
	stack := []*html.Node{}
	for c := body.LastChild; c != nil; c = c.PrevSibling {
		stack = append(stack, c)
	}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if isSkipped(n) {
			continue
		}
		if level := headingLevel(n); level > 0 {
			out = append(out, unit{level: level, text: flatten(n)})
			continue
		}
		if _, transparent := hasHeading[n]; transparent {
			for c := n.LastChild; c != nil; c = c.PrevSibling {
				stack = append(stack, c)
			}
			continue
		}
		if text := flatten(n); text != "" {
			out = append(out, unit{text: text})
		}
	}
	return out
}

func headingLevel(n *html.Node) int {
	if n.Type != html.ElementNode || len(n.Data) != 2 || n.Data[0] != 'h' {
		return 0
	}
	if d := n.Data[1]; d >= '1' && d <= '6' {
		return int(d - '0')
	}
	return 0
}

// splitIntros moves the own text of every container into a synthetic first
// leaf that carries the container's title, so only leaves hold text.
func (t *tree) splitIntros() {
	n := len(t.blocks)
	for id := 0; id < n; id++ {
		b := &t.blocks[id]
		if b.isLeaf() || len(b.text) == 0 {
			continue
		}
		intro := len(t.blocks)
		t.blocks = append(t.blocks, block{
			level:  b.level,
			title:  b.title,
			parent: id,
			text:   b.text,
		})
		b = &t.blocks[id]
		b.text = nil
		b.children = append([]int{intro}, b.children...)
	}
}

// leafLayout lists leaves in document order and, for every block, the
// half-open range of leaf positions covered by its subtree.
type leafLayout struct {
	leaves []int
	lo, hi []int
}

func (t *tree) layout() leafLayout {
	l := leafLayout{
		lo: make([]int, len(t.blocks)),
		hi: make([]int, len(t.blocks)),
	}
	type frame struct {
		id   int
		next int
	}
	stack := []frame{{id: 0}}
	l.lo[0] = 0
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		b := t.blocks[top.id]
		if top.next == 0 && b.isLeaf() {
			l.lo[top.id] = len(l.leaves)
			l.leaves = append(l.leaves, top.id)
		}
		if top.next < len(b.children) {
			child := b.children[top.next]
			top.next++
			l.lo[child] = len(l.leaves)
			stack = append(stack, frame{id: child})
			continue
		}
		l.hi[top.id] = len(l.leaves)
		stack = stack[:len(stack)-1]
	}
	return l
}
