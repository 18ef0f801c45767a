package segment

import (
	"strings"

	"go.uber.org/zap"
)

// window is a run of consecutive leaf positions being merged.
type window struct {
	positions []int
	total     int
}

func (w *window) add(pos, n int) {
	w.positions = append(w.positions, pos)
	w.total += n
}

func (w *window) end() int {
	if len(w.positions) == 0 {
		return 0
	}
	return w.positions[len(w.positions)-1] + 1
}

// mergeSmall grows a window from the undersized leaf at pos. The first pass
// takes following leaf siblings only; each later pass widens to every leaf of
// the next enclosing block. Growth stops at MinTokens and never crosses
// MaxTokens.
func (r *run) mergeSmall(pos int) {
	opts := r.seg.opts
	leaves := r.layout.leaves
	parent := r.tree.blocks[leaves[pos]].parent

	var win window
	win.add(pos, r.count(pos))
	full := false
	for p := pos + 1; p < len(leaves) && win.total < opts.MinTokens; p++ {
		if r.consumed[p] || r.tree.blocks[leaves[p]].parent != parent {
			break
		}
		n := r.count(p)
		if win.total+n > opts.MaxTokens {
			full = true
			break
		}
		win.add(p, n)
	}

	for container := parent; container >= 0 && !full && win.total < opts.MinTokens; container = r.tree.blocks[container].parent {
		if r.layout.hi[container] <= win.end() {
			continue
		}
		win, full = r.collect(pos, r.layout.hi[container])
	}

	if win.total >= opts.MinTokens {
		r.chunks = append(r.chunks, r.build(win))
		return
	}
	r.placeUndersized(win)
}

// collect gathers unconsumed leaves in [pos, hi) until MinTokens is reached.
// full reports that the next leaf would have crossed MaxTokens.
func (r *run) collect(pos, hi int) (window, bool) {
	opts := r.seg.opts
	var win window
	for p := pos; p < hi && win.total < opts.MinTokens; p++ {
		if r.consumed[p] {
			continue
		}
		n := r.count(p)
		if len(win.positions) > 0 && win.total+n > opts.MaxTokens {
			return win, true
		}
		win.add(p, n)
	}
	return win, false
}

// placeUndersized handles a window that could not reach MinTokens. A window
// holding the whole document is its only chunk; otherwise it joins the
// previous chunk when that fits, and is emitted short as a last resort.
func (r *run) placeUndersized(win window) {
	opts := r.seg.opts
	if len(r.chunks) == 0 && r.restEmpty(win.end()) {
		r.chunks = append(r.chunks, r.build(win))
		return
	}
	if len(r.chunks) > 0 {
		last := &r.chunks[len(r.chunks)-1]
		if last.TokenCount+win.total <= opts.MaxTokens {
			next := r.build(win)
			titles := append(strings.Split(last.Title, opts.TitleSeparator), strings.Split(next.Title, opts.TitleSeparator)...)
			last.Title = joinTitles(titles, opts.TitleSeparator)
			last.Text = joinText(last.Text, next.Text)
			last.Tokens = append(last.Tokens, next.Tokens...)
			last.TokenCount += next.TokenCount
			return
		}
	}
	c := r.build(win)
	r.seg.logger.Debug("emitting undersized chunk",
		zap.String("title", c.Title),
		zap.Int("tokens", c.TokenCount),
	)
	r.chunks = append(r.chunks, c)
}

// restEmpty reports whether no leaf at or after from carries tokens.
func (r *run) restEmpty(from int) bool {
	for p := from; p < len(r.layout.leaves); p++ {
		if !r.consumed[p] && r.count(p) > 0 {
			return false
		}
	}
	return true
}

// build merges the window's leaves into one chunk and consumes them.
func (r *run) build(win window) Chunk {
	titles := make([]string, 0, len(win.positions))
	var texts []string
	var tokens []int
	for _, p := range win.positions {
		id := r.layout.leaves[p]
		r.consumed[p] = true
		titles = append(titles, r.tree.blocks[id].title)
		if text := r.tree.text(id); text != "" {
			texts = append(texts, text)
		}
		tokens = append(tokens, r.tokens(id)...)
	}
	return Chunk{
		Title:      joinTitles(titles, r.seg.opts.TitleSeparator),
		Text:       strings.Join(texts, "\n"),
		Tokens:     tokens,
		TokenCount: len(tokens),
	}
}

func joinText(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + "\n" + b
	}
}
