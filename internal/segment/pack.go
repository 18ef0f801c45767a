package segment

import "strings"

// piece is a sentence (or a fragment of an overlong sentence) with its tokens.
type piece struct {
	text   string
	tokens []int
}

type bucket struct {
	pieces []piece
	size   int
}

func (b *bucket) push(p piece) {
	b.pieces = append(b.pieces, p)
	b.size += len(p.tokens)
}

// splitOversized bin-packs an oversized leaf by sentence. A bucket is closed
// once the next sentence would bring it to BucketTarget; the tail is then
// rebalanced so no bucket stays under MinTokens when a neighbor can help.
func (r *run) splitOversized(id int) []Chunk {
	opts := r.seg.opts
	title := r.tree.blocks[id].title

	var buckets []bucket
	var cur bucket
	for _, p := range r.pieces(r.tree.text(id)) {
		if len(cur.pieces) > 0 && cur.size+len(p.tokens) >= opts.BucketTarget {
			buckets = append(buckets, cur)
			cur = bucket{}
		}
		cur.push(p)
	}
	if len(cur.pieces) > 0 {
		buckets = append(buckets, cur)
	}
	buckets = rebalance(buckets, opts)

	out := make([]Chunk, 0, len(buckets))
	for _, b := range buckets {
		var text strings.Builder
		var tokens []int
		for _, p := range b.pieces {
			text.WriteString(p.text)
			tokens = append(tokens, p.tokens...)
		}
		// Sentence pieces carry their trailing space; re-encode when trimming
		// changes the text so Tokens always decode to Text.
		joined := text.String()
		trimmed := strings.TrimSpace(joined)
		if trimmed != joined {
			tokens = r.seg.tok.Encode(trimmed)
		}
		out = append(out, Chunk{
			Title:      title,
			Text:       trimmed,
			Tokens:     tokens,
			TokenCount: len(tokens),
		})
	}
	return out
}

// pieces splits text into sentences, cutting any sentence above MaxTokens at
// word boundaries.
func (r *run) pieces(text string) []piece {
	maxTokens := r.seg.opts.MaxTokens
	var out []piece
	for _, sentence := range splitSentences(text) {
		tokens := r.seg.tok.Encode(sentence)
		if len(tokens) == 0 {
			continue
		}
		if len(tokens) <= maxTokens {
			out = append(out, piece{text: sentence, tokens: tokens})
			continue
		}
		out = append(out, r.wordPieces(sentence)...)
	}
	return out
}

// wordPieces packs the words of an overlong sentence into fragments of at most
// BucketTarget tokens. A single word above MaxTokens is cut by runes.
func (r *run) wordPieces(sentence string) []piece {
	opts := r.seg.opts
	var out []piece
	var text strings.Builder
	var tokens []int
	flush := func() {
		if len(tokens) > 0 {
			out = append(out, piece{text: text.String(), tokens: tokens})
		}
		text.Reset()
		tokens = nil
	}
	for _, word := range splitWords(sentence) {
		wt := r.seg.tok.Encode(word)
		if len(wt) > opts.MaxTokens {
			flush()
			out = append(out, r.runePieces(word)...)
			continue
		}
		if len(tokens)+len(wt) > opts.BucketTarget {
			flush()
		}
		text.WriteString(word)
		tokens = append(tokens, wt...)
	}
	flush()
	return out
}

func (r *run) runePieces(word string) []piece {
	maxTokens := r.seg.opts.MaxTokens
	runes := []rune(word)
	for parts := 2; ; parts++ {
		size := (len(runes) + parts - 1) / parts
		out := make([]piece, 0, parts)
		ok := true
		for start := 0; start < len(runes); start += size {
			end := min(start+size, len(runes))
			text := string(runes[start:end])
			tokens := r.seg.tok.Encode(text)
			if len(tokens) > maxTokens {
				ok = false
			}
			out = append(out, piece{text: text, tokens: tokens})
		}
		if ok || size <= 1 {
			return out
		}
	}
}

// rebalance fixes undersized buckets. Each one is merged into a neighbor when
// the sum fits MaxTokens, otherwise trailing pieces are borrowed from the
// previous bucket while it stays at or above MinTokens.
func rebalance(buckets []bucket, opts Options) []bucket {
	for i := 0; i < len(buckets); i++ {
		if buckets[i].size >= opts.MinTokens || len(buckets) == 1 {
			continue
		}
		switch {
		case i+1 < len(buckets) && buckets[i].size+buckets[i+1].size <= opts.MaxTokens:
			for _, p := range buckets[i+1].pieces {
				buckets[i].push(p)
			}
			buckets = append(buckets[:i+1], buckets[i+2:]...)
			i--
		case i > 0 && buckets[i-1].size+buckets[i].size <= opts.MaxTokens:
			for _, p := range buckets[i].pieces {
				buckets[i-1].push(p)
			}
			buckets = append(buckets[:i], buckets[i+1:]...)
			i--
		case i > 0:
			borrow(&buckets[i-1], &buckets[i], opts)
		}
	}
	return buckets
}

func borrow(prev, cur *bucket, opts Options) {
	for cur.size < opts.MinTokens && len(prev.pieces) > 1 {
		last := prev.pieces[len(prev.pieces)-1]
		n := len(last.tokens)
		if prev.size-n < opts.MinTokens || cur.size+n > opts.MaxTokens {
			return
		}
		prev.pieces = prev.pieces[:len(prev.pieces)-1]
		prev.size -= n
		cur.pieces = append([]piece{last}, cur.pieces...)
		cur.size += n
	}
}
