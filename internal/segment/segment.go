// Package segment splits heading-structured HTML into passages sized for
// embedding models.
//
// A document is first turned into a tree of heading blocks. Leaves inside the
// token window are emitted as they are, oversized leaves are bin-packed by
// sentence, and undersized leaves are merged with their following siblings and
// then with the rest of each enclosing section until the window is reached.
package segment

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-ingest/internal/tokenizer"
)

// ErrChunkingInvariant reports a chunk above the hard token ceiling. Callers
// skip the document rather than truncating it.
var ErrChunkingInvariant = errors.New("chunk exceeds token ceiling")

// Options bounds chunk sizes.
type Options struct {
	MinTokens      int    `mapstructure:"min_tokens"`
	MaxTokens      int    `mapstructure:"max_tokens"`
	BucketTarget   int    `mapstructure:"bucket_target"`
	TitleSeparator string `mapstructure:"title_separator"`
}

// DefaultOptions returns the 256..512 window with a 409 packing target.
func DefaultOptions() Options {
	return Options{
		MinTokens:      256,
		MaxTokens:      512,
		BucketTarget:   409,
		TitleSeparator: ";",
	}
}

// Validate checks the window is well formed.
func (o Options) Validate() error {
	if o.MinTokens <= 0 {
		return fmt.Errorf("segment.min_tokens must be > 0")
	}
	if o.MaxTokens < o.MinTokens {
		return fmt.Errorf("segment.max_tokens must be >= segment.min_tokens")
	}
	if o.BucketTarget < o.MinTokens || o.BucketTarget > o.MaxTokens {
		return fmt.Errorf("segment.bucket_target must be within [min_tokens, max_tokens]")
	}
	return nil
}

// Chunk is one passage of a document.
type Chunk struct {
	Title      string `json:"title"`
	Text       string `json:"text"`
	Tokens     []int  `json:"tokens"`
	TokenCount int    `json:"token_count"`
}

// Segmenter turns documents into chunks. It holds no per-document state and
// is safe for concurrent use when its Tokenizer is.
type Segmenter struct {
	tok    tokenizer.Tokenizer
	opts   Options
	logger *zap.Logger
}

// New builds a Segmenter.
func New(tok tokenizer.Tokenizer, opts Options, logger *zap.Logger) (*Segmenter, error) {
	if tok == nil {
		return nil, fmt.Errorf("tokenizer is required")
	}
	if opts.TitleSeparator == "" {
		opts.TitleSeparator = DefaultOptions().TitleSeparator
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Segmenter{tok: tok, opts: opts, logger: logger}, nil
}

// Encoding names the tokenizer vocabulary behind Chunk.Tokens.
func (s *Segmenter) Encoding() string { return s.tok.Name() }

// Segment splits doc into ordered chunks. Markup that cannot be parsed is
// treated as a single plain-text block.
func (s *Segmenter) Segment(doc string) ([]Chunk, error) {
	t, err := structure(doc)
	if err != nil {
		s.logger.Debug("html parse failed; segmenting as plain text", zap.Error(err))
		t = plainTree("", collapse(doc))
	}
	r := &run{
		seg:    s,
		tree:   t,
		layout: t.layout(),
		memo:   make([][]int, len(t.blocks)),
		cached: make([]bool, len(t.blocks)),
	}
	chunks := r.process()
	for i, c := range chunks {
		if c.TokenCount > s.opts.MaxTokens {
			return nil, fmt.Errorf("%w: chunk %d has %d tokens (max %d)",
				ErrChunkingInvariant, i, c.TokenCount, s.opts.MaxTokens)
		}
	}
	return chunks, nil
}

// run is the state of one Segment call. Token counts are memoized in a side
// table indexed by block id.
type run struct {
	seg      *Segmenter
	tree     *tree
	layout   leafLayout
	memo     [][]int
	cached   []bool
	consumed []bool
	chunks   []Chunk
}

func (r *run) tokens(id int) []int {
	if !r.cached[id] {
		r.memo[id] = r.seg.tok.Encode(r.tree.text(id))
		r.cached[id] = true
	}
	return r.memo[id]
}

func (r *run) count(pos int) int {
	return len(r.tokens(r.layout.leaves[pos]))
}

func (r *run) process() []Chunk {
	opts := r.seg.opts
	r.consumed = make([]bool, len(r.layout.leaves))
	for pos := range r.layout.leaves {
		if r.consumed[pos] {
			continue
		}
		id := r.layout.leaves[pos]
		n := r.count(pos)
		switch {
		case n == 0:
			r.consumed[pos] = true
		case n > opts.MaxTokens:
			r.consumed[pos] = true
			r.chunks = append(r.chunks, r.splitOversized(id)...)
		case n >= opts.MinTokens:
			r.consumed[pos] = true
			r.chunks = append(r.chunks, Chunk{
				Title:      r.tree.blocks[id].title,
				Text:       r.tree.text(id),
				Tokens:     r.tokens(id),
				TokenCount: n,
			})
		default:
			r.mergeSmall(pos)
		}
	}
	return r.chunks
}

// joinTitles joins non-empty titles, skipping a title equal to the one
// appended just before it.
func joinTitles(titles []string, sep string) string {
	var out []string
	for _, t := range titles {
		if t == "" {
			continue
		}
		if len(out) > 0 && out[len(out)-1] == t {
			continue
		}
		out = append(out, t)
	}
	return strings.Join(out, sep)
}
