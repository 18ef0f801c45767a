// Package tokenizer turns text into model token IDs for size accounting.
package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// DefaultEncoding is the BPE vocabulary recorded on stored chunks. Changing it
// invalidates every token count already persisted.
const DefaultEncoding = "cl100k_base"

// Tokenizer maps text to token IDs.
type Tokenizer interface {
	Encode(text string) []int
	Name() string
}

var loaderOnce sync.Once

// Tiktoken encodes with an OpenAI BPE vocabulary bundled into the binary.
type Tiktoken struct {
	name string
	enc  *tiktoken.Tiktoken
}

// NewTiktoken loads the named encoding from the offline loader.
func NewTiktoken(encoding string) (*Tiktoken, error) {
	if strings.TrimSpace(encoding) == "" {
		encoding = DefaultEncoding
	}
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %s: %w", encoding, err)
	}
	return &Tiktoken{name: encoding, enc: enc}, nil
}

// Encode implements Tokenizer. Special tokens are treated as plain text.
func (t *Tiktoken) Encode(text string) []int {
	if text == "" {
		return nil
	}
	return t.enc.Encode(text, nil, nil)
}

// Name implements Tokenizer.
func (t *Tiktoken) Name() string { return t.name }

// Words counts whitespace-separated words, one token each. IDs are the word
// positions, which keeps results deterministic for tests and dry runs.
type Words struct{}

// Encode implements Tokenizer.
func (Words) Encode(text string) []int {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil
	}
	out := make([]int, len(fields))
	for i := range fields {
		out[i] = i
	}
	return out
}

// Name implements Tokenizer.
func (Words) Name() string { return "words" }
