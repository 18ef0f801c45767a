// Package storage persists crawled documents and their segmented chunks.
// Concrete backends live in the local, gcs, memory and postgres subpackages;
// this package holds the sinks that compose them.
package storage

import (
	"context"
	"io"
	"time"

	"github.com/JakeFAU/site-ingest/internal/segment"
)

// Storage modes.
const (
	ModeLocal    = "local"
	ModeGCS      = "gcs"
	ModePostgres = "postgres"
	ModeMemory   = "memory"
)

// BlobStore writes opaque objects and returns their URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher announces stored documents.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Metadata is the JSON record written next to each stored HTML document.
type Metadata struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	FinalURL    string    `json:"final_url"`
	Title       string    `json:"title"`
	Language    string    `json:"language"`
	Depth       int       `json:"depth"`
	StatusCode  int       `json:"status_code"`
	ContentHash string    `json:"content_hash"`
	FetchedAt   time.Time `json:"fetched_at"`
	HTMLURI     string    `json:"html_uri"`
	Links       []string  `json:"links"`
}

// StoredDocument is a document read back for segmentation.
type StoredDocument struct {
	ID    string
	URL   string
	Title string
	HTML  string
}

// DocumentSource iterates over stored documents in a stable order.
type DocumentSource interface {
	Documents(ctx context.Context, fn func(StoredDocument) error) error
}

// ChunkRecord is one persisted chunk.
type ChunkRecord struct {
	DocumentID  string `json:"document_id"`
	DocumentURL string `json:"document_url"`
	Ordinal     int    `json:"ordinal"`
	Title       string `json:"title"`
	Text        string `json:"text"`
	Tokens      []int  `json:"tokens"`
	TokenCount  int    `json:"token_count"`
	Encoding    string `json:"encoding"`
}

// ChunkStore persists the chunks of one document, replacing earlier ones.
type ChunkStore interface {
	StoreChunks(ctx context.Context, doc StoredDocument, encoding string, chunks []segment.Chunk) error
}

// Records converts segmenter output into ChunkRecords.
func Records(doc StoredDocument, encoding string, chunks []segment.Chunk) []ChunkRecord {
	out := make([]ChunkRecord, len(chunks))
	for i, c := range chunks {
		out[i] = ChunkRecord{
			DocumentID:  doc.ID,
			DocumentURL: doc.URL,
			Ordinal:     i,
			Title:       c.Title,
			Text:        c.Text,
			Tokens:      c.Tokens,
			TokenCount:  c.TokenCount,
			Encoding:    encoding,
		}
	}
	return out
}
