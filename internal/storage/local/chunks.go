package local

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/JakeFAU/site-ingest/internal/segment"
	"github.com/JakeFAU/site-ingest/internal/storage"
)

// ChunksPrefix is the directory chunk files are written under.
const ChunksPrefix = "chunks"

// StoreChunks writes chunks/<document id>.jsonl, one ChunkRecord per line,
// replacing any earlier file for the document.
func (s *BlobStore) StoreChunks(ctx context.Context, doc storage.StoredDocument, encoding string, chunks []segment.Chunk) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range storage.Records(doc, encoding, chunks) {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encode chunk %d: %w", rec.Ordinal, err)
		}
	}
	if _, err := s.PutObject(ctx, path.Join(ChunksPrefix, doc.ID+".jsonl"), "application/x-ndjson", &buf); err != nil {
		return fmt.Errorf("write chunks: %w", err)
	}
	return nil
}
