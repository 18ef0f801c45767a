// Package memory stores documents and chunks in-memory for development and tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/site-ingest/internal/segment"
	"github.com/JakeFAU/site-ingest/internal/storage"
)

// BlobStore stores artifacts in-memory and returns pseudo URIs.
type BlobStore struct {
	mu     sync.RWMutex
	data   map[string][]byte
	chunks map[string][]storage.ChunkRecord
}

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{
		data:   make(map[string][]byte),
		chunks: make(map[string][]storage.ChunkRecord),
	}
}

// PutObject persists the content and returns a URI.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, data io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	byteData, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("failed to read data from reader: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[path] = byteData
	return fmt.Sprintf("memory://%s", path), nil
}

// Get returns a copy of the object stored at path.
func (s *BlobStore) Get(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[path]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// Paths lists stored object paths in order.
func (s *BlobStore) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.data))
	for p := range s.data {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Documents yields each stored document in metadata path order.
func (s *BlobStore) Documents(ctx context.Context, fn func(storage.StoredDocument) error) error {
	prefix := storage.MetadataPrefix + "/"
	for _, p := range s.Paths() {
		if !strings.HasPrefix(p, prefix) || !strings.HasSuffix(p, ".json") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("walk documents: %w", err)
		}
		raw, _ := s.Get(p)
		var meta storage.Metadata
		if err := json.Unmarshal(raw, &meta); err != nil {
			return fmt.Errorf("decode metadata %s: %w", p, err)
		}
		html, ok := s.Get(path.Join(storage.HTMLPrefix, meta.ID+".html"))
		if !ok {
			return fmt.Errorf("html for %s not found", meta.ID)
		}
		if err := fn(storage.StoredDocument{ID: meta.ID, URL: meta.URL, Title: meta.Title, HTML: string(html)}); err != nil {
			return err
		}
	}
	return nil
}

// StoreChunks replaces the chunks held for doc.
func (s *BlobStore) StoreChunks(_ context.Context, doc storage.StoredDocument, encoding string, chunks []segment.Chunk) error {
	records := storage.Records(doc, encoding, chunks)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks[doc.ID] = records
	return nil
}

// Chunks returns the chunk records of a document.
func (s *BlobStore) Chunks(documentID string) []storage.ChunkRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]storage.ChunkRecord(nil), s.chunks[documentID]...)
}
