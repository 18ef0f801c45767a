package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"

	"github.com/JakeFAU/site-ingest/internal/crawler"
)

// Object layout inside a blob store.
const (
	HTMLPrefix     = "html"
	MetadataPrefix = "metadata"
)

// BlobSink stores each document as html/<id>.html plus metadata/<id>.json.
type BlobSink struct {
	blobs BlobStore
	ids   crawler.IDGenerator
}

var _ crawler.Sink = (*BlobSink)(nil)

// NewBlobSink builds a BlobSink.
func NewBlobSink(blobs BlobStore, ids crawler.IDGenerator) (*BlobSink, error) {
	if blobs == nil {
		return nil, errors.New("blob store is required")
	}
	if ids == nil {
		return nil, errors.New("id generator is required")
	}
	return &BlobSink{blobs: blobs, ids: ids}, nil
}

// Store implements crawler.Sink and returns the document id.
func (s *BlobSink) Store(ctx context.Context, doc crawler.Document) (string, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("document id: %w", err)
	}

	htmlURI, err := s.blobs.PutObject(ctx, path.Join(HTMLPrefix, id+".html"), "text/html; charset=utf-8",
		bytes.NewReader([]byte(doc.HTML)))
	if err != nil {
		return "", fmt.Errorf("put html: %w", err)
	}

	meta := MetadataFor(id, htmlURI, doc)
	payload, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	if _, err := s.blobs.PutObject(ctx, path.Join(MetadataPrefix, id+".json"), "application/json",
		bytes.NewReader(payload)); err != nil {
		return "", fmt.Errorf("put metadata: %w", err)
	}
	return id, nil
}

// MetadataFor builds the metadata record of doc.
func MetadataFor(id, htmlURI string, doc crawler.Document) Metadata {
	links := doc.Links
	if links == nil {
		links = []string{}
	}
	return Metadata{
		ID:          id,
		URL:         doc.URL,
		FinalURL:    doc.FinalURL,
		Title:       doc.Title,
		Language:    doc.Language,
		Depth:       doc.Depth,
		StatusCode:  doc.StatusCode,
		ContentHash: doc.ContentHash,
		FetchedAt:   doc.FetchedAt,
		HTMLURI:     htmlURI,
		Links:       links,
	}
}
