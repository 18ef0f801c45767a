package storage

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-ingest/internal/crawler"
	"github.com/JakeFAU/site-ingest/internal/metrics"
	"github.com/JakeFAU/site-ingest/internal/segment"
)

// Segmenter is the part of *segment.Segmenter the sinks need.
type Segmenter interface {
	Segment(html string) ([]segment.Chunk, error)
	Encoding() string
}

// SegmentingSink stores a document and then its chunks. Segmentation
// problems are logged; the document itself stays stored.
type SegmentingSink struct {
	sink   crawler.Sink
	seg    Segmenter
	chunks ChunkStore
	logger *zap.Logger
}

var _ crawler.Sink = (*SegmentingSink)(nil)

// NewSegmentingSink wraps sink.
func NewSegmentingSink(sink crawler.Sink, seg Segmenter, chunks ChunkStore, logger *zap.Logger) *SegmentingSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SegmentingSink{sink: sink, seg: seg, chunks: chunks, logger: logger}
}

// Store implements crawler.Sink.
func (s *SegmentingSink) Store(ctx context.Context, doc crawler.Document) (string, error) {
	id, err := s.sink.Store(ctx, doc)
	if err != nil {
		return "", err
	}
	stored := StoredDocument{ID: id, URL: doc.URL, Title: doc.Title, HTML: doc.HTML}
	if err := SegmentDocument(ctx, s.seg, s.chunks, stored); err != nil {
		s.logger.Warn("Inline segmentation failed", zap.String("document_id", id), zap.String("url", doc.URL), zap.Error(err))
	}
	return id, nil
}

// SegmentDocument segments doc and stores its chunks. A document that
// violates the chunk size bound is skipped with segment.ErrChunkingInvariant.
func SegmentDocument(ctx context.Context, seg Segmenter, store ChunkStore, doc StoredDocument) error {
	chunks, err := seg.Segment(doc.HTML)
	if err != nil {
		status := "error"
		if errors.Is(err, segment.ErrChunkingInvariant) {
			status = "invariant_violation"
		}
		metrics.ObserveSegment(status, 0)
		return err
	}
	if err := store.StoreChunks(ctx, doc, seg.Encoding(), chunks); err != nil {
		metrics.ObserveSegment("store_failed", 0)
		return err
	}
	metrics.ObserveSegment("ok", len(chunks))
	return nil
}
