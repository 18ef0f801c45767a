package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-ingest/internal/segment"
	"github.com/JakeFAU/site-ingest/internal/storage"
)

// SegmentStats summarizes a segmentation pass.
type SegmentStats struct {
	Documents int
	Segmented int
	Skipped   int
	Failed    int
}

// Segment chunks every stored document and writes the chunks to the chunk
// store. Documents that break the chunk size bound are skipped; other
// per-document failures are counted and the pass continues.
func (a *App) Segment(ctx context.Context) (SegmentStats, error) {
	if a.source == nil {
		return SegmentStats{}, fmt.Errorf("%w: %s", ErrNoDocumentSource, a.cfg.Storage.Mode)
	}
	seg, err := a.Segmenter()
	if err != nil {
		return SegmentStats{}, err
	}
	return SegmentAll(ctx, a.source, seg, a.chunks, a.logger)
}

// SegmentAll runs seg over every document in src.
func SegmentAll(ctx context.Context, src storage.DocumentSource, seg storage.Segmenter, chunks storage.ChunkStore, logger *zap.Logger) (SegmentStats, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var stats SegmentStats
	err := src.Documents(ctx, func(doc storage.StoredDocument) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Documents++
		err := storage.SegmentDocument(ctx, seg, chunks, doc)
		switch {
		case err == nil:
			stats.Segmented++
		case errors.Is(err, segment.ErrChunkingInvariant):
			stats.Skipped++
			logger.Warn("Skipping document", zap.String("document_id", doc.ID), zap.String("url", doc.URL), zap.Error(err))
		default:
			stats.Failed++
			logger.Error("Segmentation failed", zap.String("document_id", doc.ID), zap.String("url", doc.URL), zap.Error(err))
		}
		return nil
	})
	logger.Info("Segmentation finished",
		zap.Int("documents", stats.Documents),
		zap.Int("segmented", stats.Segmented),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed),
	)
	if err != nil {
		return stats, fmt.Errorf("iterate documents: %w", err)
	}
	return stats, nil
}
