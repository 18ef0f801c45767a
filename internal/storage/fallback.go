package storage

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-ingest/internal/crawler"
	"github.com/JakeFAU/site-ingest/internal/metrics"
)

// FallbackSink writes to primary and, when that fails, to fallback.
type FallbackSink struct {
	primary  crawler.Sink
	fallback crawler.Sink
	logger   *zap.Logger
}

var _ crawler.Sink = (*FallbackSink)(nil)

// NewFallbackSink builds a FallbackSink. A nil fallback returns primary unchanged.
func NewFallbackSink(primary, fallback crawler.Sink, logger *zap.Logger) crawler.Sink {
	if fallback == nil {
		return primary
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackSink{primary: primary, fallback: fallback, logger: logger}
}

// Store implements crawler.Sink.
func (s *FallbackSink) Store(ctx context.Context, doc crawler.Document) (string, error) {
	id, err := s.primary.Store(ctx, doc)
	if err == nil {
		return id, nil
	}
	metrics.ObserveSinkFailure("primary")
	s.logger.Warn("Primary sink failed; writing to fallback", zap.String("url", doc.URL), zap.Error(err))

	id, fbErr := s.fallback.Store(ctx, doc)
	if fbErr != nil {
		metrics.ObserveSinkFailure("fallback")
		return "", fmt.Errorf("store document: %w", errors.Join(err, fbErr))
	}
	return id, nil
}
