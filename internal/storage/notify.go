package storage

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-ingest/internal/crawler"
)

// StoredEvent is the message published after a document is stored.
type StoredEvent struct {
	DocumentID string    `json:"document_id"`
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	Language   string    `json:"language"`
	Depth      int       `json:"depth"`
	FetchedAt  time.Time `json:"fetched_at"`
}

// NotifyingSink publishes a StoredEvent after every successful store.
// Publish failures are logged and do not fail the store.
type NotifyingSink struct {
	sink      crawler.Sink
	publisher Publisher
	topic     string
	logger    *zap.Logger
}

var _ crawler.Sink = (*NotifyingSink)(nil)

// NewNotifyingSink wraps sink. A nil publisher returns sink unchanged.
func NewNotifyingSink(sink crawler.Sink, publisher Publisher, topic string, logger *zap.Logger) crawler.Sink {
	if publisher == nil {
		return sink
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotifyingSink{sink: sink, publisher: publisher, topic: topic, logger: logger}
}

// Store implements crawler.Sink.
func (s *NotifyingSink) Store(ctx context.Context, doc crawler.Document) (string, error) {
	id, err := s.sink.Store(ctx, doc)
	if err != nil {
		return "", err
	}
	msgID, pubErr := s.publisher.Publish(ctx, s.topic, StoredEvent{
		DocumentID: id,
		URL:        doc.URL,
		Title:      doc.Title,
		Language:   doc.Language,
		Depth:      doc.Depth,
		FetchedAt:  doc.FetchedAt,
	})
	if pubErr != nil {
		s.logger.Warn("Failed to publish stored event", zap.String("document_id", id), zap.Error(pubErr))
		return id, nil
	}
	s.logger.Debug("Published stored event", zap.String("document_id", id), zap.String("message_id", msgID))
	return id, nil
}
