// Package app initializes and holds long-lived application services, acting
// as a dependency injection container for the commands.
package app

import (
	"context"
	"errors"
	"fmt"

	gcsstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-ingest/internal/config"
	"github.com/JakeFAU/site-ingest/internal/crawler"
	"github.com/JakeFAU/site-ingest/internal/id/uuid"
	memorypub "github.com/JakeFAU/site-ingest/internal/publisher/memory"
	pubsubpub "github.com/JakeFAU/site-ingest/internal/publisher/pubsub"
	"github.com/JakeFAU/site-ingest/internal/segment"
	"github.com/JakeFAU/site-ingest/internal/storage"
	"github.com/JakeFAU/site-ingest/internal/storage/gcs"
	"github.com/JakeFAU/site-ingest/internal/storage/local"
	"github.com/JakeFAU/site-ingest/internal/storage/memory"
	"github.com/JakeFAU/site-ingest/internal/storage/postgres"
	"github.com/JakeFAU/site-ingest/internal/tokenizer"
	"github.com/JakeFAU/site-ingest/internal/worker"
)

// ErrNoDocumentSource is returned by Segment when the storage mode cannot
// read documents back.
var ErrNoDocumentSource = errors.New("storage mode cannot read documents back")

// App holds the shared, long-lived services for one command invocation. It is
// built once at startup and closed when the command returns.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	sink      crawler.Sink
	chunks    storage.ChunkStore
	source    storage.DocumentSource
	publisher storage.Publisher

	newHandler worker.InitFunc
	closers    []func() error
}

// Option customizes an App.
type Option func(*App)

// WithPublisher replaces the publisher selected by pubsub.mode.
func WithPublisher(p storage.Publisher) Option {
	return func(a *App) { a.publisher = p }
}

// WithHandlerInit replaces the per-worker handler factory used by Crawl.
func WithHandlerInit(init worker.InitFunc) Option {
	return func(a *App) { a.newHandler = init }
}

// New builds the storage backends and publisher described by cfg. It fails
// fast when a backend cannot be reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(a)
	}

	if err := a.initStorage(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initPublisher(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.sink = storage.NewNotifyingSink(a.sink, a.publisher, cfg.PubSub.Topic, logger)

	if cfg.Segment.Inline {
		seg, err := a.Segmenter()
		if err != nil {
			a.Close()
			return nil, err
		}
		a.sink = storage.NewSegmentingSink(a.sink, seg, a.chunks, logger)
	}

	logger.Info("Application services initialized",
		zap.String("storage", cfg.Storage.Mode),
		zap.Bool("fallback", cfg.Storage.Fallback),
		zap.String("pubsub", cfg.PubSub.Mode),
		zap.Bool("inline_segmentation", cfg.Segment.Inline),
	)
	return a, nil
}

// NewLite builds an App without storage or publisher, for commands that only
// render a page or inspect the frontier.
func NewLite(cfg config.Config, logger *zap.Logger, opts ...Option) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Sink returns the composed document sink.
func (a *App) Sink() crawler.Sink { return a.sink }

// ChunkStore returns where segmentation output is written.
func (a *App) ChunkStore() storage.ChunkStore { return a.chunks }

// DocumentSource returns the stored-document reader, or nil when the storage
// mode has none.
func (a *App) DocumentSource() storage.DocumentSource { return a.source }

// Segmenter builds a segmenter from the segment.* settings.
func (a *App) Segmenter() (*segment.Segmenter, error) {
	tok, err := tokenizer.NewTiktoken(a.cfg.Segment.Encoding)
	if err != nil {
		return nil, err
	}
	return segment.New(tok, a.cfg.Segment.Options, a.logger.Named("segment"))
}

func (a *App) initStorage(ctx context.Context) error {
	ids := uuid.New()
	s := a.cfg.Storage

	var primary crawler.Sink
	switch s.Mode {
	case storage.ModeLocal:
		blobs, err := local.New(s.Local)
		if err != nil {
			return fmt.Errorf("init local storage: %w", err)
		}
		sink, err := storage.NewBlobSink(blobs, ids)
		if err != nil {
			return err
		}
		a.sink, a.chunks, a.source = sink, blobs, blobs
		a.logger.Info("Using local storage", zap.String("dir", blobs.BaseDir()))
		return nil
	case storage.ModeMemory:
		blobs := memory.NewBlobStore()
		sink, err := storage.NewBlobSink(blobs, ids)
		if err != nil {
			return err
		}
		primary, a.chunks, a.source = sink, blobs, blobs
		a.logger.Info("Using in-memory storage; documents are discarded on exit")
	case storage.ModeGCS:
		client, err := gcsstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("init gcs client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		blobs, err := gcs.New(client, s.GCS)
		if err != nil {
			return err
		}
		sink, err := storage.NewBlobSink(blobs, ids)
		if err != nil {
			return err
		}
		primary, a.chunks = sink, blobs
		a.logger.Info("Using GCS storage", zap.String("bucket", s.GCS.Bucket), zap.String("prefix", s.GCS.Prefix))
	case storage.ModePostgres:
		store, err := postgres.New(ctx, s.Postgres)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() error { store.Close(); return nil })
		primary, a.chunks, a.source = store, store, store
		a.logger.Info("Using Postgres storage")
	default:
		return fmt.Errorf("unknown storage mode: %s", s.Mode)
	}

	a.sink = primary
	if s.Fallback {
		blobs, err := local.New(s.Local)
		if err != nil {
			return fmt.Errorf("init fallback storage: %w", err)
		}
		fallback, err := storage.NewBlobSink(blobs, ids)
		if err != nil {
			return err
		}
		a.sink = storage.NewFallbackSink(primary, fallback, a.logger)
		a.logger.Info("Local fallback enabled", zap.String("dir", blobs.BaseDir()))
	}
	return nil
}

func (a *App) initPublisher(ctx context.Context) error {
	if a.publisher != nil {
		return nil
	}
	switch a.cfg.PubSub.Mode {
	case config.PublisherNone:
	case config.PublisherMemory:
		a.publisher = memorypub.New()
	case config.PublisherPubSub:
		p, err := pubsubpub.New(ctx, a.cfg.PubSub.Config)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, p.Close)
		a.publisher = p
		a.logger.Info("Publishing stored documents", zap.String("topic", a.cfg.PubSub.Topic))
	default:
		return fmt.Errorf("unknown pubsub mode: %s", a.cfg.PubSub.Mode)
	}
	return nil
}

// Close releases every backend in reverse order of creation and flushes the
// logger.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("Error closing service", zap.Error(err))
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
}
