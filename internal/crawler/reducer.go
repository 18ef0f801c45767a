package crawler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-ingest/internal/frontier"
	"github.com/JakeFAU/site-ingest/internal/metrics"
)

// sinkTimeout bounds one Store call. The sink context is detached from the
// run context so documents finished during shutdown are still written.
const sinkTimeout = 30 * time.Second

// ReduceStats summarizes one reduced batch.
type ReduceStats struct {
	Scraped       int
	Errored       int
	Cancelled     int
	LinksEnqueued int
	SinkFailures  int
}

// Reducer folds task results back into the frontier and hands documents to
// the sink. It runs on the scheduler goroutine.
type Reducer struct {
	frontier Frontier
	sink     Sink
	filter   *DomainFilter
	maxDepth int
	logger   *zap.Logger
}

// NewReducer builds a Reducer. A nil sink discards documents.
func NewReducer(f Frontier, sink Sink, cfg Config, logger *zap.Logger) *Reducer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reducer{
		frontier: f,
		sink:     sink,
		filter:   NewDomainFilter(cfg.AllowedDomains, cfg.DeniedDomains),
		maxDepth: cfg.MaxDepth,
		logger:   logger,
	}
}

// Reduce processes results in the order given. Every result ends in exactly
// one of ResolveScraped, ResolveErrored or Release. Once ctx is done links
// are no longer followed and failed tasks are released rather than errored.
func (r *Reducer) Reduce(ctx context.Context, results []TaskResult) ReduceStats {
	var stats ReduceStats
	var scraped, errored, released []string

	for _, res := range results {
		logger := r.logger.With(zap.String("task_id", res.CorrelationID), zap.String("url", res.URL))
		switch {
		case res.Success:
			scraped = append(scraped, res.URL)
			stats.Scraped++
			htmlBytes := 0
			if res.Document != nil {
				htmlBytes = len(res.Document.HTML)
				if !r.store(ctx, *res.Document, logger) {
					stats.SinkFailures++
				}
			}
			metrics.ObserveTask(res.URL, metrics.OutcomeScraped, htmlBytes, res.Elapsed)
			if ctx.Err() == nil {
				stats.LinksEnqueued += r.enqueueLinks(res)
			}
		case res.Kind == KindCancelled || errors.Is(res.Err, ErrCancelled) || ctx.Err() != nil:
			released = append(released, res.URL)
			stats.Cancelled++
			metrics.ObserveTask(res.URL, metrics.OutcomeCancelled, 0, res.Elapsed)
			logger.Info("Task cancelled; returning URL to pending",
				zap.String("kind", string(res.Kind)), zap.Error(res.Err))
		default:
			errored = append(errored, res.URL)
			stats.Errored++
			metrics.ObserveTask(res.URL, metrics.OutcomeErrored, 0, res.Elapsed)
			logger.Warn("Task errored", zap.String("kind", string(res.Kind)), zap.Error(res.Err))
		}
	}

	if len(scraped) > 0 {
		r.frontier.ResolveScraped(scraped...)
	}
	if len(errored) > 0 {
		r.frontier.ResolveErrored(errored...)
	}
	if len(released) > 0 {
		r.frontier.Release(released...)
	}
	metrics.AddLinksEnqueued(stats.LinksEnqueued)
	return stats
}

func (r *Reducer) store(ctx context.Context, doc Document, logger *zap.Logger) bool {
	if r.sink == nil {
		return true
	}
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()
	id, err := r.sink.Store(storeCtx, doc)
	if err != nil {
		metrics.ObserveSinkFailure("final")
		logger.Error("Failed to store document", zap.Error(err))
		return false
	}
	logger.Debug("Stored document", zap.String("document_id", id))
	return true
}

func (r *Reducer) enqueueLinks(res TaskResult) int {
	next := res.Depth + 1
	if next > r.maxDepth || len(res.Links) == 0 {
		return 0
	}
	entries := make([]frontier.Entry, 0, len(res.Links))
	for _, link := range res.Links {
		if !r.filter.Allowed(Host(link)) {
			continue
		}
		if r.frontier.IsTerminal(link) {
			continue
		}
		entries = append(entries, frontier.Entry{URL: link, Depth: next})
	}
	if len(entries) == 0 {
		return 0
	}
	return r.frontier.EnqueueBatch(entries)
}
