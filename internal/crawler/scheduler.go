package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-ingest/internal/frontier"
	"github.com/JakeFAU/site-ingest/internal/metrics"
)

// RunStats summarizes a crawl run.
type RunStats struct {
	Batches       int
	Scraped       int
	Errored       int
	Cancelled     int
	LinksEnqueued int
	SinkFailures  int
	Completed     bool
	Elapsed       time.Duration
}

func (s *RunStats) add(b ReduceStats) {
	s.Scraped += b.Scraped
	s.Errored += b.Errored
	s.Cancelled += b.Cancelled
	s.LinksEnqueued += b.LinksEnqueued
	s.SinkFailures += b.SinkFailures
}

// Scheduler drives the batch loop: pull a batch from the frontier, run it on
// the pool, reduce the results, repeat until the frontier is empty or ctx ends.
type Scheduler struct {
	cfg      Config
	frontier Frontier
	runner   Runner
	reducer  *Reducer
	ids      IDGenerator
	logger   *zap.Logger
}

// NewScheduler wires a Scheduler. ids may be nil.
func NewScheduler(cfg Config, f Frontier, runner Runner, reducer *Reducer, ids IDGenerator, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cfg:      cfg,
		frontier: f,
		runner:   runner,
		reducer:  reducer,
		ids:      ids,
		logger:   logger,
	}
}

// Run crawls until the frontier drains or ctx is cancelled. The pending log
// is snapshotted on every exit path.
func (s *Scheduler) Run(ctx context.Context) (RunStats, error) {
	start := time.Now()
	var stats RunStats

	seeded, err := s.seed()
	if err != nil {
		return stats, err
	}
	s.logger.Info("Crawl starting",
		zap.Int("seeds_added", seeded),
		zap.Int("max_depth", s.cfg.MaxDepth),
		zap.Int("batch_size", s.cfg.BatchSize),
	)

	for {
		if ctx.Err() != nil {
			s.logger.Info("Shutdown requested; stopping before next batch")
			break
		}
		batch := s.frontier.NextBatch(s.cfg.BatchSize)
		if len(batch) == 0 {
			stats.Completed = true
			break
		}
		stats.Batches++
		tasks := s.tasks(batch)
		s.logger.Info("Dispatching batch", zap.Int("batch", stats.Batches), zap.Int("tasks", len(tasks)))

		results := s.runner.RunBatch(ctx, tasks)
		results = s.releaseMissing(tasks, results)
		stats.add(s.reducer.Reduce(ctx, results))

		fs := s.frontier.Stats()
		metrics.SetFrontierSize(fs.Pending, fs.InFlight, fs.Scraped, fs.Errored)

		if !sleep(ctx, s.cfg.BatchDelay) {
			s.logger.Info("Shutdown requested during batch delay")
			break
		}
	}

	stats.Elapsed = time.Since(start)
	snapErr := s.frontier.SnapshotPending()
	if snapErr != nil {
		s.logger.Error("Failed to snapshot pending frontier", zap.Error(snapErr))
	}
	fs := s.frontier.Stats()
	s.logger.Info("Crawl finished",
		zap.Bool("completed", stats.Completed),
		zap.Int("batches", stats.Batches),
		zap.Int("scraped", stats.Scraped),
		zap.Int("errored", stats.Errored),
		zap.Int("cancelled", stats.Cancelled),
		zap.Int("links_enqueued", stats.LinksEnqueued),
		zap.Int("sink_failures", stats.SinkFailures),
		zap.Int("pending_remaining", fs.Pending+fs.InFlight),
		zap.Int("scraped_total", fs.Scraped),
		zap.Int("errored_total", fs.Errored),
		zap.Duration("elapsed", stats.Elapsed),
	)
	if snapErr != nil {
		return stats, fmt.Errorf("snapshot pending: %w", snapErr)
	}
	return stats, nil
}

func (s *Scheduler) seed() (int, error) {
	entries := make([]frontier.Entry, 0, len(s.cfg.Seeds))
	for _, raw := range s.cfg.Seeds {
		normalized, err := NormalizeURL(raw)
		if err != nil {
			s.logger.Warn("Skipping invalid seed", zap.String("seed", raw), zap.Error(err))
			continue
		}
		entries = append(entries, frontier.Entry{URL: normalized, Depth: 0})
	}
	if len(entries) == 0 && len(s.cfg.Seeds) > 0 {
		return 0, errors.New("no valid seed URLs")
	}
	return s.frontier.EnqueueBatch(entries), nil
}

func (s *Scheduler) tasks(batch []frontier.Entry) []Task {
	tasks := make([]Task, len(batch))
	for i, entry := range batch {
		tasks[i] = Task{URL: entry.URL, Depth: entry.Depth, CorrelationID: s.correlationID()}
	}
	return tasks
}

func (s *Scheduler) correlationID() string {
	if s.ids != nil {
		if id, err := s.ids.NewID(); err == nil && id != "" {
			return id
		}
	}
	return uuid.NewString()[:8]
}

// releaseMissing turns any task the runner did not report on into a
// cancelled result so it is returned to pending instead of lost.
func (s *Scheduler) releaseMissing(tasks []Task, results []TaskResult) []TaskResult {
	if len(results) >= len(tasks) {
		return results
	}
	seen := make(map[string]struct{}, len(results))
	for _, r := range results {
		seen[r.URL] = struct{}{}
	}
	for _, t := range tasks {
		if _, ok := seen[t.URL]; ok {
			continue
		}
		s.logger.Warn("Runner returned no result for task", zap.String("task_id", t.CorrelationID), zap.String("url", t.URL))
		results = append(results, Failed(t, KindCancelled, fmt.Errorf("%w: no result reported", ErrCancelled)))
	}
	return results
}

// sleep waits for d or until ctx is done, reporting whether the full delay elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
