// Package worker runs crawl tasks on a fixed set of long-lived workers.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-ingest/internal/crawler"
	"github.com/JakeFAU/site-ingest/internal/logging"
	"github.com/JakeFAU/site-ingest/internal/metrics"
)

// InitFunc prepares a worker's resources once, before its first task. The
// returned close function runs when the pool shuts down.
type InitFunc func(ctx context.Context, workerID int, logger *zap.Logger) (crawler.Handler, func(), error)

// Config controls Pool behavior.
type Config struct {
	Workers       int
	TaskTimeout   time.Duration
	ShutdownGrace time.Duration
}

// Pool executes batches of tasks on Workers goroutines, each owning the
// Handler its InitFunc produced.
type Pool struct {
	cfg    Config
	init   InitFunc
	logger *zap.Logger

	jobs       chan *job
	root       context.Context
	rootCancel context.CancelFunc
	wg         sync.WaitGroup

	mu      sync.Mutex
	started bool
	closed  bool
}

var _ crawler.Runner = (*Pool)(nil)

type job struct {
	task    crawler.Task
	ctx     context.Context
	cancel  context.CancelFunc
	started chan struct{}
	skipped chan struct{}
	done    chan crawler.TaskResult
}

// New constructs a Pool. Call Start before RunBatch.
func New(cfg Config, init InitFunc, logger *zap.Logger) (*Pool, error) {
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("workers must be > 0")
	}
	if cfg.TaskTimeout <= 0 {
		return nil, fmt.Errorf("task timeout must be > 0")
	}
	if init == nil {
		return nil, fmt.Errorf("init func is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	root, cancel := context.WithCancel(context.Background())
	return &Pool{
		cfg:        cfg,
		init:       init,
		logger:     logger,
		jobs:       make(chan *job),
		root:       root,
		rootCancel: cancel,
	}, nil
}

type ready struct {
	id  int
	err error
}

// Start launches the workers and waits until every InitFunc returned. If any
// worker fails to initialize the pool is closed and the error returned.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started || p.closed {
		p.mu.Unlock()
		return fmt.Errorf("pool already started")
	}
	p.started = true
	p.mu.Unlock()

	readyCh := make(chan ready, p.cfg.Workers)
	p.wg.Add(p.cfg.Workers)
	for i := 0; i < p.cfg.Workers; i++ {
		go p.worker(ctx, i, readyCh)
	}

	var errs []error
	for i := 0; i < p.cfg.Workers; i++ {
		r := <-readyCh
		if r.err != nil {
			errs = append(errs, fmt.Errorf("worker %d init: %w", r.id, r.err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		if cerr := p.Close(ctx); cerr != nil {
			p.logger.Warn("close after failed start", zap.Error(cerr))
		}
		return err
	}
	p.logger.Info("worker pool started", zap.Int("workers", p.cfg.Workers))
	return nil
}

func (p *Pool) worker(ctx context.Context, id int, readyCh chan<- ready) {
	defer p.wg.Done()
	logger := p.logger.With(zap.Int("worker", id))

	handler, closeFn, err := p.init(ctx, id, logger)
	readyCh <- ready{id: id, err: err}
	if err != nil {
		return
	}
	defer func() {
		if closeFn != nil {
			closeFn()
		}
		logger.Debug("worker stopped")
	}()

	for j := range p.jobs {
		if j.ctx.Err() != nil {
			// Its supervisor already gave up on it.
			continue
		}
		close(j.started)
		j.done <- p.execute(j, handler, logger)
	}
}

func (p *Pool) execute(j *job, handler crawler.Handler, logger *zap.Logger) (res crawler.TaskResult) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	start := time.Now()
	taskLogger := logging.WithTask(logger, j.task.CorrelationID)
	defer func() {
		if r := recover(); r != nil {
			taskLogger.Error("task panicked",
				zap.String("url", j.task.URL),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			res = crawler.Failed(j.task, crawler.KindFetch, fmt.Errorf("%w: panic: %v", crawler.ErrFetch, r))
			res.Elapsed = time.Since(start)
		}
	}()

	taskLogger.Debug("task started", zap.String("url", j.task.URL), zap.Int("depth", j.task.Depth))
	res = handler.Handle(j.ctx, j.task)
	res.URL = j.task.URL
	res.Depth = j.task.Depth
	res.CorrelationID = j.task.CorrelationID
	if res.Elapsed == 0 {
		res.Elapsed = time.Since(start)
	}
	return res
}

// RunBatch dispatches tasks in order and blocks until every one of them
// produced a result, hit its deadline or was cancelled. Results come back in
// completion order. Once ctx is done no further tasks start; running tasks
// get ShutdownGrace before they are abandoned. A task that no worker picks up
// within TaskTimeout times the number of rounds the batch needs is cancelled,
// so workers stuck in abandoned handlers cannot stall the batch.
func (p *Pool) RunBatch(ctx context.Context, tasks []crawler.Task) []crawler.TaskResult {
	if len(tasks) == 0 {
		return nil
	}
	jobs := make([]*job, len(tasks))
	for i, task := range tasks {
		jctx, cancel := context.WithCancel(p.root)
		jobs[i] = &job{
			task:    task,
			ctx:     jctx,
			cancel:  cancel,
			started: make(chan struct{}),
			skipped: make(chan struct{}),
			done:    make(chan crawler.TaskResult, 1),
		}
	}

	rounds := (len(jobs) + p.cfg.Workers - 1) / p.cfg.Workers
	startBound := p.cfg.TaskTimeout * time.Duration(rounds)

	out := make(chan crawler.TaskResult, len(jobs))
	for _, j := range jobs {
		go p.supervise(ctx, j, startBound, out)
	}
	go p.feed(ctx, jobs)

	results := make([]crawler.TaskResult, 0, len(jobs))
	for range jobs {
		results = append(results, <-out)
	}
	return results
}

func (p *Pool) feed(ctx context.Context, jobs []*job) {
	p.mu.Lock()
	usable := p.started && !p.closed
	p.mu.Unlock()

	for i, j := range jobs {
		if !usable {
			close(j.skipped)
			continue
		}
		select {
		case p.jobs <- j:
		case <-j.ctx.Done():
		case <-ctx.Done():
			for _, rest := range jobs[i:] {
				close(rest.skipped)
			}
			return
		}
	}
}

func (p *Pool) supervise(ctx context.Context, j *job, startBound time.Duration, out chan<- crawler.TaskResult) {
	defer j.cancel()
	logger := logging.WithTask(p.logger, j.task.CorrelationID).With(zap.String("url", j.task.URL))

	waiting := time.NewTimer(startBound)
	select {
	case <-j.started:
		waiting.Stop()
	case <-j.skipped:
		waiting.Stop()
		logger.Debug("task not started before shutdown")
		out <- crawler.Failed(j.task, crawler.KindCancelled, fmt.Errorf("%w: not started", crawler.ErrCancelled))
		return
	case <-waiting.C:
		logger.Warn("no worker picked up task", zap.Duration("waited", startBound))
		out <- crawler.Failed(j.task, crawler.KindCancelled,
			fmt.Errorf("%w: no free worker within %s", crawler.ErrCancelled, startBound))
		return
	}

	start := time.Now()
	deadline := time.NewTimer(p.cfg.TaskTimeout)
	defer deadline.Stop()

	shutdown := ctx.Done()
	var grace <-chan time.Time
	for {
		select {
		case res := <-j.done:
			out <- res
			return
		case <-deadline.C:
			logger.Warn("task deadline exceeded", zap.Duration("timeout", p.cfg.TaskTimeout))
			res := crawler.Failed(j.task, crawler.KindTimeout,
				fmt.Errorf("%w: after %s", crawler.ErrTimeout, p.cfg.TaskTimeout))
			res.Elapsed = time.Since(start)
			out <- res
			return
		case <-shutdown:
			shutdown = nil
			timer := time.NewTimer(p.cfg.ShutdownGrace)
			defer timer.Stop()
			grace = timer.C
		case <-grace:
			logger.Warn("task abandoned after shutdown grace", zap.Duration("grace", p.cfg.ShutdownGrace))
			res := crawler.Failed(j.task, crawler.KindCancelled,
				fmt.Errorf("%w: shutdown grace of %s elapsed", crawler.ErrCancelled, p.cfg.ShutdownGrace))
			res.Elapsed = time.Since(start)
			out <- res
			return
		}
	}
}

// Close stops the workers and runs their close hooks. It waits for running
// tasks to return until ctx is done.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	close(p.jobs)
	p.rootCancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for workers: %w", ctx.Err())
	}
}
