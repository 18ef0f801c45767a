package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-ingest/internal/api"
	"github.com/JakeFAU/site-ingest/internal/cleaner"
	"github.com/JakeFAU/site-ingest/internal/clock/system"
	"github.com/JakeFAU/site-ingest/internal/crawler"
	"github.com/JakeFAU/site-ingest/internal/fetcher/headless"
	"github.com/JakeFAU/site-ingest/internal/fetcher/process"
	"github.com/JakeFAU/site-ingest/internal/frontier"
	"github.com/JakeFAU/site-ingest/internal/hash/sha256"
	"github.com/JakeFAU/site-ingest/internal/id/uuid"
	"github.com/JakeFAU/site-ingest/internal/metrics"
	"github.com/JakeFAU/site-ingest/internal/shutdown"
	"github.com/JakeFAU/site-ingest/internal/worker"
)

// CrawlOptions carries per-invocation settings that are not part of Config.
type CrawlOptions struct {
	// WorkerArgs start the task loop of each worker child when
	// crawler.isolation is "process".
	WorkerArgs []string
	// Force runs on a second shutdown signal. Defaults to os.Exit(1).
	Force func()
}

// OpenFrontier loads the frontier logs named by frontier.*.
func (a *App) OpenFrontier() (*frontier.Store, error) {
	return frontier.Open(a.cfg.Frontier, a.logger.Named("frontier"))
}

// Crawl runs the crawl to completion or until a shutdown signal, then
// snapshots the frontier. It serves the status endpoints while it runs when
// server.addr is set.
func (a *App) Crawl(ctx context.Context, opts CrawlOptions) (crawler.RunStats, error) {
	if err := a.cfg.ValidateCrawl(); err != nil {
		return crawler.RunStats{}, err
	}
	metrics.Init()
	cc := a.cfg.Crawler

	store, err := a.OpenFrontier()
	if err != nil {
		return crawler.RunStats{}, err
	}

	force := opts.Force
	if force == nil {
		force = func() { os.Exit(1) }
	}
	ctl := shutdown.New(cc.ShutdownGrace, a.logger)
	runCtx, stop := ctl.Context(ctx, force)
	defer stop()

	serverDone := a.startStatusServer(runCtx, store)

	initFn := a.newHandler
	if initFn == nil {
		initFn, err = a.handlerInit(opts)
		if err != nil {
			return crawler.RunStats{}, err
		}
	}
	pool, err := worker.New(worker.Config{
		Workers:       cc.Workers,
		TaskTimeout:   cc.TaskTimeout,
		ShutdownGrace: cc.ShutdownGrace,
	}, initFn, a.logger.Named("worker"))
	if err != nil {
		return crawler.RunStats{}, err
	}
	if err := pool.Start(runCtx); err != nil {
		return crawler.RunStats{}, fmt.Errorf("start worker pool: %w", err)
	}

	reducer := crawler.NewReducer(store, a.sink, cc, a.logger.Named("reducer"))
	scheduler := crawler.NewScheduler(cc, store, pool, reducer, uuid.NewShort(), a.logger.Named("scheduler"))
	if serverDone != nil {
		serverDone.ready(true)
	}

	stats, runErr := scheduler.Run(runCtx)

	closeCtx, cancel := context.WithTimeout(context.Background(), cc.ShutdownGrace+time.Second)
	defer cancel()
	if err := pool.Close(closeCtx); err != nil {
		a.logger.Warn("Worker pool did not stop cleanly", zap.Error(err))
	}
	stop()
	if serverDone != nil {
		if err := serverDone.wait(); err != nil {
			a.logger.Warn("Status server stopped with error", zap.Error(err))
		}
	}
	if sig := ctl.Signal(); sig != nil {
		a.logger.Info("Crawl interrupted; rerun to resume", zap.String("signal", sig.String()))
	}
	return stats, runErr
}

type statusServer struct {
	srv  *api.Server
	done chan error
}

func (s *statusServer) ready(v bool) { s.srv.SetReady(v) }

func (s *statusServer) wait() error { return <-s.done }

func (a *App) startStatusServer(ctx context.Context, store *frontier.Store) *statusServer {
	if a.cfg.Server.Addr == "" {
		return nil
	}
	s := &statusServer{srv: api.NewServer(store, a.logger.Named("api")), done: make(chan error, 1)}
	go func() {
		s.done <- s.srv.ListenAndServe(ctx, a.cfg.Server.Addr, a.cfg.Server.ShutdownTimeout)
	}()
	return s
}

// handlerInit returns the per-worker factory for the configured isolation.
func (a *App) handlerInit(opts CrawlOptions) (worker.InitFunc, error) {
	if a.cfg.Crawler.Isolation == crawler.IsolationProcess {
		return func(_ context.Context, _ int, logger *zap.Logger) (crawler.Handler, func(), error) {
			h, err := process.New(process.Config{Args: opts.WorkerArgs}, logger)
			if err != nil {
				return nil, nil, err
			}
			return h, h.Close, nil
		}, nil
	}

	shared, err := a.sharedDeps()
	if err != nil {
		return nil, err
	}
	return func(_ context.Context, _ int, logger *zap.Logger) (crawler.Handler, func(), error) {
		return a.newProcessor(shared, logger)
	}, nil
}

type processorShared struct {
	limiter *headless.DomainLimiter
	cleaner crawler.Cleaner
	robots  crawler.RobotsPolicy
}

func (a *App) sharedDeps() (processorShared, error) {
	cl, err := cleaner.New(a.cfg.Cleaner.Mode)
	if err != nil {
		return processorShared{}, err
	}
	var limiter *headless.DomainLimiter
	if a.cfg.Render.DomainQPS > 0 {
		limiter = headless.NewDomainLimiter(a.cfg.Render.DomainQPS)
	}
	robots := crawler.NewRobotsPolicy(
		a.cfg.Crawler.RespectRobots,
		a.cfg.Crawler.UserAgent,
		&http.Client{Timeout: 10 * time.Second},
		a.logger.Named("robots"),
	)
	return processorShared{limiter: limiter, cleaner: cl, robots: robots}, nil
}

// newProcessor starts one browser and wraps it in a Processor.
func (a *App) newProcessor(shared processorShared, logger *zap.Logger) (*crawler.Processor, func(), error) {
	renderer, err := headless.New(headless.Config{
		UserAgent:  a.cfg.Crawler.UserAgent,
		Headless:   a.cfg.Render.Headless,
		NavTimeout: a.cfg.Render.NavTimeout,
	}, shared.limiter, logger)
	if err != nil {
		return nil, nil, err
	}
	p, err := crawler.NewProcessor(crawler.ProcessorDeps{
		Renderer: renderer,
		Cleaner:  shared.cleaner,
		Robots:   shared.robots,
		Hasher:   sha256.New(),
		Clock:    system.New(),
		Logger:   logger,
	}, a.cfg.Render)
	if err != nil {
		renderer.Close()
		return nil, nil, err
	}
	return p, renderer.Close, nil
}

// RenderTask handles a single task in this process. It backs the render
// subcommand used to check how one page renders.
func (a *App) RenderTask(ctx context.Context, task crawler.Task) (crawler.TaskResult, error) {
	if err := a.cfg.Render.Validate(); err != nil {
		return crawler.TaskResult{}, err
	}
	shared, err := a.sharedDeps()
	if err != nil {
		return crawler.TaskResult{}, err
	}
	p, closeFn, err := a.newProcessor(shared, a.logger)
	if err != nil {
		return crawler.Failed(task, crawler.KindFetch, fmt.Errorf("%w: %w", crawler.ErrFetch, err)), nil
	}
	defer closeFn()
	return p.Handle(ctx, task), nil
}

// ServeTasks is the task loop of a worker child. One browser serves every
// task read from in until in is closed.
func (a *App) ServeTasks(ctx context.Context, in io.Reader, out io.Writer) error {
	if err := a.cfg.Render.Validate(); err != nil {
		return err
	}
	shared, err := a.sharedDeps()
	if err != nil {
		return err
	}
	p, closeFn, err := a.newProcessor(shared, a.logger)
	if err != nil {
		return fmt.Errorf("start renderer: %w", err)
	}
	defer closeFn()
	return process.Serve(ctx, p, in, out)
}

// ClearErrored truncates the errored log so those URLs are retried.
func (a *App) ClearErrored() (int, error) {
	store, err := a.OpenFrontier()
	if err != nil {
		return 0, err
	}
	n, err := store.ClearErrored()
	if err != nil {
		return 0, fmt.Errorf("clear errored: %w", err)
	}
	return n, nil
}

// FrontierStats loads the frontier and reports its set sizes.
func (a *App) FrontierStats() (frontier.Stats, error) {
	store, err := a.OpenFrontier()
	if err != nil {
		return frontier.Stats{}, err
	}
	return store.Stats(), nil
}
