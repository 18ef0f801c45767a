// Package headless renders pages in headless Chrome via chromedp.
package headless

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-ingest/internal/crawler"
)

const (
	defaultNavTimeout = 45 * time.Second
	networkIdleCap    = 10 * time.Second
)

// ErrClosed is returned by Render after Close.
var ErrClosed = errors.New("renderer closed")

// Config controls the browser owned by one Renderer.
type Config struct {
	UserAgent  string
	Headless   bool
	NavTimeout time.Duration
	// ExecPath overrides the Chrome binary lookup when set.
	ExecPath string
}

// Renderer owns one Chrome process. Each Render call opens a fresh tab, so
// a Renderer belongs to a single worker and is not shared.
type Renderer struct {
	cfg     Config
	limiter *DomainLimiter
	logger  *zap.Logger

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

var _ crawler.Renderer = (*Renderer)(nil)

// New starts a Chrome process. limiter may be nil and is usually shared by
// every worker's Renderer.
func New(cfg Config, limiter *DomainLimiter, logger *zap.Logger) (*Renderer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = defaultNavTimeout
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.ModifyCmdFunc(detachProcessGroup),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	// The first Run launches the browser.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start chrome: %w", err)
	}

	return &Renderer{
		cfg:           cfg,
		limiter:       limiter,
		logger:        logger,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}, nil
}

// Close shuts the browser down.
func (r *Renderer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.browserCancel()
	r.allocCancel()
}

// Render navigates a new tab to req.URL, waits per req and returns the DOM.
func (r *Renderer) Render(ctx context.Context, req crawler.RenderRequest) (crawler.RenderResult, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return crawler.RenderResult{}, ErrClosed
	}

	if err := r.limiter.Wait(ctx, req.URL); err != nil {
		return crawler.RenderResult{}, fmt.Errorf("render rate limit: %w", err)
	}

	tabCtx, cancelTab := chromedp.NewContext(r.browserCtx)
	defer cancelTab()

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = r.cfg.NavTimeout
	}
	taskCtx, cancelTask := context.WithTimeout(tabCtx, timeout)
	defer cancelTask()

	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	meta := newResponseMeta()
	idle := make(chan struct{})
	var idleOnce sync.Once
	chromedp.ListenTarget(tabCtx, func(ev any) {
		switch e := ev.(type) {
		case *network.EventResponseReceived:
			meta.capture(e)
		case *page.EventLifecycleEvent:
			if e.Name == "networkIdle" {
				idleOnce.Do(func() { close(idle) })
			}
		}
	})

	var html, location string
	actions := []chromedp.Action{
		r.setupAction(req.WaitUntil == crawler.WaitNetworkIdle),
		chromedp.Navigate(req.URL),
	}
	actions = append(actions, waitAction(req, idle)...)
	if req.SettleDelay > 0 {
		actions = append(actions, chromedp.Sleep(req.SettleDelay))
	}
	actions = append(actions,
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)

	if err := chromedp.Run(taskCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return crawler.RenderResult{}, fmt.Errorf("render %s: %w", req.URL, ctxErr)
		}
		return crawler.RenderResult{}, fmt.Errorf("%w: render %s: %w", crawler.ErrFetch, req.URL, err)
	}

	status, finalURL := meta.snapshotWithFallbacks(req.URL, location)
	return crawler.RenderResult{
		HTML:       html,
		FinalURL:   finalURL,
		StatusCode: status,
	}, nil
}

func (r *Renderer) setupAction(lifecycle bool) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if r.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if lifecycle {
			if err := page.SetLifecycleEventsEnabled(true).Do(ctx); err != nil {
				return fmt.Errorf("enable lifecycle events: %w", err)
			}
		}
		return nil
	})
}

// waitAction builds the wait condition: body ready, network idle (bounded,
// falling back to body ready) and an optional selector.
func waitAction(req crawler.RenderRequest, idle <-chan struct{}) []chromedp.Action {
	actions := []chromedp.Action{chromedp.WaitReady("body", chromedp.ByQuery)}
	if req.WaitUntil == crawler.WaitNetworkIdle {
		actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
			timer := time.NewTimer(networkIdleCap)
			defer timer.Stop()
			select {
			case <-idle:
			case <-timer.C:
			case <-ctx.Done():
				return fmt.Errorf("wait network idle: %w", ctx.Err())
			}
			return nil
		}))
	}
	if req.WaitSelector != "" {
		actions = append(actions, chromedp.WaitVisible(req.WaitSelector, chromedp.ByQuery))
	}
	return actions
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
