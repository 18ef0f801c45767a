// Package shutdown turns SIGINT/SIGTERM into context cancellation.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Controller owns the signal subscription for one run.
type Controller struct {
	grace   time.Duration
	logger  *zap.Logger
	signals []os.Signal

	mu     sync.Mutex
	reason os.Signal
}

// New builds a Controller. grace is only reported in logs; the worker pool
// enforces it.
func New(grace time.Duration, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		grace:   grace,
		logger:  logger,
		signals: []os.Signal{os.Interrupt, syscall.SIGTERM},
	}
}

// Context returns a child of parent that is cancelled on the first signal.
// A second signal calls force, which usually exits the process. The returned
// stop function releases the subscription.
func (c *Controller) Context(parent context.Context, force func()) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, c.signals...)

	done := make(chan struct{})
	go func() {
		select {
		case sig := <-ch:
			c.record(sig)
			c.logger.Warn("Shutdown signal received; finishing in-flight tasks",
				zap.String("signal", sig.String()),
				zap.Duration("grace", c.grace),
			)
			cancel()
		case <-done:
			return
		}
		select {
		case sig := <-ch:
			c.logger.Error("Second signal received; forcing exit", zap.String("signal", sig.String()))
			if force != nil {
				force()
			}
		case <-done:
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			signal.Stop(ch)
			close(done)
			cancel()
		})
	}
	return ctx, stop
}

// Signal reports the signal that triggered shutdown, if any.
func (c *Controller) Signal() os.Signal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

func (c *Controller) record(sig os.Signal) {
	c.mu.Lock()
	c.reason = sig
	c.mu.Unlock()
}
