package headless

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/site-ingest/internal/metrics"
)

// DomainLimiter caps renders per host across every worker in the process.
// A nil or zero-QPS limiter never blocks.
type DomainLimiter struct {
	qps      float64
	limiters sync.Map // host -> *rate.Limiter
}

// NewDomainLimiter returns a limiter allowing qps renders per second per host.
func NewDomainLimiter(qps float64) *DomainLimiter {
	return &DomainLimiter{qps: qps}
}

// Wait blocks until rawURL's host has budget or ctx ends.
func (l *DomainLimiter) Wait(ctx context.Context, rawURL string) error {
	if l == nil || l.qps <= 0 {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse render url: %w", err)
	}
	host := strings.ToLower(parsed.Hostname())
	val, _ := l.limiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(l.qps), 1))
	limiter, ok := val.(*rate.Limiter)
	if !ok {
		return fmt.Errorf("unexpected limiter type %T", val)
	}
	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait limiter: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}
