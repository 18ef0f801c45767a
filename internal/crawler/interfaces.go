package crawler

import (
	"context"
	"time"

	"github.com/JakeFAU/site-ingest/internal/frontier"
)

// Frontier is the crawl state the scheduler drives. *frontier.Store implements it.
type Frontier interface {
	EnqueueBatch(entries []frontier.Entry) int
	NextBatch(n int) []frontier.Entry
	ResolveScraped(urls ...string)
	ResolveErrored(urls ...string)
	Release(urls ...string)
	IsTerminal(url string) bool
	SnapshotPending() error
	Stats() frontier.Stats
}

// Runner executes a batch of tasks and returns one result per task once all
// of them have finished, timed out or been cancelled.
type Runner interface {
	RunBatch(ctx context.Context, tasks []Task) []TaskResult
}

// Handler processes a single task. Implementations are owned by one worker.
type Handler interface {
	Handle(ctx context.Context, task Task) TaskResult
}

// RenderRequest describes how a page should be rendered.
type RenderRequest struct {
	URL          string
	WaitUntil    string
	WaitSelector string
	SettleDelay  time.Duration
	Timeout      time.Duration
}

// RenderResult is the DOM snapshot of a rendered page.
type RenderResult struct {
	HTML       string
	FinalURL   string
	StatusCode int
}

// Renderer loads a page in a browser and returns its rendered markup.
type Renderer interface {
	Render(ctx context.Context, req RenderRequest) (RenderResult, error)
}

// Cleaner strips boilerplate from rendered HTML.
type Cleaner interface {
	Clean(html string) (string, error)
}

// Sink receives finished documents and returns a storage identifier.
type Sink interface {
	Store(ctx context.Context, doc Document) (string, error)
}

// RobotsPolicy answers whether a URL may be fetched.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
