package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-ingest/internal/frontier"
)

type mockSink struct {
	mock.Mock
}

func (m *mockSink) Store(ctx context.Context, doc Document) (string, error) {
	args := m.Called(ctx, doc)
	return args.String(0), args.Error(1)
}

// scriptedRunner answers each task from a per-URL script. URLs without a
// script succeed with no links.
type scriptedRunner struct {
	mu      sync.Mutex
	script  map[string]func(Task) TaskResult
	batches [][]Task
	onBatch func(n int)
}

func (r *scriptedRunner) RunBatch(_ context.Context, tasks []Task) []TaskResult {
	r.mu.Lock()
	r.batches = append(r.batches, tasks)
	n := len(r.batches)
	r.mu.Unlock()

	out := make([]TaskResult, 0, len(tasks))
	for _, task := range tasks {
		if fn, ok := r.script[task.URL]; ok {
			out = append(out, fn(task))
			continue
		}
		out = append(out, success(task))
	}
	if r.onBatch != nil {
		r.onBatch(n)
	}
	return out
}

func success(task Task, links ...string) TaskResult {
	return TaskResult{
		URL:           task.URL,
		Depth:         task.Depth,
		CorrelationID: task.CorrelationID,
		Success:       true,
		Document:      &Document{URL: task.URL, HTML: "<html></html>", Depth: task.Depth},
		Links:         links,
	}
}

func newStore(t *testing.T) *frontier.Store {
	t.Helper()
	store, err := frontier.Open(frontier.Config{Dir: t.TempDir()}, zap.NewNop())
	require.NoError(t, err)
	return store
}

func testConfig(seeds ...string) Config {
	return Config{
		Seeds:       seeds,
		MaxDepth:    2,
		Workers:     2,
		BatchSize:   10,
		TaskTimeout: 1,
		UserAgent:   "site-ingest-test",
	}
}

func TestSchedulerTimeoutErroredOthersScrapedLinksEnqueued(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	cfg := testConfig("https://example.com/a", "https://example.com/b", "https://example.com/slow")
	cfg.MaxDepth = 1

	runner := &scriptedRunner{script: map[string]func(Task) TaskResult{
		"https://example.com/a": func(task Task) TaskResult {
			return success(task, "https://example.com/a1", "https://example.com/shared")
		},
		"https://example.com/b": func(task Task) TaskResult {
			return success(task, "https://example.com/shared", "https://example.com/b1")
		},
		"https://example.com/slow": func(task Task) TaskResult {
			return Failed(task, KindTimeout, fmt.Errorf("%w: 60s", ErrTimeout))
		},
	}}
	sink := &mockSink{}
	sink.On("Store", mock.Anything, mock.AnythingOfType("crawler.Document")).Return("doc-id", nil)

	reducer := NewReducer(store, sink, cfg, zap.NewNop())
	stats, err := NewScheduler(cfg, store, runner, reducer, nil, zap.NewNop()).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, stats.Completed)
	assert.Equal(t, 2, stats.Batches)
	assert.Equal(t, 5, stats.Scraped)
	assert.Equal(t, 1, stats.Errored)
	assert.Equal(t, 3, stats.LinksEnqueued)
	assert.ElementsMatch(t, []string{
		"https://example.com/a", "https://example.com/b",
		"https://example.com/a1", "https://example.com/shared", "https://example.com/b1",
	}, store.Scraped())
	assert.Equal(t, []string{"https://example.com/slow"}, store.Errored())
	sink.AssertNumberOfCalls(t, "Store", 5)
	assert.Empty(t, store.Pending())
}

func TestSchedulerEnqueuesLinksAtNextDepth(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	cfg := testConfig("https://example.com/a", "https://example.com/slow")
	cfg.MaxDepth = 1

	runner := &scriptedRunner{script: map[string]func(Task) TaskResult{
		"https://example.com/a": func(task Task) TaskResult {
			return success(task, "https://example.com/a1", "https://example.com/slow")
		},
		"https://example.com/slow": func(task Task) TaskResult {
			return Failed(task, KindTimeout, ErrTimeout)
		},
		"https://example.com/a1": func(task Task) TaskResult {
			return success(task, "https://example.com/a2")
		},
	}}

	reducer := NewReducer(store, nil, cfg, zap.NewNop())
	stats, err := NewScheduler(cfg, store, runner, reducer, nil, zap.NewNop()).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, stats.Completed)
	require.Len(t, runner.batches, 2)
	require.Len(t, runner.batches[1], 1)
	assert.Equal(t, "https://example.com/a1", runner.batches[1][0].URL)
	assert.Equal(t, 1, runner.batches[1][0].Depth)
	assert.ElementsMatch(t, []string{"https://example.com/a", "https://example.com/a1"}, store.Scraped())
	assert.Equal(t, []string{"https://example.com/slow"}, store.Errored())
	assert.Empty(t, store.Pending(), "a2 is beyond max depth")
}

func TestSchedulerResolvesEachURLAtMostOnce(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	cfg := testConfig("https://example.com/")
	cfg.MaxDepth = 3
	cfg.BatchSize = 2

	// Every page links to every other page and itself.
	pages := []string{"https://example.com/", "https://example.com/p1", "https://example.com/p2", "https://example.com/p3"}
	script := make(map[string]func(Task) TaskResult)
	for _, p := range pages {
		script[p] = func(task Task) TaskResult { return success(task, pages...) }
	}
	runner := &scriptedRunner{script: script}

	_, err := NewScheduler(cfg, store, runner, NewReducer(store, nil, cfg, nil), nil, nil).Run(context.Background())
	require.NoError(t, err)

	dispatched := make(map[string]int)
	for _, batch := range runner.batches {
		assert.LessOrEqual(t, len(batch), 2)
		for _, task := range batch {
			dispatched[task.URL]++
			assert.Len(t, task.CorrelationID, 8)
		}
	}
	for _, p := range pages {
		assert.Equal(t, 1, dispatched[p], "url %s dispatched more than once", p)
	}
	assert.ElementsMatch(t, pages, store.Scraped())
}

func TestSchedulerReleasesCancelledTasks(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := frontier.Open(frontier.Config{Dir: dir}, zap.NewNop())
	require.NoError(t, err)
	cfg := testConfig("https://example.com/a", "https://example.com/b")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner := &scriptedRunner{
		script: map[string]func(Task) TaskResult{
			"https://example.com/b": func(task Task) TaskResult {
				return Failed(task, KindCancelled, ErrCancelled)
			},
		},
		onBatch: func(int) { cancel() },
	}

	stats, err := NewScheduler(cfg, store, runner, NewReducer(store, nil, cfg, nil), nil, nil).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Cancelled)
	assert.Empty(t, store.Errored())
	assert.Equal(t, []frontier.Entry{{URL: "https://example.com/b", Depth: 0}}, store.Pending())

	// The next run picks the released URL back up.
	resumed, err := frontier.Open(frontier.Config{Dir: dir}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []frontier.Entry{{URL: "https://example.com/b", Depth: 0}}, resumed.Pending())
}

func TestSchedulerReleasesTasksWithoutResults(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	cfg := testConfig("https://example.com/a")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := runnerFunc(func(context.Context, []Task) []TaskResult {
		cancel()
		return nil
	})
	stats, err := NewScheduler(cfg, store, runner, NewReducer(store, nil, cfg, nil), nil, nil).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Cancelled)
	assert.Len(t, store.Pending(), 1)
}

func TestSchedulerSinkFailureKeepsScraped(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	cfg := testConfig("https://example.com/a")
	sink := &mockSink{}
	sink.On("Store", mock.Anything, mock.Anything).Return("", errors.New("disk full"))

	stats, err := NewScheduler(cfg, store, &scriptedRunner{}, NewReducer(store, sink, cfg, nil), nil, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.SinkFailures)
	assert.Equal(t, []string{"https://example.com/a"}, store.Scraped())
	sink.AssertExpectations(t)
}

func TestSchedulerRejectsInvalidSeeds(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	cfg := testConfig("not a url", "ftp://example.com")
	_, err := NewScheduler(cfg, store, &scriptedRunner{}, NewReducer(store, nil, cfg, nil), nil, nil).Run(context.Background())
	require.Error(t, err)
}

type runnerFunc func(context.Context, []Task) []TaskResult

func (f runnerFunc) RunBatch(ctx context.Context, tasks []Task) []TaskResult { return f(ctx, tasks) }
