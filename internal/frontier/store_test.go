package frontier

import (
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := Open(Config{Dir: dir}, zap.NewNop())
	require.NoError(t, err)
	return s
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path) // #nosec G304 -- test temp dir
	require.NoError(t, err)
	return string(data)
}

func TestNewRequiresDir(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil)
	require.Error(t, err)
}

func TestEnqueueIsIdempotentAndKeepsFirstDepth(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, t.TempDir())
	require.True(t, s.Enqueue("https://example.com/a", 0))
	require.False(t, s.Enqueue("https://example.com/a", 2))

	pending := s.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, Entry{URL: "https://example.com/a", Depth: 0}, pending[0])
}

func TestEnqueueSkipsTerminalAndInflightURLs(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, t.TempDir())
	s.EnqueueBatch([]Entry{{URL: "a", Depth: 0}, {URL: "b", Depth: 0}, {URL: "c", Depth: 0}})

	batch := s.NextBatch(2)
	require.Len(t, batch, 2)
	s.ResolveScraped("a")

	assert.False(t, s.Enqueue("a", 1), "scraped url must not return to pending")
	assert.False(t, s.Enqueue("b", 1), "in-flight url must not return to pending")
	s.ResolveErrored("b")
	assert.False(t, s.Enqueue("b", 1), "errored url must not return to pending")
	assert.Equal(t, Stats{Pending: 1, Scraped: 1, Errored: 1}, s.Stats())
}

func TestNextBatchOrdersByDepthThenInsertion(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, t.TempDir())
	s.EnqueueBatch([]Entry{
		{URL: "d2-first", Depth: 2},
		{URL: "d0-first", Depth: 0},
		{URL: "d1", Depth: 1},
		{URL: "d0-second", Depth: 0},
		{URL: "d2-second", Depth: 2},
	})

	first := s.NextBatch(3)
	assert.Equal(t, []Entry{
		{URL: "d0-first", Depth: 0},
		{URL: "d0-second", Depth: 0},
		{URL: "d1", Depth: 1},
	}, first)

	rest := s.NextBatch(10)
	assert.Equal(t, []Entry{
		{URL: "d2-first", Depth: 2},
		{URL: "d2-second", Depth: 2},
	}, rest)
	assert.Empty(t, s.NextBatch(10))
	assert.Equal(t, 5, s.Stats().InFlight)
}

func TestResolveRewritesPendingLog(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := newTestStore(t, dir)
	s.EnqueueBatch([]Entry{{URL: "a", Depth: 0}, {URL: "b", Depth: 1}, {URL: "c", Depth: 1}})
	s.NextBatch(2)
	s.ResolveScraped("a")
	s.ResolveErrored("b")

	assert.Equal(t, "c|1\n", readFile(t, filepath.Join(dir, DefaultPendingFile)))
	assert.Equal(t, "a\n", readFile(t, filepath.Join(dir, DefaultScrapedFile)))
	assert.Equal(t, "b\n", readFile(t, filepath.Join(dir, DefaultErroredFile)))
}

func TestLoadRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := newTestStore(t, dir)
	s.EnqueueBatch([]Entry{
		{URL: "https://example.com/", Depth: 0},
		{URL: "https://example.com/a", Depth: 1},
		{URL: "https://example.com/b", Depth: 1},
		{URL: "https://example.com/c", Depth: 2},
	})
	batch := s.NextBatch(2)
	require.Len(t, batch, 2)
	s.ResolveScraped(batch[0].URL)
	// batch[1] is still in flight when the process stops.
	require.NoError(t, s.SnapshotPending())

	resumed := newTestStore(t, dir)
	assert.Equal(t, []string{"https://example.com/"}, resumed.Scraped())
	assert.Equal(t, []Entry{
		{URL: "https://example.com/a", Depth: 1},
		{URL: "https://example.com/b", Depth: 1},
		{URL: "https://example.com/c", Depth: 2},
	}, resumed.Pending())
}

func TestLoadSkipsMalformedRecords(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	content := strings.Join([]string{
		"https://example.com/ok|1",
		"https://example.com/bad|deep",
		"",
		"https://example.com/negative|-3",
		"|2",
		"https://example.com/legacy",
		"https://example.com/q?a=b|c|3",
	}, "\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultPendingFile), []byte(content), 0o600))

	s := newTestStore(t, dir)
	assert.Equal(t, []Entry{
		{URL: "https://example.com/legacy", Depth: 0},
		{URL: "https://example.com/ok", Depth: 1},
		{URL: "https://example.com/q?a=b|c", Depth: 3},
	}, s.Pending())
}

func TestLoadDropsPendingAlreadyResolved(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultPendingFile), []byte("a|0\nb|0\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultScrapedFile), []byte("a\n"), 0o600))

	s := newTestStore(t, dir)
	assert.Equal(t, []Entry{{URL: "b", Depth: 0}}, s.Pending())
	assert.True(t, s.IsTerminal("a"))
}

func TestSnapshotRemovesEmptyPendingLog(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := newTestStore(t, dir)
	s.Enqueue("a", 0)
	s.NextBatch(1)
	s.ResolveScraped("a")
	require.NoError(t, s.SnapshotPending())

	_, err := os.Stat(filepath.Join(dir, DefaultPendingFile))
	assert.True(t, os.IsNotExist(err))
}

func TestReleaseRestoresOriginalOrder(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, t.TempDir())
	s.EnqueueBatch([]Entry{{URL: "a", Depth: 0}, {URL: "b", Depth: 0}, {URL: "c", Depth: 0}})
	batch := s.NextBatch(2)
	require.Len(t, batch, 2)
	s.Release("a", "b")

	assert.Equal(t, []Entry{{URL: "a"}, {URL: "b"}, {URL: "c"}}, s.Pending())
	assert.Zero(t, s.Stats().InFlight)
}

func TestClearErrored(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := newTestStore(t, dir)
	s.Enqueue("a", 0)
	s.NextBatch(1)
	s.ResolveErrored("a")

	n, err := s.ClearErrored()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, s.Enqueue("a", 0))
}

func TestSetsStayDisjointUnderRandomOperations(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, t.TempDir())
	rng := rand.New(rand.NewSource(42)) // #nosec G404 -- deterministic test data
	urls := make([]string, 40)
	for i := range urls {
		urls[i] = "https://example.com/" + string(rune('a'+i%26)) + strings.Repeat("x", i/26)
	}

	var inflight []string
	for step := 0; step < 500; step++ {
		switch rng.Intn(4) {
		case 0:
			s.Enqueue(urls[rng.Intn(len(urls))], rng.Intn(3))
		case 1:
			for _, e := range s.NextBatch(rng.Intn(4) + 1) {
				inflight = append(inflight, e.URL)
			}
		case 2:
			if len(inflight) > 0 {
				s.ResolveScraped(inflight[0])
				inflight = inflight[1:]
			}
		case 3:
			if len(inflight) > 0 {
				s.ResolveErrored(inflight[0])
				inflight = inflight[1:]
			}
		}

		s.mu.Lock()
		seen := make(map[string]int)
		for u := range s.pending {
			seen[u]++
		}
		for u := range s.inflight {
			seen[u]++
		}
		for u := range s.scraped {
			seen[u]++
		}
		for u := range s.errored {
			seen[u]++
		}
		s.mu.Unlock()
		for u, n := range seen {
			require.Equalf(t, 1, n, "url %s present in %d sets at step %d", u, n, step)
		}
	}
}

func TestFailedResolutionAppendKeepsURLPendingOnDisk(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := newTestStore(t, dir)
	s.EnqueueBatch([]Entry{{URL: "https://example.com/a", Depth: 1}, {URL: "https://example.com/b", Depth: 0}})
	require.Len(t, s.NextBatch(2), 2)

	// A directory where the scraped log should be makes every append fail.
	scrapedPath := filepath.Join(dir, DefaultScrapedFile)
	require.NoError(t, os.Mkdir(scrapedPath, 0o750))

	s.ResolveScraped("https://example.com/a")
	assert.Equal(t, Stats{InFlight: 1, Scraped: 1}, s.Stats())
	assert.Contains(t, readFile(t, filepath.Join(dir, DefaultPendingFile)), "https://example.com/a")

	require.NoError(t, s.SnapshotPending())
	assert.Contains(t, readFile(t, filepath.Join(dir, DefaultPendingFile)), "https://example.com/a",
		"url must stay on disk while its scraped record cannot be written")

	assert.Equal(t, "https://example.com/a|1\nhttps://example.com/b|0\n", readFile(t, filepath.Join(dir, DefaultPendingFile)))

	// Once the log is writable again the snapshot moves the url over.
	require.NoError(t, os.Remove(scrapedPath))
	require.NoError(t, s.SnapshotPending())
	assert.Equal(t, "https://example.com/a\n", readFile(t, scrapedPath))
	assert.NotContains(t, readFile(t, filepath.Join(dir, DefaultPendingFile)), "https://example.com/a")

	reloaded := newTestStore(t, dir)
	assert.Equal(t, []string{"https://example.com/a"}, reloaded.Scraped())
	assert.Equal(t, []Entry{{URL: "https://example.com/b", Depth: 0}}, reloaded.Pending())
}
