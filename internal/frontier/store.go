// Package frontier persists crawl progress so an interrupted crawl can resume
// where it stopped. It owns the pending, scraped and errored URL sets plus the
// transient in-flight set, and keeps the three append-only logs in sync.
package frontier

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Default log file names inside Config.Dir.
const (
	DefaultPendingFile = "pending_urls.txt"
	DefaultScrapedFile = "scraped_urls.txt"
	DefaultErroredFile = "errored_urls.txt"
)

// Entry is a URL awaiting a crawl together with its link distance from a seed.
type Entry struct {
	URL   string `json:"url"`
	Depth int    `json:"depth"`
}

// Config locates the frontier logs on disk.
type Config struct {
	Dir         string `mapstructure:"dir"`
	PendingFile string `mapstructure:"pending_file"`
	ScrapedFile string `mapstructure:"scraped_file"`
	ErroredFile string `mapstructure:"errored_file"`
}

// Stats summarizes the size of each set.
type Stats struct {
	Pending  int `json:"pending"`
	InFlight int `json:"in_flight"`
	Scraped  int `json:"scraped"`
	Errored  int `json:"errored"`
}

type queued struct {
	depth int
	seq   uint64
}

// Store is the crawl frontier. A URL is in at most one of pending, in-flight,
// scraped or errored; transitions only move forward except Release, which
// returns never-started work to pending.
type Store struct {
	mu     sync.Mutex
	logger *zap.Logger

	pendingPath string
	scrapedPath string
	erroredPath string

	seq      uint64
	pending  map[string]queued
	inflight map[string]queued
	scraped  map[string]struct{}
	errored  map[string]struct{}

	// unlogged holds resolved URLs whose terminal log append failed. They
	// stay in the pending log until the append succeeds.
	unlogged map[string]unloggedEntry
}

type unloggedEntry struct {
	path string
	q    queued
}

// New creates an empty store bound to the configured files. Call Load to
// pick up state from a previous run.
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("frontier dir is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		logger:      logger,
		pendingPath: filepath.Join(cfg.Dir, orDefault(cfg.PendingFile, DefaultPendingFile)),
		scrapedPath: filepath.Join(cfg.Dir, orDefault(cfg.ScrapedFile, DefaultScrapedFile)),
		erroredPath: filepath.Join(cfg.Dir, orDefault(cfg.ErroredFile, DefaultErroredFile)),
		pending:     make(map[string]queued),
		inflight:    make(map[string]queued),
		scraped:     make(map[string]struct{}),
		errored:     make(map[string]struct{}),
		unlogged:    make(map[string]unloggedEntry),
	}, nil
}

// Open is New followed by Load.
func Open(cfg Config, logger *zap.Logger) (*Store, error) {
	s, err := New(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Load rebuilds the sets from their logs. Missing logs are treated as empty;
// malformed pending records are skipped with a warning.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	scraped, err := readLines(s.scrapedPath)
	if err != nil {
		return fmt.Errorf("load scraped log: %w", err)
	}
	errored, err := readLines(s.erroredPath)
	if err != nil {
		return fmt.Errorf("load errored log: %w", err)
	}
	pending, err := readLines(s.pendingPath)
	if err != nil {
		return fmt.Errorf("load pending log: %w", err)
	}

	for _, u := range scraped {
		s.scraped[u] = struct{}{}
	}
	for _, u := range errored {
		if _, done := s.scraped[u]; done {
			continue
		}
		s.errored[u] = struct{}{}
	}

	skipped := 0
	for i, line := range pending {
		entry, perr := parsePending(line)
		if perr != nil {
			skipped++
			s.logger.Warn("skipping malformed pending record",
				zap.String("file", s.pendingPath),
				zap.Int("line", i+1),
				zap.String("record", line),
				zap.Error(perr),
			)
			continue
		}
		if s.knownLocked(entry.URL) {
			continue
		}
		s.seq++
		s.pending[entry.URL] = queued{depth: entry.Depth, seq: s.seq}
	}

	s.logger.Info("frontier loaded",
		zap.Int("pending", len(s.pending)),
		zap.Int("scraped", len(s.scraped)),
		zap.Int("errored", len(s.errored)),
		zap.Int("malformed", skipped),
	)
	return nil
}

// Enqueue adds url at depth unless it is already known. It reports whether
// the URL was added.
func (s *Store) Enqueue(url string, depth int) bool {
	return s.EnqueueBatch([]Entry{{URL: url, Depth: depth}}) == 1
}

// EnqueueBatch adds every unknown entry and appends them to the pending log
// in one write. It returns the number of entries added.
func (s *Store) EnqueueBatch(entries []Entry) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var lines []string
	for _, e := range entries {
		e.URL = strings.TrimSpace(e.URL)
		if e.URL == "" || e.Depth < 0 || s.knownLocked(e.URL) {
			continue
		}
		s.seq++
		s.pending[e.URL] = queued{depth: e.Depth, seq: s.seq}
		lines = append(lines, formatPending(e))
	}
	if err := appendLines(s.pendingPath, lines); err != nil {
		s.logger.Error("append pending log failed", zap.Int("records", len(lines)), zap.Error(err))
	}
	return len(lines)
}

// NextBatch moves up to n pending entries into the in-flight set and returns
// them ordered by ascending depth, ties broken by insertion order.
func (s *Store) NextBatch(n int) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n <= 0 || len(s.pending) == 0 {
		return nil
	}
	ordered := sortedEntries(s.pending)
	if len(ordered) > n {
		ordered = ordered[:n]
	}
	out := make([]Entry, 0, len(ordered))
	for _, item := range ordered {
		s.inflight[item.url] = s.pending[item.url]
		delete(s.pending, item.url)
		out = append(out, Entry{URL: item.url, Depth: item.depth})
	}
	return out
}

// ResolveScraped records urls as successfully crawled.
func (s *Store) ResolveScraped(urls ...string) {
	s.resolve(urls, s.scraped, s.scrapedPath, "scraped")
}

// ResolveErrored records urls as permanently failed for this crawl.
func (s *Store) ResolveErrored(urls ...string) {
	s.resolve(urls, s.errored, s.erroredPath, "errored")
}

func (s *Store) resolve(urls []string, target map[string]struct{}, path, label string) {
	if len(urls) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	lines := make([]string, 0, len(urls))
	resolved := make(map[string]queued, len(urls))
	for _, u := range urls {
		if _, ok := s.scraped[u]; ok {
			continue
		}
		if _, ok := s.errored[u]; ok {
			continue
		}
		q, ok := s.inflight[u]
		if !ok {
			q, ok = s.pending[u]
		}
		if !ok {
			s.seq++
			q = queued{seq: s.seq}
		}
		delete(s.inflight, u)
		delete(s.pending, u)
		target[u] = struct{}{}
		resolved[u] = q
		lines = append(lines, u)
	}
	if len(lines) == 0 {
		return
	}
	if err := appendLines(path, lines); err != nil {
		s.logger.Error("append resolution log failed; urls kept in pending log",
			zap.String("set", label), zap.Int("urls", len(lines)), zap.Error(err))
		for _, u := range lines {
			s.unlogged[u] = unloggedEntry{path: path, q: resolved[u]}
		}
	} else if err := s.flushUnloggedLocked(); err != nil {
		s.logger.Warn("retry of earlier resolution append failed", zap.Error(err))
	}
	if err := rewriteLines(s.pendingPath, s.unresolvedLinesLocked()); err != nil {
		s.logger.Error("rewrite pending log failed", zap.Error(err))
	}
}

// flushUnloggedLocked retries the terminal log appends that failed earlier.
func (s *Store) flushUnloggedLocked() error {
	if len(s.unlogged) == 0 {
		return nil
	}
	byPath := make(map[string][]string)
	for u, e := range s.unlogged {
		byPath[e.path] = append(byPath[e.path], u)
	}
	var errs []error
	for path, urls := range byPath {
		sort.Strings(urls)
		if err := appendLines(path, urls); err != nil {
			errs = append(errs, err)
			continue
		}
		for _, u := range urls {
			delete(s.unlogged, u)
		}
	}
	return errors.Join(errs...)
}

// Release returns in-flight urls to pending at their original position. It is
// used for tasks that never ran so the next batch or run picks them up again.
func (s *Store) Release(urls ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range urls {
		if q, ok := s.inflight[u]; ok {
			delete(s.inflight, u)
			s.pending[u] = q
		}
	}
}

// SnapshotPending rewrites the pending log with every unresolved URL,
// including in-flight ones and resolved ones whose terminal log entry could
// not be written. When nothing is left the log is removed.
func (s *Store) SnapshotPending() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.flushUnloggedLocked(); err != nil {
		s.logger.Error("resolution log still unwritable; urls stay pending on disk", zap.Int("urls", len(s.unlogged)), zap.Error(err))
	}

	lines := s.unresolvedLinesLocked()
	if len(lines) == 0 {
		if err := removeFile(s.pendingPath); err != nil {
			s.logger.Error("remove empty pending log failed", zap.Error(err))
			return err
		}
		s.logger.Info("frontier exhausted; pending log removed")
		return nil
	}
	if err := rewriteLines(s.pendingPath, lines); err != nil {
		s.logger.Error("snapshot pending log failed", zap.Error(err))
		return err
	}
	s.logger.Info("pending frontier saved", zap.Int("urls", len(lines)))
	return nil
}

// ClearErrored forgets every errored URL so they can be enqueued again.
func (s *Store) ClearErrored() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.errored)
	s.errored = make(map[string]struct{})
	for u, e := range s.unlogged {
		if e.path == s.erroredPath {
			delete(s.unlogged, u)
		}
	}
	if err := removeFile(s.erroredPath); err != nil {
		return n, err
	}
	return n, nil
}

// IsTerminal reports whether url already reached scraped or errored.
func (s *Store) IsTerminal(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, scraped := s.scraped[url]
	_, errored := s.errored[url]
	return scraped || errored
}

// Stats returns the current set sizes.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Pending:  len(s.pending),
		InFlight: len(s.inflight),
		Scraped:  len(s.scraped),
		Errored:  len(s.errored),
	}
}

// Pending returns the pending entries in selection order.
func (s *Store) Pending() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	ordered := sortedEntries(s.pending)
	out := make([]Entry, len(ordered))
	for i, item := range ordered {
		out[i] = Entry{URL: item.url, Depth: item.depth}
	}
	return out
}

// Scraped returns the scraped URLs in lexical order.
func (s *Store) Scraped() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.scraped)
}

// Errored returns the errored URLs in lexical order.
func (s *Store) Errored() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.errored)
}

func (s *Store) knownLocked(url string) bool {
	if _, ok := s.pending[url]; ok {
		return true
	}
	if _, ok := s.inflight[url]; ok {
		return true
	}
	if _, ok := s.scraped[url]; ok {
		return true
	}
	_, ok := s.errored[url]
	return ok
}

// unresolvedLinesLocked renders pending and in-flight entries in insertion order.
func (s *Store) unresolvedLinesLocked() []string {
	all := make(map[string]queued, len(s.pending)+len(s.inflight))
	for u, q := range s.pending {
		all[u] = q
	}
	for u, q := range s.inflight {
		all[u] = q
	}
	for u, e := range s.unlogged {
		all[u] = e.q
	}
	items := make([]keyed, 0, len(all))
	for u, q := range all {
		items = append(items, keyed{url: u, depth: q.depth, seq: q.seq})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].seq < items[j].seq })
	lines := make([]string, len(items))
	for i, item := range items {
		lines[i] = formatPending(Entry{URL: item.url, Depth: item.depth})
	}
	return lines
}

type keyed struct {
	url   string
	depth int
	seq   uint64
}

func sortedEntries(m map[string]queued) []keyed {
	items := make([]keyed, 0, len(m))
	for u, q := range m {
		items = append(items, keyed{url: u, depth: q.depth, seq: q.seq})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].depth != items[j].depth {
			return items[i].depth < items[j].depth
		}
		return items[i].seq < items[j].seq
	})
	return items
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
