// Package process runs crawl tasks in a long-lived child process of the same
// binary, one child per worker.
package process

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-ingest/internal/crawler"
	"github.com/JakeFAU/site-ingest/internal/logging"
)

// maxLine bounds one protocol line, which carries a whole rendered page.
const maxLine = 64 << 20

// Config describes how to launch the worker child.
type Config struct {
	// Executable defaults to the running binary.
	Executable string
	// Args start the child's task loop, e.g. ["serve-tasks", "--config", "crawl.yaml"].
	Args []string
	Env  []string
	// WaitDelay bounds how long a child may take to exit once asked to.
	WaitDelay time.Duration
}

// Handler implements crawler.Handler on top of one child process. Each task
// is written to the child's stdin as a JSON line and answered by one JSON
// TaskResult line on stdout. The child keeps its browser between tasks; it is
// started on first use and again after it dies or is killed because a task
// was cancelled. The child runs in its own process group so a terminal
// interrupt reaches only the parent, which decides when to stop it.
//
// A Handler belongs to a single worker and is not safe for concurrent use.
type Handler struct {
	cfg    Config
	logger *zap.Logger
	child  *child
	closed bool
}

var _ crawler.Handler = (*Handler)(nil)

// New builds a Handler. The child is not started until the first task.
func New(cfg Config, logger *zap.Logger) (*Handler, error) {
	if cfg.Executable == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve executable: %w", err)
		}
		cfg.Executable = exe
	}
	if len(cfg.Args) == 0 {
		cfg.Args = []string{"serve-tasks"}
	}
	if cfg.WaitDelay <= 0 {
		cfg.WaitDelay = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{cfg: cfg, logger: logger}, nil
}

// Handle implements crawler.Handler.
func (h *Handler) Handle(ctx context.Context, task crawler.Task) crawler.TaskResult {
	start := time.Now()
	logger := logging.WithTask(h.logger, task.CorrelationID).With(zap.String("url", task.URL))
	if h.closed {
		return withElapsed(crawler.Failed(task, crawler.KindCancelled,
			fmt.Errorf("%w: worker process closed", crawler.ErrCancelled)), start)
	}

	c, err := h.ensure()
	if err != nil {
		return withElapsed(crawler.Failed(task, crawler.KindFetch,
			fmt.Errorf("%w: start worker process: %w", crawler.ErrFetch, err)), start)
	}
	if err := c.send(task); err != nil {
		h.discard(logger)
		return withElapsed(crawler.Failed(task, crawler.KindFetch,
			fmt.Errorf("%w: send task to worker process: %w", crawler.ErrFetch, err)), start)
	}

	for {
		select {
		case <-ctx.Done():
			h.discard(logger)
			return withElapsed(crawler.Failed(task, crawler.KindCancelled,
				fmt.Errorf("%w: worker process: %w", crawler.ErrCancelled, ctx.Err())), start)
		case line, ok := <-c.lines:
			if !ok {
				return withElapsed(h.exited(ctx, task, c, logger), start)
			}
			result, err := decode(line)
			if errors.Is(err, errNotResult) {
				logger.Debug("ignoring worker process output", zap.ByteString("line", truncate(line, 256)))
				continue
			}
			if err != nil {
				h.discard(logger)
				return withElapsed(crawler.Failed(task, crawler.KindParse,
					fmt.Errorf("%w: worker process output: %w", crawler.ErrParse, err)), start)
			}
			if result.URL != task.URL {
				logger.Warn("ignoring result for another task", zap.String("result_url", result.URL))
				continue
			}
			if result.Elapsed == 0 {
				result.Elapsed = time.Since(start)
			}
			return result
		}
	}
}

// exited builds the result for a child that closed stdout mid-task.
func (h *Handler) exited(ctx context.Context, task crawler.Task, c *child, logger *zap.Logger) crawler.TaskResult {
	h.child = nil
	waitErr := c.wait(h.cfg.WaitDelay)
	logger.Warn("worker process exited",
		zap.Int("pid", c.pid()),
		zap.String("stderr", c.stderr.String()),
		zap.Error(waitErr),
	)
	if ctx.Err() != nil || interrupted(waitErr) {
		return crawler.Failed(task, crawler.KindCancelled,
			fmt.Errorf("%w: worker process interrupted: %w", crawler.ErrCancelled, errors.Join(waitErr, ctx.Err())))
	}
	if waitErr == nil {
		waitErr = errors.New("exited without a result")
	}
	return crawler.Failed(task, crawler.KindFetch, fmt.Errorf("%w: worker process: %w", crawler.ErrFetch, waitErr))
}

func (h *Handler) ensure() (*child, error) {
	if h.child != nil {
		select {
		case <-h.child.exited:
			h.logger.Warn("worker process exited between tasks; restarting",
				zap.Int("pid", h.child.pid()), zap.Error(h.child.waitErr))
			h.child = nil
		default:
			return h.child, nil
		}
	}
	c, err := startChild(h.cfg)
	if err != nil {
		return nil, err
	}
	h.logger.Debug("worker process started", zap.Int("pid", c.pid()))
	h.child = c
	return c, nil
}

// discard kills the current child and its process group.
func (h *Handler) discard(logger *zap.Logger) {
	c := h.child
	h.child = nil
	if c == nil {
		return
	}
	c.kill()
	if err := c.wait(h.cfg.WaitDelay); err != nil {
		logger.Debug("worker process killed", zap.Int("pid", c.pid()), zap.Error(err))
	}
}

// Close ends the child's task loop by closing its stdin and kills it when it
// does not exit within WaitDelay.
func (h *Handler) Close() {
	if h.closed {
		return
	}
	h.closed = true
	c := h.child
	h.child = nil
	if c == nil {
		return
	}
	c.stopReading()
	_ = c.stdin.Close()
	select {
	case <-c.exited:
	case <-time.After(h.cfg.WaitDelay):
		h.logger.Warn("worker process did not exit; killing it", zap.Int("pid", c.pid()))
		c.kill()
		_ = c.wait(h.cfg.WaitDelay)
	}
}

type child struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	enc    *json.Encoder
	lines  chan []byte
	stderr *tailBuffer

	stop     chan struct{}
	stopOnce sync.Once
	exited   chan struct{}
	waitErr  error
}

func startChild(cfg Config) (*child, error) {
	cmd := exec.Command(cfg.Executable, cfg.Args...) // #nosec G204 -- re-executes this binary
	cmd.Env = append(os.Environ(), cfg.Env...)
	detach(cmd)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr := &tailBuffer{limit: 4096}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", cfg.Executable, err)
	}

	c := &child{
		cmd:    cmd,
		stdin:  stdin,
		enc:    json.NewEncoder(stdin),
		lines:  make(chan []byte),
		stderr: stderr,
		stop:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go c.read(stdout)
	return c, nil
}

// read forwards stdout lines until EOF, then reaps the child. Lines read after
// stopReading are dropped so the pipe keeps draining.
func (c *child) read(stdout io.Reader) {
	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	for sc.Scan() {
		line := append([]byte(nil), sc.Bytes()...)
		select {
		case c.lines <- line:
		case <-c.stop:
		}
	}
	if sc.Err() != nil {
		// The protocol is out of sync; end the child and drain what is left.
		c.kill()
		_, _ = io.Copy(io.Discard, stdout)
	}
	close(c.lines)
	c.waitErr = c.cmd.Wait()
	close(c.exited)
}

func (c *child) send(task crawler.Task) error {
	if err := c.enc.Encode(task); err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	return nil
}

func (c *child) stopReading() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *child) kill() {
	c.stopReading()
	if err := killGroup(c.cmd); err != nil {
		_ = c.cmd.Process.Kill()
	}
}

// wait returns the child's exit error once it has been reaped, or gives up
// after d.
func (c *child) wait(d time.Duration) error {
	select {
	case <-c.exited:
		return c.waitErr
	case <-time.After(d):
		return fmt.Errorf("worker process %d not reaped after %s", c.pid(), d)
	}
}

func (c *child) pid() int {
	if c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

var errNotResult = errors.New("not a task result")

// decode parses one stdout line. Lines that are not JSON objects are stray
// output from the browser and reported as errNotResult.
func decode(line []byte) (crawler.TaskResult, error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return crawler.TaskResult{}, errNotResult
	}
	var result crawler.TaskResult
	if err := json.Unmarshal(trimmed, &result); err != nil {
		return crawler.TaskResult{}, fmt.Errorf("decode task result: %w", err)
	}
	return result, nil
}

// Encode writes result the way Handle expects to read it.
func Encode(w io.Writer, result crawler.TaskResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode task result: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write task result: %w", err)
	}
	return nil
}

// Serve is the child side of Handler: it reads tasks from in until EOF and
// writes one result per task to out.
func Serve(ctx context.Context, h crawler.Handler, in io.Reader, out io.Writer) error {
	dec := json.NewDecoder(in)
	for {
		var task crawler.Task
		if err := dec.Decode(&task); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("decode task: %w", err)
		}
		result := h.Handle(ctx, task)
		result.URL = task.URL
		result.Depth = task.Depth
		result.CorrelationID = task.CorrelationID
		if err := Encode(out, result); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func withElapsed(res crawler.TaskResult, start time.Time) crawler.TaskResult {
	res.Elapsed = time.Since(start)
	return res
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
