package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ProcessorDeps are the collaborators a Processor drives. Renderer is required.
type ProcessorDeps struct {
	Renderer Renderer
	Cleaner  Cleaner
	Robots   RobotsPolicy
	Hasher   Hasher
	Clock    Clock
	Logger   *zap.Logger
}

// Processor turns one Task into a TaskResult: robots check, render, extract,
// clean. It owns no goroutines and is used by a single worker.
type Processor struct {
	deps   ProcessorDeps
	render RenderConfig
	logger *zap.Logger
}

var _ Handler = (*Processor)(nil)

// NewProcessor wires a Processor.
func NewProcessor(deps ProcessorDeps, render RenderConfig) (*Processor, error) {
	if deps.Renderer == nil {
		return nil, errors.New("processor requires a renderer")
	}
	if deps.Robots == nil {
		deps.Robots = allowAllPolicy{}
	}
	if deps.Clock == nil {
		deps.Clock = utcClock{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{deps: deps, render: render, logger: logger}, nil
}

// Handle implements Handler.
func (p *Processor) Handle(ctx context.Context, task Task) TaskResult {
	start := p.deps.Clock.Now()
	logger := p.logger.With(zap.String("task_id", task.CorrelationID), zap.String("url", task.URL))

	result := p.handle(ctx, task, logger)
	result.Elapsed = p.deps.Clock.Now().Sub(start)
	if result.Success {
		logger.Debug("Task succeeded", zap.Int("links", len(result.Links)), zap.Duration("elapsed", result.Elapsed))
	} else {
		logger.Info("Task failed", zap.String("kind", string(result.Kind)), zap.Error(result.Err))
	}
	return result
}

func (p *Processor) handle(ctx context.Context, task Task, logger *zap.Logger) TaskResult {
	if !p.deps.Robots.Allowed(ctx, task.URL) {
		return Failed(task, KindFetch, fmt.Errorf("%w: disallowed by robots.txt", ErrFetch))
	}

	rendered, err := p.deps.Renderer.Render(ctx, p.render.Request(task.URL))
	if err != nil {
		if ctx.Err() != nil {
			return Failed(task, KindCancelled, fmt.Errorf("%w: %w", ErrCancelled, err))
		}
		kind := Classify(err)
		if kind == KindFetch && !errors.Is(err, ErrFetch) {
			err = fmt.Errorf("%w: %w", ErrFetch, err)
		}
		return Failed(task, kind, err)
	}
	if rendered.StatusCode >= 400 {
		return Failed(task, KindFetch, fmt.Errorf("%w: http status %d", ErrFetch, rendered.StatusCode))
	}

	finalURL := rendered.FinalURL
	if finalURL == "" {
		finalURL = task.URL
	}
	info, err := ExtractPage(finalURL, rendered.HTML)
	if err != nil {
		return Failed(task, KindParse, err)
	}

	html := rendered.HTML
	if p.deps.Cleaner != nil {
		cleaned, cerr := p.deps.Cleaner.Clean(html)
		if cerr != nil {
			logger.Warn("Cleaning failed; keeping rendered HTML", zap.Error(cerr))
		} else {
			html = cleaned
		}
	}

	doc := &Document{
		URL:        task.URL,
		FinalURL:   finalURL,
		Title:      info.Title,
		Language:   info.Language,
		HTML:       html,
		StatusCode: rendered.StatusCode,
		Depth:      task.Depth,
		FetchedAt:  p.deps.Clock.Now(),
		Links:      info.Links,
	}
	if p.deps.Hasher != nil {
		digest, herr := p.deps.Hasher.Hash([]byte(html))
		if herr != nil {
			logger.Warn("Content hash failed", zap.Error(herr))
		} else {
			doc.ContentHash = digest
		}
	}

	return TaskResult{
		URL:           task.URL,
		Depth:         task.Depth,
		CorrelationID: task.CorrelationID,
		Success:       true,
		Document:      doc,
		Links:         info.Links,
	}
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }
