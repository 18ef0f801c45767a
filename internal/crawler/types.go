package crawler

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a failed task.
type ErrorKind string

// Task failure kinds.
const (
	KindNone      ErrorKind = ""
	KindFetch     ErrorKind = "fetch"
	KindTimeout   ErrorKind = "timeout"
	KindCancelled ErrorKind = "cancelled"
	KindParse     ErrorKind = "parse"
)

// Sentinel errors wrapped by task failures.
var (
	ErrFetch     = errors.New("fetch failed")
	ErrTimeout   = errors.New("task deadline exceeded")
	ErrCancelled = errors.New("task cancelled")
	ErrParse     = errors.New("parse failed")
)

// Task is one unit of crawl work. It is never persisted.
type Task struct {
	URL           string `json:"url"`
	Depth         int    `json:"depth"`
	CorrelationID string `json:"correlation_id"`
}

// Document is a rendered, cleaned page handed to a Sink.
type Document struct {
	URL         string    `json:"url"`
	FinalURL    string    `json:"final_url"`
	Title       string    `json:"title"`
	Language    string    `json:"language"`
	HTML        string    `json:"-"`
	StatusCode  int       `json:"status_code"`
	Depth       int       `json:"depth"`
	FetchedAt   time.Time `json:"fetched_at"`
	ContentHash string    `json:"content_hash"`
	Links       []string  `json:"links"`
}

// TaskResult reports the outcome of a Task.
type TaskResult struct {
	URL           string
	Depth         int
	CorrelationID string
	Success       bool
	Document      *Document
	Links         []string
	Err           error
	Kind          ErrorKind
	Elapsed       time.Duration
}

// Failed builds a failure result for task.
func Failed(task Task, kind ErrorKind, err error) TaskResult {
	return TaskResult{
		URL:           task.URL,
		Depth:         task.Depth,
		CorrelationID: task.CorrelationID,
		Err:           err,
		Kind:          kind,
	}
}

// Classify maps an error chain to its ErrorKind.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrCancelled):
		return KindCancelled
	case errors.Is(err, ErrParse):
		return KindParse
	default:
		return KindFetch
	}
}

type wireDocument struct {
	Document
	HTML string `json:"html"`
}

type wireResult struct {
	URL           string        `json:"url"`
	Depth         int           `json:"depth"`
	CorrelationID string        `json:"correlation_id"`
	Success       bool          `json:"success"`
	Document      *wireDocument `json:"document,omitempty"`
	Links         []string      `json:"links,omitempty"`
	Error         string        `json:"error,omitempty"`
	Kind          ErrorKind     `json:"kind,omitempty"`
	ElapsedMS     int64         `json:"elapsed_ms"`
}

// MarshalJSON encodes the result for the worker child protocol, where
// the document HTML travels inline.
func (r TaskResult) MarshalJSON() ([]byte, error) {
	w := wireResult{
		URL:           r.URL,
		Depth:         r.Depth,
		CorrelationID: r.CorrelationID,
		Success:       r.Success,
		Links:         r.Links,
		Kind:          r.Kind,
		ElapsedMS:     r.Elapsed.Milliseconds(),
	}
	if r.Document != nil {
		w.Document = &wireDocument{Document: *r.Document, HTML: r.Document.HTML}
	}
	if r.Err != nil {
		w.Error = r.Err.Error()
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("marshal task result: %w", err)
	}
	return data, nil
}

// UnmarshalJSON decodes a result produced by MarshalJSON. The error chain is
// rebuilt around the sentinel for its kind so errors.Is keeps working.
func (r *TaskResult) UnmarshalJSON(data []byte) error {
	var w wireResult
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("unmarshal task result: %w", err)
	}
	*r = TaskResult{
		URL:           w.URL,
		Depth:         w.Depth,
		CorrelationID: w.CorrelationID,
		Success:       w.Success,
		Links:         w.Links,
		Kind:          w.Kind,
		Elapsed:       time.Duration(w.ElapsedMS) * time.Millisecond,
	}
	if w.Document != nil {
		doc := w.Document.Document
		doc.HTML = w.Document.HTML
		r.Document = &doc
	}
	if w.Error != "" {
		r.Err = fmt.Errorf("%w: %s", sentinelFor(w.Kind), w.Error)
	}
	return nil
}

func sentinelFor(kind ErrorKind) error {
	switch kind {
	case KindTimeout:
		return ErrTimeout
	case KindCancelled:
		return ErrCancelled
	case KindParse:
		return ErrParse
	default:
		return ErrFetch
	}
}
