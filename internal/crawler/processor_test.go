package crawler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockRenderer struct {
	mock.Mock
}

func (m *mockRenderer) Render(ctx context.Context, req RenderRequest) (RenderResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(RenderResult), args.Error(1)
}

type stubCleaner struct {
	out string
	err error
}

func (c stubCleaner) Clean(string) (string, error) { return c.out, c.err }

type stubHasher struct{}

func (stubHasher) Hash([]byte) (string, error) { return "digest", nil }

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type denyRobots struct{}

func (denyRobots) Allowed(context.Context, string) bool { return false }

const pageHTML = `<html lang="fr"><head><title>Bonjour</title></head><body><a href="/next">n</a></body></html>`

func TestProcessorSuccess(t *testing.T) {
	t.Parallel()

	renderer := &mockRenderer{}
	renderer.On("Render", mock.Anything, RenderRequest{
		URL:         "https://example.com/start",
		WaitUntil:   WaitLoad,
		SettleDelay: 3 * time.Second,
		Timeout:     30 * time.Second,
	}).Return(RenderResult{HTML: pageHTML, FinalURL: "https://example.com/landing", StatusCode: 200}, nil)

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p, err := NewProcessor(ProcessorDeps{
		Renderer: renderer,
		Cleaner:  stubCleaner{out: "<main>clean</main>"},
		Hasher:   stubHasher{},
		Clock:    fixedClock{t: now},
	}, RenderConfig{SettleDelay: 3 * time.Second, NavTimeout: 30 * time.Second})
	require.NoError(t, err)

	res := p.Handle(context.Background(), Task{URL: "https://example.com/start", Depth: 1, CorrelationID: "abcd1234"})
	require.True(t, res.Success, "err: %v", res.Err)
	require.NotNil(t, res.Document)
	assert.Equal(t, "abcd1234", res.CorrelationID)
	assert.Equal(t, []string{"https://example.com/next"}, res.Links)
	assert.Equal(t, "Bonjour", res.Document.Title)
	assert.Equal(t, "fr", res.Document.Language)
	assert.Equal(t, "<main>clean</main>", res.Document.HTML)
	assert.Equal(t, "https://example.com/landing", res.Document.FinalURL)
	assert.Equal(t, 1, res.Document.Depth)
	assert.Equal(t, now, res.Document.FetchedAt)
	assert.NotEmpty(t, res.Document.ContentHash)
	renderer.AssertExpectations(t)
}

func TestProcessorFailures(t *testing.T) {
	t.Parallel()

	task := Task{URL: "https://example.com/x", CorrelationID: "t1"}
	tests := []struct {
		name     string
		result   RenderResult
		err      error
		robots   RobotsPolicy
		cancel   bool
		wantKind ErrorKind
		wantErr  error
	}{
		{name: "http error", result: RenderResult{HTML: pageHTML, StatusCode: 404}, wantKind: KindFetch, wantErr: ErrFetch},
		{name: "render error", err: errors.New("net::ERR_NAME_NOT_RESOLVED"), wantKind: KindFetch, wantErr: ErrFetch},
		{name: "robots", robots: denyRobots{}, wantKind: KindFetch, wantErr: ErrFetch},
		{name: "cancelled", err: context.Canceled, cancel: true, wantKind: KindCancelled, wantErr: ErrCancelled},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			renderer := &mockRenderer{}
			renderer.On("Render", mock.Anything, mock.Anything).Return(tc.result, tc.err).Maybe()

			p, err := NewProcessor(ProcessorDeps{Renderer: renderer, Robots: tc.robots}, RenderConfig{})
			require.NoError(t, err)

			ctx, cancel := context.WithCancel(context.Background())
			if tc.cancel {
				cancel()
			} else {
				defer cancel()
			}
			res := p.Handle(ctx, task)
			assert.False(t, res.Success)
			assert.Equal(t, tc.wantKind, res.Kind)
			assert.ErrorIs(t, res.Err, tc.wantErr)
		})
	}
}

func TestProcessorKeepsHTMLWhenCleaningFails(t *testing.T) {
	t.Parallel()

	renderer := &mockRenderer{}
	renderer.On("Render", mock.Anything, mock.Anything).Return(RenderResult{HTML: pageHTML, StatusCode: 200}, nil)
	p, err := NewProcessor(ProcessorDeps{Renderer: renderer, Cleaner: stubCleaner{err: errors.New("boom")}}, RenderConfig{})
	require.NoError(t, err)

	res := p.Handle(context.Background(), Task{URL: "https://example.com/"})
	require.True(t, res.Success)
	assert.Equal(t, pageHTML, res.Document.HTML)
}

func TestNewProcessorRequiresRenderer(t *testing.T) {
	t.Parallel()

	_, err := NewProcessor(ProcessorDeps{}, RenderConfig{})
	require.Error(t, err)
}

func TestTaskResultJSONRoundTripKeepsErrorKind(t *testing.T) {
	t.Parallel()

	in := Failed(Task{URL: "https://example.com", Depth: 2, CorrelationID: "c"}, KindTimeout, ErrTimeout)
	data, err := in.MarshalJSON()
	require.NoError(t, err)

	var out TaskResult
	require.NoError(t, out.UnmarshalJSON(data))
	assert.Equal(t, KindTimeout, out.Kind)
	assert.ErrorIs(t, out.Err, ErrTimeout)
	assert.Equal(t, 2, out.Depth)

	ok := success(Task{URL: "https://example.com/p"})
	data, err = ok.MarshalJSON()
	require.NoError(t, err)
	require.NoError(t, out.UnmarshalJSON(data))
	require.NotNil(t, out.Document)
	assert.Equal(t, "<html></html>", out.Document.HTML)
}
