package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-ingest/internal/frontier"
)

type fakeFrontier struct {
	stats   frontier.Stats
	errored []string
}

func (f fakeFrontier) Stats() frontier.Stats { return f.stats }
func (f fakeFrontier) Errored() []string     { return f.errored }

func serve(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	rec := serve(t, NewServer(nil, nil), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestReadyzFollowsSetReady(t *testing.T) {
	t.Parallel()

	s := NewServer(nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, serve(t, s, "/readyz").Code)
	s.SetReady(true)
	assert.Equal(t, http.StatusOK, serve(t, s, "/readyz").Code)
}

func TestFrontierStats(t *testing.T) {
	t.Parallel()

	s := NewServer(fakeFrontier{stats: frontier.Stats{Pending: 3, InFlight: 1, Scraped: 10, Errored: 2}}, nil)
	rec := serve(t, s, "/v1/frontier")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"pending":3,"in_flight":1,"scraped":10,"errored":2}`, rec.Body.String())
}

func TestFrontierErrored(t *testing.T) {
	t.Parallel()

	s := NewServer(fakeFrontier{errored: []string{"https://example.com/a"}}, nil)
	rec := serve(t, s, "/v1/frontier/errored")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Count int      `json:"count"`
		URLs  []string `json:"urls"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, []string{"https://example.com/a"}, body.URLs)
}

func TestFrontierUnavailable(t *testing.T) {
	t.Parallel()

	s := NewServer(nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, serve(t, s, "/v1/frontier").Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(t, s, "/v1/frontier/errored").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	s := NewServer(nil, nil)
	serve(t, s, "/healthz")
	rec := serve(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "http_requests_total"))
}

func TestRequestIDIsPropagated(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec := httptest.NewRecorder()
	NewServer(nil, nil).Handler().ServeHTTP(rec, req)
	assert.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewServer(nil, nil).ListenAndServe(ctx, addr, time.Second) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
