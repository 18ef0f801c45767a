package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestRobotsPolicy(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	logger := zap.NewNop()

	allowAll := NewRobotsPolicy(false, "site-ingest-test", nil, logger)
	assert.True(t, allowAll.Allowed(ctx, "https://example.com/whatever"))

	var robotsHits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			robotsHits.Add(1)
			fmt.Fprintln(w, "User-agent: *\nDisallow: /blocked")
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	enforcer := NewRobotsPolicy(true, "site-ingest-test", srv.Client(), logger)
	assert.True(t, enforcer.Allowed(ctx, srv.URL+"/allowed"))
	assert.False(t, enforcer.Allowed(ctx, srv.URL+"/blocked/page"))
	assert.True(t, enforcer.Allowed(ctx, srv.URL))
	assert.Equal(t, int32(1), robotsHits.Load(), "robots.txt should be fetched once per origin")
}

func TestRobotsPolicyMissingFileAllows(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	enforcer := NewRobotsPolicy(true, "site-ingest-test", srv.Client(), nil)
	assert.True(t, enforcer.Allowed(context.Background(), srv.URL+"/anything"))
	assert.False(t, enforcer.Allowed(context.Background(), "::not a url"))
}
