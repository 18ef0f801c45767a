package headless

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-ingest/internal/crawler"
)

func TestResponseMetaCaptureAndFallbacks(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.capture(&network.EventResponseReceived{Type: network.ResourceTypeImage, Response: &network.Response{Status: 500}})
	meta.capture(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 404, URL: "https://example.com/missing"},
	})
	meta.capture(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 200, URL: "https://example.com/iframe"},
	})
	status, url := meta.snapshotWithFallbacks("https://req", "")
	assert.Equal(t, 404, status)
	assert.Equal(t, "https://example.com/missing", url)

	meta = newResponseMeta()
	status, url = meta.snapshotWithFallbacks("https://req", "https://final")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "https://final", url)

	_, url = newResponseMeta().snapshotWithFallbacks("https://req", "about:blank")
	assert.Equal(t, "https://req", url)
}

func TestWaitActionComposition(t *testing.T) {
	t.Parallel()

	assert.Len(t, waitAction(crawler.RenderRequest{WaitUntil: crawler.WaitLoad}, nil), 1)
	assert.Len(t, waitAction(crawler.RenderRequest{WaitUntil: crawler.WaitNetworkIdle, WaitSelector: "#app"}, nil), 3)
}

func TestDomainLimiter(t *testing.T) {
	t.Parallel()

	var nilLimiter *DomainLimiter
	require.NoError(t, nilLimiter.Wait(context.Background(), "https://example.com"))
	require.NoError(t, NewDomainLimiter(0).Wait(context.Background(), "https://example.com"))

	l := NewDomainLimiter(1)
	require.NoError(t, l.Wait(context.Background(), "https://example.com/a"))
	// Another host has its own budget.
	require.NoError(t, l.Wait(context.Background(), "https://other.example.com/a"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://example.com/b"))
}

func TestRendererRendersDynamicContent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<!doctype html><html><body><script>document.body.innerHTML = '<div id="late">late content</div>';</script></body></html>`)
	}))
	defer srv.Close()

	r, err := New(Config{UserAgent: "site-ingest-test", Headless: true, NavTimeout: 10 * time.Second}, nil, nil)
	if err != nil {
		t.Skipf("chrome unavailable: %v", err)
	}
	defer r.Close()

	res, err := r.Render(context.Background(), crawler.RenderRequest{URL: srv.URL, WaitUntil: crawler.WaitLoad, WaitSelector: "#late"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.True(t, strings.Contains(res.HTML, "late content"))

	r.Close()
	_, err = r.Render(context.Background(), crawler.RenderRequest{URL: srv.URL})
	require.ErrorIs(t, err, ErrClosed)
}
