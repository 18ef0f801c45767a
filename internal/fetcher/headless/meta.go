package headless

import (
	"net/http"
	"sync"

	"github.com/chromedp/cdproto/network"
)

// responseMeta remembers the first document response seen in a tab.
type responseMeta struct {
	mu     sync.Mutex
	seen   bool
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen {
		return
	}
	m.seen = true
	m.status = int(event.Response.Status)
	m.url = event.Response.URL
}

// snapshotWithFallbacks prefers the browser location over the response URL
// so client-side redirects are reflected. A missing status reads as 200.
func (m *responseMeta) snapshotWithFallbacks(requestURL, location string) (int, string) {
	m.mu.Lock()
	status, url := m.status, m.url
	m.mu.Unlock()

	switch {
	case location != "" && location != "about:blank":
		url = location
	case url != "":
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, url
}
