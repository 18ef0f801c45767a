package gcs_test

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	gcsclient "cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/site-ingest/internal/segment"
	"github.com/JakeFAU/site-ingest/internal/storage"
	"github.com/JakeFAU/site-ingest/internal/storage/gcs"
)

type upload struct {
	name string
	body string
}

// newTestStore points a BlobStore at an httptest server that answers the
// JSON API multipart upload endpoint.
func newTestStore(t *testing.T, cfg gcs.Config, handler http.HandlerFunc) *gcs.BlobStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := gcsclient.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := gcs.New(client, cfg)
	require.NoError(t, err)
	return store
}

func recordingHandler(t *testing.T, bucket string, mu *sync.Mutex, uploads *[]upload) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, fmt.Sprintf("/upload/storage/v1/b/%s/o", bucket))
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		name := r.URL.Query().Get("name")
		mu.Lock()
		*uploads = append(*uploads, upload{name: name, body: string(body)})
		mu.Unlock()
		fmt.Fprintln(w, `{ "name": "`+name+`" }`)
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := gcs.New(nil, gcs.Config{Bucket: "b"})
	require.Error(t, err)

	client, err := gcsclient.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	_, err = gcs.New(client, gcs.Config{})
	require.Error(t, err)
}

func TestPutObjectUploadsUnderPrefix(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var uploads []upload
	store := newTestStore(t, gcs.Config{Bucket: "test-bucket", Prefix: "/crawl/"},
		recordingHandler(t, "test-bucket", &mu, &uploads))

	uri, err := store.PutObject(context.Background(), "html/a.html", "text/html", strings.NewReader("<p>a</p>"))
	require.NoError(t, err)
	assert.Equal(t, "gs://test-bucket/crawl/html/a.html", uri)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, uploads, 1)
	assert.Equal(t, "crawl/html/a.html", uploads[0].name)
	assert.Contains(t, uploads[0].body, "<p>a</p>")
}

func TestPutObjectServerError(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, gcs.Config{Bucket: "test-bucket"}, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	_, err := store.PutObject(context.Background(), "html/a.html", "text/html", strings.NewReader("x"))
	assert.Error(t, err)
}

func TestPutObjectEmptyPath(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, gcs.Config{Bucket: "test-bucket"}, func(w http.ResponseWriter, _ *http.Request) {
		t.Error("no request expected")
	})
	_, err := store.PutObject(context.Background(), "", "text/html", strings.NewReader("x"))
	assert.Error(t, err)
}

func TestStoreChunksUploadsJSONLines(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var uploads []upload
	store := newTestStore(t, gcs.Config{Bucket: "test-bucket"}, recordingHandler(t, "test-bucket", &mu, &uploads))

	doc := storage.StoredDocument{ID: "d1", URL: "https://example.com"}
	err := store.StoreChunks(context.Background(), doc, "cl100k_base", []segment.Chunk{
		{Title: "T", Text: "one", Tokens: []int{7}, TokenCount: 1},
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, uploads, 1)
	assert.Equal(t, "chunks/d1.jsonl", uploads[0].name)

	// The multipart body carries the metadata part first; find the record line.
	var rec storage.ChunkRecord
	found := false
	scanner := bufio.NewScanner(strings.NewReader(uploads[0].body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, `{"document_id"`) {
			require.NoError(t, json.Unmarshal([]byte(line), &rec))
			found = true
		}
	}
	require.True(t, found)
	assert.Equal(t, "T", rec.Title)
	assert.Equal(t, "cl100k_base", rec.Encoding)
}
