package local

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/JakeFAU/site-ingest/internal/storage"
)

// Documents walks metadata/*.json in name order and yields each document
// with its HTML. Metadata without an HTML file is an error.
func (s *BlobStore) Documents(ctx context.Context, fn func(storage.StoredDocument) error) error {
	pattern := filepath.Join(s.baseDir, storage.MetadataPrefix, "*.json")
	files, err := filepath.Glob(pattern)
	if err != nil {
		return fmt.Errorf("list metadata: %w", err)
	}
	sort.Strings(files)

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("walk documents: %w", err)
		}
		// #nosec G304 -- paths come from globbing the store root.
		raw, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read metadata %s: %w", file, err)
		}
		var meta storage.Metadata
		if err := json.Unmarshal(raw, &meta); err != nil {
			return fmt.Errorf("decode metadata %s: %w", file, err)
		}
		id := meta.ID
		if id == "" {
			id = strings.TrimSuffix(filepath.Base(file), ".json")
		}
		htmlPath := filepath.Join(s.baseDir, storage.HTMLPrefix, id+".html")
		// #nosec G304 -- id comes from our own metadata.
		html, err := os.ReadFile(htmlPath)
		if err != nil {
			return fmt.Errorf("read html for %s: %w", id, err)
		}
		if err := fn(storage.StoredDocument{ID: id, URL: meta.URL, Title: meta.Title, HTML: string(html)}); err != nil {
			return err
		}
	}
	return nil
}
