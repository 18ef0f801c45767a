// Package postgres provides Postgres-backed persistence for documents and chunks.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/site-ingest/internal/crawler"
	"github.com/JakeFAU/site-ingest/internal/segment"
	"github.com/JakeFAU/site-ingest/internal/storage"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type pool interface {
	Begin(context.Context) (pgx.Tx, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

const documentsPageSize = 100

const upsertCrawlItem = `
INSERT INTO crawl_items (
	url,
	final_url,
	title,
	lang,
	html_content,
	status_code,
	depth,
	content_hash,
	fetched_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)
ON CONFLICT (url) DO UPDATE SET
	final_url = EXCLUDED.final_url,
	title = EXCLUDED.title,
	lang = EXCLUDED.lang,
	html_content = EXCLUDED.html_content,
	status_code = EXCLUDED.status_code,
	depth = EXCLUDED.depth,
	content_hash = EXCLUDED.content_hash,
	fetched_at = EXCLUDED.fetched_at,
	updated_at = NOW()
RETURNING id::text`

const insertPageLinks = `
INSERT INTO page_links (source_url, destination_url)
SELECT $1, unnest($2::text[])
ON CONFLICT (source_url, destination_url) DO NOTHING`

const selectDocuments = `
SELECT id::text, url, COALESCE(title, ''), COALESCE(html_content, '')
FROM crawl_items
WHERE url > $1
ORDER BY url
LIMIT $2`

const deleteChunks = `DELETE FROM chunk_items WHERE document_id = $1`

const insertChunk = `
INSERT INTO chunk_items (
	document_id,
	url,
	ordinal,
	title,
	text_content,
	token_count,
	tokens,
	encoding
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
)`

// Store writes documents, their outgoing links and their chunks into Postgres.
type Store struct {
	pool pool
}

var (
	_ crawler.Sink           = (*Store)(nil)
	_ storage.DocumentSource = (*Store)(nil)
	_ storage.ChunkStore     = (*Store)(nil)
)

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Store upserts the document keyed by URL, records its links and returns
// the row id.
func (s *Store) Store(ctx context.Context, doc crawler.Document) (string, error) {
	var id string
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, upsertCrawlItem,
			doc.URL,
			doc.FinalURL,
			doc.Title,
			doc.Language,
			doc.HTML,
			doc.StatusCode,
			doc.Depth,
			doc.ContentHash,
			doc.FetchedAt,
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("upsert crawl item: %w", err)
		}
		if len(doc.Links) == 0 {
			return nil
		}
		if _, err := tx.Exec(ctx, insertPageLinks, doc.URL, doc.Links); err != nil {
			return fmt.Errorf("insert page links: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Documents pages through crawl_items in URL order.
func (s *Store) Documents(ctx context.Context, fn func(storage.StoredDocument) error) error {
	after := ""
	for {
		page, err := s.documentsPage(ctx, after)
		if err != nil {
			return err
		}
		for _, doc := range page {
			if err := fn(doc); err != nil {
				return err
			}
		}
		if len(page) < documentsPageSize {
			return nil
		}
		after = page[len(page)-1].URL
	}
}

func (s *Store) documentsPage(ctx context.Context, after string) ([]storage.StoredDocument, error) {
	rows, err := s.pool.Query(ctx, selectDocuments, after, documentsPageSize)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var out []storage.StoredDocument
	for rows.Next() {
		var doc storage.StoredDocument
		if err := rows.Scan(&doc.ID, &doc.URL, &doc.Title, &doc.HTML); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

// StoreChunks replaces the chunk rows of doc in one transaction.
func (s *Store) StoreChunks(ctx context.Context, doc storage.StoredDocument, encoding string, chunks []segment.Chunk) error {
	records := storage.Records(doc, encoding, chunks)
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, deleteChunks, doc.ID); err != nil {
			return fmt.Errorf("delete chunks: %w", err)
		}
		for _, rec := range records {
			tokens, err := json.Marshal(rec.Tokens)
			if err != nil {
				return fmt.Errorf("marshal tokens: %w", err)
			}
			if _, err := tx.Exec(ctx, insertChunk,
				rec.DocumentID,
				rec.DocumentURL,
				rec.Ordinal,
				rec.Title,
				rec.Text,
				rec.TokenCount,
				tokens,
				rec.Encoding,
			); err != nil {
				return fmt.Errorf("insert chunk %d: %w", rec.Ordinal, err)
			}
		}
		return nil
	})
}

func (s *Store) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("postgres store is not configured")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
