// Package knowledge provides a PostgreSQL-backed store of static background
// snippets used to ground reply generation.
//
// The store holds a pre-indexed knowledge base (venue notes, domain facts,
// operator-authored context) and ranks its chunks by cosine similarity to a
// transcript via the pgvector extension. It is a read-mostly lookup table
// seeded ahead of a session: nothing heard during monitoring is ever written
// here, so session audio and transcripts stay in memory only.
package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/earshot-audio/earshot/pkg/provider/embeddings"
)

// Document is one seedable unit of background knowledge.
type Document struct {
	// ID uniquely identifies the document. Re-indexing the same ID replaces
	// the stored content and embedding.
	ID string

	// Source labels where the document came from (a file name, a URL).
	Source string

	// Content is the text that gets embedded and later surfaced as a
	// snippet.
	Content string
}

// Store ranks pre-indexed background snippets against transcripts. All
// methods are safe for concurrent use.
type Store struct {
	pool     *pgxpool.Pool
	embedder embeddings.Provider
	log      *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// NewStore connects to the PostgreSQL database at dsn, registers pgvector
// types on every connection, and ensures the chunks table exists with the
// embedder's vector dimension. The embedder must report a non-zero dimension,
// which for auto-detecting providers may issue one live embed call here.
func NewStore(ctx context.Context, dsn string, embedder embeddings.Provider, opts ...Option) (*Store, error) {
	if embedder == nil {
		return nil, fmt.Errorf("knowledge: embedder is required")
	}
	dims := embedder.Dimensions()
	if dims <= 0 {
		return nil, fmt.Errorf("knowledge: embedder %q reports no vector dimension", embedder.ModelID())
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("knowledge: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("knowledge: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("knowledge: ping: %w", err)
	}
	if err := migrate(ctx, pool, dims); err != nil {
		pool.Close()
		return nil, fmt.Errorf("knowledge: migrate: %w", err)
	}

	s := &Store{pool: pool, embedder: embedder, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// migrate installs the pgvector extension and creates the chunks table and
// its HNSW index. Changing the embedding dimension after the first migration
// requires a manual schema change.
func migrate(ctx context.Context, pool *pgxpool.Pool, dims int) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS knowledge_chunks (
    id        TEXT PRIMARY KEY,
    source    TEXT NOT NULL DEFAULT '',
    content   TEXT NOT NULL,
    embedding vector(%d)
)`, dims),
		`CREATE INDEX IF NOT EXISTS idx_knowledge_chunks_embedding
    ON knowledge_chunks USING hnsw (embedding vector_cosine_ops)`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("exec ddl: %w", err)
		}
	}
	return nil
}

// Index embeds and upserts docs in one batch embed call. A document whose ID
// already exists is completely replaced.
func (s *Store) Index(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	texts := make([]string, len(docs))
	for i, d := range docs {
		if d.ID == "" {
			return fmt.Errorf("knowledge: index: document %d has no ID", i)
		}
		texts[i] = d.Content
	}

	vecs, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("knowledge: index: embed: %w", err)
	}

	const q = `
		INSERT INTO knowledge_chunks (id, source, content, embedding)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
		    source    = EXCLUDED.source,
		    content   = EXCLUDED.content,
		    embedding = EXCLUDED.embedding`
	for i, d := range docs {
		if _, err := s.pool.Exec(ctx, q, d.ID, d.Source, d.Content, pgvector.NewVector(vecs[i])); err != nil {
			return fmt.Errorf("knowledge: index %q: %w", d.ID, err)
		}
	}
	s.log.Info("knowledge indexed", "documents", len(docs), "model", s.embedder.ModelID())
	return nil
}

// Relevant embeds query and returns the contents of the limit closest chunks,
// ordered by ascending cosine distance (most similar first). A limit of zero
// or less returns nil without touching the database.
func (s *Store) Relevant(ctx context.Context, query string, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("knowledge: relevant: embed query: %w", err)
	}

	const q = `
		SELECT content, embedding <=> $1 AS distance
		FROM   knowledge_chunks
		ORDER  BY distance
		LIMIT  $2`
	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(vec), limit)
	if err != nil {
		return nil, fmt.Errorf("knowledge: relevant: query: %w", err)
	}

	snippets, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (string, error) {
		var (
			content  string
			distance float64
		)
		if err := row.Scan(&content, &distance); err != nil {
			return "", err
		}
		return content, nil
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge: relevant: scan: %w", err)
	}
	return snippets, nil
}

// Count returns the number of indexed chunks.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM knowledge_chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("knowledge: count: %w", err)
	}
	return n, nil
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// LoadDir reads every .txt and .md file directly under dir into a Document,
// one per file, using the file name as the document ID. Subdirectories and
// other extensions are skipped; empty files are dropped.
func LoadDir(dir string) ([]Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("knowledge: read dir: %w", err)
	}

	var docs []Document
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".txt" && ext != ".md" {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("knowledge: read %q: %w", e.Name(), err)
		}
		content := strings.TrimSpace(string(raw))
		if content == "" {
			continue
		}
		docs = append(docs, Document{
			ID:      e.Name(),
			Source:  filepath.Join(dir, e.Name()),
			Content: content,
		})
	}
	return docs, nil
}
