package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/comigor/localchat/internal/logger"
)

// Embedder turns text into fixed-size vectors.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// ddlEpisodes returns the episodes DDL with the vector dimension baked in.
func ddlEpisodes(dims int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS memory_episodes (
    name        TEXT         PRIMARY KEY,
    group_id    TEXT         NOT NULL,
    session_id  TEXT         NOT NULL DEFAULT '',
    body        TEXT         NOT NULL,
    embedding   vector(%d)   NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_memory_episodes_group
    ON memory_episodes (group_id);

CREATE INDEX IF NOT EXISTS idx_memory_episodes_embedding
    ON memory_episodes USING hnsw (embedding vector_cosine_ops);
`, dims)
}

// VectorStore keeps episodes in PostgreSQL and answers searches by cosine
// distance between embeddings. Each episode is returned whole as a Fact.
type VectorStore struct {
	pool     *pgxpool.Pool
	embedder Embedder
	groupID  string
	limit    int
}

var _ Client = (*VectorStore)(nil)

// OpenVectorStore connects to dsn, registers pgvector types on every
// connection and creates the episodes table if needed.
func OpenVectorStore(ctx context.Context, dsn string, emb Embedder, groupID string, limit int) (*VectorStore, error) {
	if emb.Dimensions() <= 0 {
		return nil, errors.New("memory: pgvector backend needs embedding dimensions")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("memory: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("memory: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("memory: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddlEpisodes(emb.Dimensions())); err != nil {
		pool.Close()
		return nil, fmt.Errorf("memory: migrate: %w", err)
	}
	if limit <= 0 {
		limit = 10
	}
	logger.L.Info("pgvector memory initialized", "group_id", groupID, "dimensions", emb.Dimensions())
	return &VectorStore{pool: pool, embedder: emb, groupID: groupID, limit: limit}, nil
}

func (s *VectorStore) Search(ctx context.Context, query string) ([]Fact, error) {
	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("memory: embed query: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT body, created_at, embedding <=> $1 AS distance
		FROM   memory_episodes
		WHERE  group_id = $2
		ORDER  BY distance
		LIMIT  $3`, pgvector.NewVector(vec), s.groupID, s.limit)
	if err != nil {
		return nil, fmt.Errorf("memory: search: %w", err)
	}
	facts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Fact, error) {
		var (
			f        Fact
			distance float64
		)
		err := row.Scan(&f.Text, &f.At, &distance)
		f.Score = 1 - distance
		return f, err
	})
	if err != nil {
		return nil, fmt.Errorf("memory: search: %w", err)
	}
	return facts, nil
}

// AddEpisode stores ep. An episode whose name already exists is left as is.
func (s *VectorStore) AddEpisode(ctx context.Context, ep Episode) error {
	vec, err := s.embedder.EmbedQuery(ctx, ep.Body)
	if err != nil {
		return fmt.Errorf("memory: embed episode: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO memory_episodes (name, group_id, session_id, body, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (name) DO NOTHING`,
		ep.Name, s.groupID, ep.SessionID, ep.Body, pgvector.NewVector(vec), ep.At)
	if err != nil {
		return fmt.Errorf("memory: add episode: %w", err)
	}
	return nil
}

func (s *VectorStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *VectorStore) Close() error {
	s.pool.Close()
	return nil
}
