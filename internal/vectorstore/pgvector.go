package vectorstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PgVectorIndex keeps vectors in a PostgreSQL table with the pgvector
// extension. Every statement carries a namespace predicate.
type PgVectorIndex struct {
	pool      *pgxpool.Pool
	dimension int
}

func NewPgVectorIndex(ctx context.Context, databaseURL string, dimension int) (*PgVectorIndex, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("pgvector index requires a database url")
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("pgvector index requires a positive dimension")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect vector database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping vector database: %w", err)
	}
	return &PgVectorIndex{pool: pool, dimension: dimension}, nil
}

func vectorSchemaStatements(dimension int) []string {
	return []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS conversation_vectors (
			namespace TEXT NOT NULL,
			id TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			user_prompt TEXT NOT NULL,
			ai_response TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (namespace, id)
		)`, dimension),
		// Prompts can exceed the btree row limit, so the index holds their digest.
		`CREATE INDEX IF NOT EXISTS idx_conversation_vectors_prompt ON conversation_vectors(namespace, md5(user_prompt))`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_vectors_embedding ON conversation_vectors USING hnsw (embedding vector_cosine_ops)`,
	}
}

func (p *PgVectorIndex) EnsureSchema(ctx context.Context) error {
	for _, stmt := range vectorSchemaStatements(p.dimension) {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init vector schema: %w", err)
		}
	}
	return nil
}

func (p *PgVectorIndex) Upsert(ctx context.Context, namespace string, rec Record) error {
	if err := requireNamespace(namespace); err != nil {
		return err
	}
	if len(rec.Vector) != p.dimension {
		return fmt.Errorf("vector has %d dimensions, want %d", len(rec.Vector), p.dimension)
	}
	ts := rec.Metadata.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO conversation_vectors (namespace, id, embedding, user_prompt, ai_response, created_at)
		VALUES ($1, $2, $3::vector, $4, $5, $6)
		ON CONFLICT (namespace, id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			user_prompt = EXCLUDED.user_prompt,
			ai_response = EXCLUDED.ai_response,
			created_at = EXCLUDED.created_at
	`, namespace, rec.ID, pgvector.NewVector(rec.Vector), rec.Metadata.UserPrompt, rec.Metadata.AIResponse, ts)
	if err != nil {
		return fmt.Errorf("upsert vector: %w", err)
	}
	return nil
}

// filterClause appends metadata predicates after the namespace predicate ($1).
// The prompt predicate is phrased as md5 first so the digest index applies.
func filterClause(f Filter, args []any) (string, []any) {
	where := []string{"namespace = $1"}
	if f.UserPrompt != "" {
		args = append(args, f.UserPrompt)
		n := len(args)
		where = append(where, fmt.Sprintf("md5(user_prompt) = md5($%d) AND user_prompt = $%d", n, n))
	}
	if f.AIResponse != "" {
		args = append(args, f.AIResponse)
		where = append(where, fmt.Sprintf("ai_response = $%d", len(args)))
	}
	return strings.Join(where, " AND "), args
}

func (p *PgVectorIndex) Query(ctx context.Context, namespace string, req QueryRequest) ([]Match, error) {
	if err := requireNamespace(namespace); err != nil {
		return nil, err
	}
	args := []any{namespace}
	score := "0::float8"
	order := "created_at DESC"
	if req.Vector != nil {
		args = append(args, pgvector.NewVector(req.Vector))
		score = "1 - (embedding <=> $2::vector)"
		order = "embedding <=> $2::vector"
	}
	where, args := filterClause(req.Filter, args)
	sql := fmt.Sprintf(`SELECT id, %s, user_prompt, ai_response, created_at
		FROM conversation_vectors WHERE %s ORDER BY %s`, score, where, order)
	if req.TopK > 0 {
		args = append(args, req.TopK)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}
	defer rows.Close()

	out := make([]Match, 0)
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.ID, &m.Score, &m.Metadata.UserPrompt, &m.Metadata.AIResponse, &m.Metadata.Timestamp); err != nil {
			return nil, fmt.Errorf("scan vector row: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vector rows: %w", err)
	}
	return out, nil
}

func (p *PgVectorIndex) Delete(ctx context.Context, namespace string, filter Filter) (int, error) {
	if err := requireNamespace(namespace); err != nil {
		return 0, err
	}
	where, args := filterClause(filter, []any{namespace})
	tag, err := p.pool.Exec(ctx, "DELETE FROM conversation_vectors WHERE "+where, args...)
	if err != nil {
		return 0, fmt.Errorf("delete vectors: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (p *PgVectorIndex) Count(ctx context.Context, namespace string) (int, error) {
	if err := requireNamespace(namespace); err != nil {
		return 0, err
	}
	var n int
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM conversation_vectors WHERE namespace = $1`, namespace).Scan(&n); err != nil {
		return 0, fmt.Errorf("count vectors: %w", err)
	}
	return n, nil
}

func (p *PgVectorIndex) Close() error {
	p.pool.Close()
	return nil
}
