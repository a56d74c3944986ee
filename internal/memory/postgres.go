package memory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists conversation turns in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Prompts are unbounded text and overflow a btree row, so lookups by prompt
// go through an md5 expression index and then compare the full text.
const promptMatch = `user_id=$1 AND md5(user_prompt)=md5($2) AND user_prompt=$2`

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS conversation_turns (
		seq BIGSERIAL,
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		user_prompt TEXT NOT NULL,
		ai_response TEXT NOT NULL,
		pii_redacted BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_conversation_turns_user_created ON conversation_turns (user_id, created_at, seq);`,
	`CREATE INDEX IF NOT EXISTS idx_conversation_turns_user_prompt ON conversation_turns (user_id, md5(user_prompt));`,
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveTurn(ctx context.Context, turn Turn) error {
	turn = prepare(turn, uuid.NewString)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversation_turns (id, user_id, user_prompt, ai_response, pii_redacted, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		turn.ID,
		turn.UserID,
		turn.Prompt,
		turn.Response,
		turn.PIIRedacted,
		turn.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save turn: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecentTurns(ctx context.Context, userID string, limit int) ([]Turn, error) {
	query := `SELECT id, user_id, user_prompt, ai_response, pii_redacted, created_at
		 FROM conversation_turns WHERE user_id=$1 ORDER BY created_at DESC, seq DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recent turns: %w", err)
	}
	defer rows.Close()

	items := make([]Turn, 0, max(limit, 0))
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ID, &t.UserID, &t.Prompt, &t.Response, &t.PIIRedacted, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn rows: %w", err)
	}

	// Reverse into chronological order for prompt coherence.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}

	return items, nil
}

func (s *PostgresStore) CountTurns(ctx context.Context, userID string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM conversation_turns WHERE user_id=$1`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count turns: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) CountByPrompt(ctx context.Context, userID, prompt string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM conversation_turns WHERE `+promptMatch,
		userID, prompt,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count turns by prompt: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) DeleteByPrompt(ctx context.Context, userID, prompt string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM conversation_turns WHERE `+promptMatch,
		userID, prompt,
	)
	if err != nil {
		return 0, fmt.Errorf("delete turns by prompt: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) HasIdentical(ctx context.Context, userID, prompt, response string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM conversation_turns WHERE `+promptMatch+` AND ai_response=$3)`,
		userID, prompt, response,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check identical turn: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
