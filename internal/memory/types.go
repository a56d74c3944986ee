package memory

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("turn not found")

// Turn is one (prompt, response) exchange attributed to a user.
type Turn struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Prompt      string    `json:"user_prompt"`
	Response    string    `json:"ai_response"`
	PIIRedacted bool      `json:"pii_redacted"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists and retrieves conversation turns. RecentTurns returns the
// newest limit turns in chronological order; limit <= 0 returns all of them.
type Store interface {
	SaveTurn(ctx context.Context, turn Turn) error
	RecentTurns(ctx context.Context, userID string, limit int) ([]Turn, error)
	CountTurns(ctx context.Context, userID string) (int, error)
	CountByPrompt(ctx context.Context, userID, prompt string) (int, error)
	DeleteByPrompt(ctx context.Context, userID, prompt string) (int, error)
	HasIdentical(ctx context.Context, userID, prompt, response string) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}

func prepare(turn Turn, newID func() string) Turn {
	if turn.ID == "" {
		turn.ID = newID()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	return turn
}
