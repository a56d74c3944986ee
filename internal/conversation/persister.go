// Package conversation decides whether and how a finished turn is written to
// the turn store and, when configured, the per-user vector index.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/recall/internal/memory"
	"github.com/ent0n29/recall/internal/observability"
	"github.com/ent0n29/recall/internal/policy"
)

type Policy string

const (
	PolicyAppend        Policy = "append"
	PolicyReplace       Policy = "replace"
	PolicySkipIdentical Policy = "skip_identical"
)

// ParsePolicy maps a configuration value to a Policy. Empty means replace.
func ParsePolicy(raw string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(raw))); p {
	case "":
		return PolicyReplace, nil
	case PolicyAppend, PolicyReplace, PolicySkipIdentical:
		return p, nil
	default:
		return "", fmt.Errorf("unsupported persist policy %q", raw)
	}
}

type Action string

const (
	ActionInserted         Action = "inserted"
	ActionReplaced         Action = "replaced"
	ActionSkippedIdentical Action = "skipped_identical"
	ActionSkippedEmpty     Action = "skipped_empty"
)

// Outcome describes what Persist did. Removed counts store turns deleted by
// the replace policy.
type Outcome struct {
	Action      Action `json:"action"`
	TurnID      string `json:"turn_id,omitempty"`
	Removed     int    `json:"removed,omitempty"`
	Indexed     bool   `json:"indexed"`
	PIIRedacted bool   `json:"pii_redacted"`
}

// VectorWriter is the subset of vectorstore.Adapter the persister needs.
type VectorWriter interface {
	Store(ctx context.Context, userID, prompt, response, id string) bool
	IsDuplicate(ctx context.Context, userID, prompt, response string) bool
	DeletePrompt(ctx context.Context, userID, prompt string) (int, error)
}

type Config struct {
	Policy    Policy
	RedactPII bool
}

type Persister struct {
	cfg     Config
	store   memory.Store
	vectors VectorWriter
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewPersister wires the store and, optionally, a vector writer. vectors may
// be nil when history is not served from the vector index.
func NewPersister(cfg Config, store memory.Store, vectors VectorWriter, metrics *observability.Metrics, logger *slog.Logger) (*Persister, error) {
	if store == nil {
		return nil, fmt.Errorf("persister requires a turn store")
	}
	p, err := ParsePolicy(string(cfg.Policy))
	if err != nil {
		return nil, err
	}
	cfg.Policy = p
	if logger == nil {
		logger = slog.Default()
	}
	return &Persister{
		cfg:     cfg,
		store:   store,
		vectors: vectors,
		metrics: metrics,
		logger:  logger.With("component", "persister"),
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

func (p *Persister) Policy() Policy { return p.cfg.Policy }

// Persist writes turn according to the configured policy. Responses that are
// blank after trimming are never written. The check, delete and insert steps
// are separate store calls and may interleave with concurrent requests for the
// same user and prompt.
func (p *Persister) Persist(ctx context.Context, turn memory.Turn) (Outcome, error) {
	if strings.TrimSpace(turn.Response) == "" {
		return p.finish(Outcome{Action: ActionSkippedEmpty}), nil
	}
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = p.now()
	}
	if p.cfg.RedactPII {
		var promptChanged, respChanged bool
		turn.Prompt, promptChanged = policy.RedactPII(turn.Prompt)
		turn.Response, respChanged = policy.RedactPII(turn.Response)
		turn.PIIRedacted = promptChanged || respChanged
	}

	out := Outcome{Action: ActionInserted, TurnID: turn.ID, PIIRedacted: turn.PIIRedacted}
	writeVector := p.vectors != nil

	switch p.cfg.Policy {
	case PolicySkipIdentical:
		dup, err := p.store.HasIdentical(ctx, turn.UserID, turn.Prompt, turn.Response)
		if err != nil {
			return Outcome{}, fmt.Errorf("check identical turn: %w", err)
		}
		if dup {
			return p.finish(Outcome{Action: ActionSkippedIdentical}), nil
		}
		if writeVector && p.vectors.IsDuplicate(ctx, turn.UserID, turn.Prompt, turn.Response) {
			writeVector = false
		}
	case PolicyReplace:
		existing, err := p.store.CountByPrompt(ctx, turn.UserID, turn.Prompt)
		if err != nil {
			return Outcome{}, fmt.Errorf("count turns for prompt: %w", err)
		}
		if existing > 0 {
			removed, err := p.store.DeleteByPrompt(ctx, turn.UserID, turn.Prompt)
			if err != nil {
				return Outcome{}, fmt.Errorf("delete turns for prompt: %w", err)
			}
			out.Action = ActionReplaced
			out.Removed = removed
		}
		if writeVector {
			if n, err := p.vectors.DeletePrompt(ctx, turn.UserID, turn.Prompt); err != nil {
				p.logger.Warn("vector delete failed", "user_id", turn.UserID, "err", err)
			} else if n > 0 {
				out.Action = ActionReplaced
			}
		}
	}

	if err := p.store.SaveTurn(ctx, turn); err != nil {
		return Outcome{}, fmt.Errorf("save turn: %w", err)
	}
	if writeVector {
		out.Indexed = p.vectors.Store(ctx, turn.UserID, turn.Prompt, turn.Response, turn.ID)
	}
	p.logger.Debug("turn persisted",
		"user_id", turn.UserID,
		"turn_id", turn.ID,
		"action", out.Action,
		"indexed", out.Indexed,
	)
	return p.finish(out), nil
}

func (p *Persister) finish(out Outcome) Outcome {
	p.metrics.RecordPersist(string(p.cfg.Policy), string(out.Action))
	return out
}
