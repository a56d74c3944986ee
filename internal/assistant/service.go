// Package assistant runs the ask pipeline: select history, generate, then
// persist. Each stage completes before the next starts.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ent0n29/recall/internal/completion"
	"github.com/ent0n29/recall/internal/conversation"
	"github.com/ent0n29/recall/internal/history"
	"github.com/ent0n29/recall/internal/memory"
	"github.com/ent0n29/recall/internal/observability"
)

// DefaultUserID is used when a request carries no user id.
const DefaultUserID = "anonymous"

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 500
)

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type AskRequest struct {
	Query   string   `json:"query" validate:"required,max=32768"`
	UserID  string   `json:"user_ID" validate:"required,max=256"`
	Context []string `json:"context,omitempty" validate:"max=64,dive,max=32768"`
}

// AskResponse is the wire result of one ask. Error is empty on success.
type AskResponse struct {
	Response string `json:"response"`
	Error    string `json:"error"`

	HistoryEntries int                  `json:"-"`
	Persisted      conversation.Outcome `json:"-"`
}

type StatsResponse struct {
	UserID             string `json:"user_id"`
	TotalConversations int    `json:"total_conversations"`
	Namespace          string `json:"namespace"`
}

type DiagnosticResponse struct {
	Output string `json:"output"`
	Error  string `json:"error"`
}

type ForgetResponse struct {
	UserID         string `json:"user_id"`
	Prompt         string `json:"prompt"`
	Removed        int    `json:"removed"`
	VectorsRemoved int    `json:"vectors_removed"`
}

// VectorIndex is the per-user vector index view used for stats and deletes.
type VectorIndex interface {
	Count(ctx context.Context, userID string) (int, error)
	DeletePrompt(ctx context.Context, userID, prompt string) (int, error)
}

// Deps are the collaborators of a Service. Vectors is only set when history
// is served from the vector index.
type Deps struct {
	Store     memory.Store
	Selector  *history.Selector
	Invoker   *completion.Invoker
	Enhancer  *completion.Enhancer
	Persister *conversation.Persister
	Vectors   VectorIndex
	Metrics   *observability.Metrics
	Logger    *slog.Logger
}

type Service struct {
	store     memory.Store
	selector  *history.Selector
	invoker   *completion.Invoker
	enhancer  *completion.Enhancer
	persister *conversation.Persister
	vectors   VectorIndex
	metrics   *observability.Metrics
	logger    *slog.Logger
}

func NewService(deps Deps) (*Service, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("assistant requires a turn store")
	case deps.Selector == nil:
		return nil, errors.New("assistant requires a history selector")
	case deps.Invoker == nil:
		return nil, errors.New("assistant requires a completion invoker")
	case deps.Enhancer == nil:
		return nil, errors.New("assistant requires a query enhancer")
	case deps.Persister == nil:
		return nil, errors.New("assistant requires a persister")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     deps.Store,
		selector:  deps.Selector,
		invoker:   deps.Invoker,
		enhancer:  deps.Enhancer,
		persister: deps.Persister,
		vectors:   deps.Vectors,
		metrics:   deps.Metrics,
		logger:    logger.With("component", "assistant"),
	}, nil
}

// Ask answers req.Query with the user's relevant history injected and records
// the new turn. A history failure degrades to no history. A persist failure is
// logged and the generated response is still returned.
func (s *Service) Ask(ctx context.Context, req AskRequest) (AskResponse, error) {
	started := time.Now()
	req.Query = strings.TrimSpace(req.Query)
	req.UserID = normalizeUserID(req.UserID)

	if err := validate.Struct(req); err != nil {
		s.metrics.RecordAsk("invalid")
		return AskResponse{Error: validationMessage(err)}, newError(KindValidation, "ask", err)
	}

	trace := observability.AskTrace{Strategy: string(s.selector.Strategy())}
	defer func() {
		trace.Total = time.Since(started)
		s.metrics.ObserveAsk(trace)
	}()

	stageStart := time.Now()
	hist, err := s.selector.Select(ctx, req.UserID, req.Query)
	trace.History = time.Since(stageStart)
	trace.HistoryEntries = len(hist)
	if err != nil {
		s.metrics.RecordExternalError("history", trace.Strategy)
		trace.HistoryDegraded = true
	}

	stageStart = time.Now()
	res := s.invoker.Invoke(ctx, completion.Payload{
		Query:   req.Query,
		Context: completion.JoinContext(req.Context),
		History: hist,
	})
	trace.Completion = time.Since(stageStart)

	out := AskResponse{Response: res.Text, Error: res.Error, HistoryEntries: len(hist)}
	if res.Err != nil {
		s.metrics.RecordExternalError("generator", "generate")
		s.metrics.RecordAsk("generation_failed")
		trace.Outcome = "generation_failed"
		return out, newError(KindExternal, "generate", res.Err)
	}

	stageStart = time.Now()
	outcome, err := s.persister.Persist(ctx, memory.Turn{
		UserID:   req.UserID,
		Prompt:   req.Query,
		Response: res.Text,
	})
	trace.Persist = time.Since(stageStart)
	trace.PersistAction = string(outcome.Action)
	if err != nil {
		s.logger.Error("persist turn failed", "user_id", req.UserID, "err", err)
		s.metrics.RecordExternalError("store", "persist")
		trace.PersistFailed = true
	}
	out.Persisted = outcome

	s.metrics.RecordAsk("ok")
	trace.Outcome = "ok"
	s.logger.Info("ask completed",
		"user_id", req.UserID,
		"strategy", trace.Strategy,
		"history_entries", len(hist),
		"persist_action", outcome.Action,
		"elapsed_ms", time.Since(started).Milliseconds(),
	)
	return out, nil
}

// Stats counts the user's stored conversations. Under the vector strategy the
// count comes from the user's vector namespace.
func (s *Service) Stats(ctx context.Context, userID string) (StatsResponse, error) {
	userID = normalizeUserID(userID)
	if err := validate.Var(userID, "max=256"); err != nil {
		return StatsResponse{}, newError(KindValidation, "stats", err)
	}

	var (
		total int
		err   error
	)
	if s.vectors != nil && s.selector.Strategy() == history.StrategyVector {
		total, err = s.vectors.Count(ctx, userID)
	} else {
		total, err = s.store.CountTurns(ctx, userID)
	}
	if err != nil {
		s.metrics.RecordExternalError("store", "stats")
		return StatsResponse{}, newError(KindExternal, "stats", err)
	}
	return StatsResponse{UserID: userID, TotalConversations: total, Namespace: userID}, nil
}

// RunDiagnostic invokes the generator with no input, which reports the
// no-input message without calling any backend.
func (s *Service) RunDiagnostic(ctx context.Context) DiagnosticResponse {
	res := s.invoker.Invoke(ctx, completion.Payload{})
	switch {
	case errors.Is(res.Err, completion.ErrNoInput):
		return DiagnosticResponse{Output: res.Error}
	case res.Err != nil:
		return DiagnosticResponse{Error: res.Error}
	default:
		return DiagnosticResponse{Output: res.Text}
	}
}

func (s *Service) EnhanceQuery(ctx context.Context, req completion.EnhanceRequest) (completion.EnhanceResult, error) {
	res, err := s.enhancer.Enhance(ctx, req)
	switch {
	case errors.Is(err, completion.ErrNoInput):
		return completion.EnhanceResult{}, newError(KindValidation, "enhance", err)
	case err != nil:
		s.metrics.RecordExternalError("generator", "enhance")
		return completion.EnhanceResult{}, newError(KindExternal, "enhance", err)
	}
	return res, nil
}

// History returns the user's newest turns in chronological order. limit <= 0
// selects the default page size.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]memory.Turn, error) {
	userID = normalizeUserID(userID)
	if err := validate.Var(userID, "max=256"); err != nil {
		return nil, newError(KindValidation, "history", err)
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		return nil, newError(KindValidation, "history", fmt.Errorf("limit must be <= %d", maxHistoryLimit))
	}
	turns, err := s.store.RecentTurns(ctx, userID, limit)
	if err != nil {
		s.metrics.RecordExternalError("store", "history")
		return nil, newError(KindExternal, "history", err)
	}
	if turns == nil {
		turns = []memory.Turn{}
	}
	return turns, nil
}

// Forget deletes every turn and vector the user stored for prompt.
func (s *Service) Forget(ctx context.Context, userID, prompt string) (ForgetResponse, error) {
	userID = normalizeUserID(userID)
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return ForgetResponse{}, newError(KindValidation, "forget", errors.New("prompt is required"))
	}

	removed, err := s.store.DeleteByPrompt(ctx, userID, prompt)
	if err != nil {
		s.metrics.RecordExternalError("store", "forget")
		return ForgetResponse{}, newError(KindExternal, "forget", err)
	}
	out := ForgetResponse{UserID: userID, Prompt: prompt, Removed: removed}
	if s.vectors != nil {
		n, err := s.vectors.DeletePrompt(ctx, userID, prompt)
		if err != nil {
			s.metrics.RecordExternalError("vectorstore", "forget")
			return out, newError(KindExternal, "forget", err)
		}
		out.VectorsRemoved = n
	}
	if out.Removed == 0 && out.VectorsRemoved == 0 {
		return out, newError(KindNotFound, "forget", memory.ErrNotFound)
	}
	return out, nil
}

// Ready reports whether the turn store is reachable.
func (s *Service) Ready(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return newError(KindExternal, "ready", err)
	}
	return nil
}

func (s *Service) Strategy() history.Strategy { return s.selector.Strategy() }

func normalizeUserID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return DefaultUserID
	}
	return id
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "max":
		return fmt.Sprintf("%s exceeds %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
}
