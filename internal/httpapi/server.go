package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/recall/internal/assistant"
	"github.com/ent0n29/recall/internal/completion"
	"github.com/ent0n29/recall/internal/config"
	"github.com/ent0n29/recall/internal/history"
	"github.com/ent0n29/recall/internal/memory"
	"github.com/ent0n29/recall/internal/observability"
)

// Assistant is the pipeline surface exposed over HTTP.
type Assistant interface {
	Ask(ctx context.Context, req assistant.AskRequest) (assistant.AskResponse, error)
	Stats(ctx context.Context, userID string) (assistant.StatsResponse, error)
	RunDiagnostic(ctx context.Context) assistant.DiagnosticResponse
	EnhanceQuery(ctx context.Context, req completion.EnhanceRequest) (completion.EnhanceResult, error)
	History(ctx context.Context, userID string, limit int) ([]memory.Turn, error)
	Forget(ctx context.Context, userID, prompt string) (assistant.ForgetResponse, error)
	Ready(ctx context.Context) error
	Strategy() history.Strategy
}

type Server struct {
	cfg       config.Config
	assistant Assistant
	metrics   *observability.Metrics
	logger    *slog.Logger
	upgrader  websocket.Upgrader
}

func New(cfg config.Config, svc Assistant, metrics *observability.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:       cfg,
		assistant: svc,
		metrics:   metrics,
		logger:    logger.With("component", "httpapi"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Browsers may only connect from the same origin unless explicitly allowed.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/", s.handleRoot)
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/run-script", s.handleRunScript)
	r.Post("/ask-ai", s.handleAsk)
	r.Get("/ws/ask-ai", s.handleAskWS)
	r.Post("/enhance-query", s.handleEnhance)
	r.Get("/user-stats/{user_id}", s.handleStats)
	r.Get("/user-history/{user_id}", s.handleHistory)
	r.Delete("/user-history/{user_id}", s.handleForget)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	return r
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"message": "Hello, world!"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"history_strategy": s.assistant.Strategy(),
		"persist_policy":   s.cfg.PersistPolicy,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.assistant.Ready(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":           "ready",
		"history_strategy": s.assistant.Strategy(),
	})
}

func (s *Server) handleRunScript(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.assistant.RunDiagnostic(r.Context()))
}

type askBody struct {
	Query   string   `json:"query"`
	UserID  string   `json:"user_ID"`
	Context []string `json:"context,omitempty"`
}

type askReply struct {
	Response  string `json:"response"`
	Error     string `json:"error"`
	ErrorKind string `json:"error_kind,omitempty"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var body askBody
	if err := decodeJSON(r, &body); err != nil {
		if errors.Is(err, errEmptyBody) {
			err = errors.New("request body is required")
		}
		respondJSON(w, http.StatusBadRequest, askReply{Error: err.Error(), ErrorKind: string(assistant.KindValidation)})
		return
	}

	res, err := s.assistant.Ask(r.Context(), assistant.AskRequest{
		Query:   body.Query,
		UserID:  body.UserID,
		Context: body.Context,
	})
	if err != nil {
		msg := res.Error
		if msg == "" {
			msg = err.Error()
		}
		respondJSON(w, statusFor(err), askReply{Response: res.Response, Error: msg, ErrorKind: string(assistant.KindOf(err))})
		return
	}
	respondJSON(w, http.StatusOK, askReply{Response: res.Response, Error: res.Error})
}

func (s *Server) handleEnhance(w http.ResponseWriter, r *http.Request) {
	var req completion.EnhanceRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	res, err := s.assistant.EnhanceQuery(r.Context(), req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.assistant.Stats(r.Context(), chi.URLParam(r, "user_id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	turns, err := s.assistant.History(r.Context(), userID, limit)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"turns":   turns,
	})
}

func (s *Server) handleForget(w http.ResponseWriter, r *http.Request) {
	res, err := s.assistant.Forget(r.Context(), chi.URLParam(r, "user_id"), r.URL.Query().Get("prompt"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// handlePerfLatency serves the rolling window of recent asks: per-stage
// latency with history split by strategy, history sizes and persist actions.
func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.metrics.SnapshotAsks())
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

const maxBodyBytes = 1 << 20

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func respondServiceError(w http.ResponseWriter, err error) {
	code := string(assistant.KindOf(err))
	if code == "" {
		code = "internal"
	}
	respondError(w, statusFor(err), code, err.Error())
}

func statusFor(err error) int {
	switch assistant.KindOf(err) {
	case assistant.KindValidation:
		return http.StatusBadRequest
	case assistant.KindNotFound:
		return http.StatusNotFound
	case assistant.KindExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
