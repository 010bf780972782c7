// Package httpapi exposes the session workflow over HTTP: start, resume,
// inspect, and purge estimation sessions as JSON, plus health and
// Prometheus endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aretw0/tally/internal/logging"
	"github.com/aretw0/tally/internal/runtime"
	"github.com/aretw0/tally/pkg/domain"
)

// SessionService is the slice of the session manager the API needs.
type SessionService interface {
	Start(ctx context.Context, initial map[string]any) (runtime.Result, error)
	Resume(ctx context.Context, sessionID string, supplied map[string]any) (runtime.Result, error)
	Status(ctx context.Context, sessionID string) (runtime.Result, error)
	History(ctx context.Context, sessionID string) ([]domain.Checkpoint, error)
	Purge(ctx context.Context, sessionID string) error
}

// Server serves the session API.
type Server struct {
	svc      SessionService
	logger   *slog.Logger
	gatherer prometheus.Gatherer
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetricsGatherer enables the /metrics endpoint over the gatherer.
func WithMetricsGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// NewHandler builds the HTTP handler.
func NewHandler(svc SessionService, opts ...Option) http.Handler {
	s := &Server{svc: svc, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Post("/sessions", s.startSession)
	r.Get("/sessions/{id}", s.sessionStatus)
	r.Post("/sessions/{id}/resume", s.resumeSession)
	r.Get("/sessions/{id}/history", s.sessionHistory)
	r.Delete("/sessions/{id}", s.purgeSession)
	r.Get("/healthz", s.health)
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// resultResponse is the wire shape of a session result.
type resultResponse struct {
	SessionID      string       `json:"session_id"`
	Status         string       `json:"status"`
	AwaitingStage  string       `json:"awaiting_stage,omitempty"`
	RequiredFields []string     `json:"required_fields,omitempty"`
	State          domain.State `json:"state"`
}

type checkpointResponse struct {
	Seq       int64  `json:"seq"`
	StageName string `json:"stage_name"`
	CreatedAt string `json:"created_at"`
	Status    string `json:"status"`
}

func toResponse(res runtime.Result) resultResponse {
	return resultResponse{
		SessionID:      res.SessionID,
		Status:         string(res.Status),
		AwaitingStage:  res.AwaitingStage,
		RequiredFields: res.RequiredFields,
		State:          res.State,
	}
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	var initial map[string]any
	if err := json.NewDecoder(r.Body).Decode(&initial); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		s.logger.Warn("start: invalid request body", "error", err)
		return
	}

	res, err := s.svc.Start(r.Context(), initial)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toResponse(res))
}

func (s *Server) resumeSession(w http.ResponseWriter, r *http.Request) {
	var supplied map[string]any
	if err := json.NewDecoder(r.Body).Decode(&supplied); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		s.logger.Warn("resume: invalid request body", "error", err)
		return
	}

	res, err := s.svc.Resume(r.Context(), chi.URLParam(r, "id"), supplied)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toResponse(res))
}

func (s *Server) sessionStatus(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toResponse(res))
}

func (s *Server) sessionHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.svc.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := make([]checkpointResponse, 0, len(history))
	for _, cp := range history {
		out = append(out, checkpointResponse{
			Seq:       cp.Seq,
			StageName: cp.StageName,
			CreatedAt: cp.CreatedAt.Format("2006-01-02T15:04:05.000Z07:00"),
			Status:    domain.GetString(cp.State, domain.KeyStatus, ""),
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) purgeSession(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Purge(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "error", err)
	}
}

// writeError maps domain errors to HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var se *domain.StageError
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.As(err, &se) && se.Kind == domain.FailureValidation:
		status = http.StatusUnprocessableEntity
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
