package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/intakecalc/platform/promotion-engine/internal/docstore"
	"github.com/intakecalc/platform/promotion-engine/internal/models"
	"github.com/intakecalc/platform/promotion-engine/internal/promotion"
)

// Service is satisfied by *promotion.Executor.
type Service interface {
	HandleStatusChange(ctx context.Context, ev promotion.TriggerEvent) (promotion.Outcome, error)
	Retrigger(ctx context.Context, prospectID string) (promotion.Outcome, error)
	Readiness(ctx context.Context, prospectID string) (models.ReadinessVerdict, error)
	History(ctx context.Context, prospectID string) ([]models.PromotionLogEntry, error)
}

// Pinger reports dependency health for /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Gateway interface {
	Health(ctx context.Context) bool
}

type Server struct {
	service Service
	store   Pinger
	gateway Gateway
	gather  prometheus.Gatherer
	timeout time.Duration
}

type Config struct {
	Service Service
	Store   Pinger
	Gateway Gateway
	// Gatherer backs /metrics. Defaults to the global registry.
	Gatherer prometheus.Gatherer
	// RequestTimeout bounds each request, including a full attempt. Defaults to 2m.
	RequestTimeout time.Duration
}

func New(cfg Config) *Server {
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 2 * time.Minute
	}
	return &Server{
		service: cfg.Service,
		store:   cfg.Store,
		gateway: cfg.Gateway,
		gather:  cfg.Gatherer,
		timeout: cfg.RequestTimeout,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gather, promhttp.HandlerOpts{}))

	r.Route("/prospects/{id}", func(r chi.Router) {
		r.Use(middleware.Timeout(s.timeout))
		r.Post("/status-change", s.handleStatusChange)
		r.Post("/retrigger", s.handleRetrigger)
		r.Get("/readiness", s.handleReadiness)
		r.Get("/promotions", s.handleHistory)
	})
	return r
}

type statusChangeRequest struct {
	OldStatus models.ProspectStatus `json:"old_status"`
	NewStatus models.ProspectStatus `json:"new_status"`
}

func (s *Server) handleStatusChange(w http.ResponseWriter, r *http.Request) {
	var req statusChangeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.NewStatus == "" {
		respondError(w, http.StatusBadRequest, "new_status required")
		return
	}
	out, err := s.service.HandleStatusChange(r.Context(), promotion.TriggerEvent{
		ProspectID: chi.URLParam(r, "id"),
		OldStatus:  req.OldStatus,
		NewStatus:  req.NewStatus,
	})
	respondOutcome(w, out, err)
}

func (s *Server) handleRetrigger(w http.ResponseWriter, r *http.Request) {
	out, err := s.service.Retrigger(r.Context(), chi.URLParam(r, "id"))
	respondOutcome(w, out, err)
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	v, err := s.service.Readiness(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, v)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.service.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"promotions": entries})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"docstore": "ok", "gateway": "ok"}
	status := http.StatusOK
	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			checks["docstore"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	if s.gateway != nil && !s.gateway.Health(r.Context()) {
		checks["gateway"] = "unreachable"
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, checks)
}

// respondOutcome maps attempt errors onto status codes. Failed attempts still
// return the outcome so callers can see how far it got.
func respondOutcome(w http.ResponseWriter, out promotion.Outcome, err error) {
	if err == nil {
		code := http.StatusOK
		if out.Skipped {
			code = http.StatusAccepted
		}
		respondJSON(w, code, out)
		return
	}
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, promotion.ErrAlreadyPromoted), errors.Is(err, promotion.ErrInProgress), errors.Is(err, docstore.ErrConflict):
		code = http.StatusConflict
	case errors.Is(err, promotion.ErrValidationFailed):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, promotion.ErrInsertFailed):
		code = http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		code = http.StatusGatewayTimeout
	}
	respondJSON(w, code, map[string]any{"error": err.Error(), "outcome": out})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
