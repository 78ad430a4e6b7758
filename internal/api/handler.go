package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/analysis"
	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/domain"
	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/metrics"
	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/repository"
	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/rules"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Deps are the collaborators of the API handlers.
type Deps struct {
	Service *analysis.Service
	Repo    domain.Repository
	Cache   domain.Cache
	Bus     domain.EventBus
	Engine  *rules.Engine
	Metrics *metrics.Recorder
	Version string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	service *analysis.Service
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	engine  *rules.Engine
	metrics *metrics.Recorder
	version string
}

// NewHandler creates a new API handler.
func NewHandler(d Deps) *Handler {
	return &Handler{
		service: d.Service,
		repo:    d.Repo,
		cache:   d.Cache,
		bus:     d.Bus,
		engine:  d.Engine,
		metrics: d.Metrics,
		version: d.Version,
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
		"mode":    string(h.service.Mode()),
	})
}

// Ready reports whether the server can accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"ready": "false",
				"error": "repository unreachable",
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// decodeBody decodes a JSON body into v, answering 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return false
	}
	return true
}

// writeError maps a service error to its HTTP status.
func writeError(w http.ResponseWriter, err error) {
	var invalid *domain.InvalidInputError
	switch {
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": invalid.Error(),
			"field": invalid.Field,
		})
	case errors.Is(err, domain.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, repository.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrConflict):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrQuotaExceeded):
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrAnalysisUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "analysis unavailable, retry later",
		})
	default:
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal server error",
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
