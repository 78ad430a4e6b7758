package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/analysis"
	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/domain"
)

// Ratios handles POST /ratios: ratios, deterministic class and schedule,
// without calling the narrative scorer.
func (h *Handler) Ratios(w http.ResponseWriter, r *http.Request) {
	var req domain.AnalysisRequest
	if !decodeBody(w, r, &req) {
		return
	}

	preview, err := h.service.Preview(req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// Analyze handles POST /analyze: a full analysis of a request that is not
// stored as a dossier.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.AnalysisRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.service.Analyze(ctx, GetTenantID(ctx), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// CreateDossier handles POST /dossiers.
func (h *Handler) CreateDossier(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req analysis.NewDossier
	if !decodeBody(w, r, &req) {
		return
	}

	d, err := h.service.CreateDossier(ctx, GetTenantID(ctx), req)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Location", "/dossiers/"+d.ID)
	writeJSON(w, http.StatusCreated, d)
}

// ListDossiers handles GET /dossiers?status=.
func (h *Handler) ListDossiers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := domain.DossierStatus(r.URL.Query().Get("status"))

	dossiers, err := h.service.ListDossiers(ctx, GetTenantID(ctx), status)
	if err != nil {
		writeError(w, err)
		return
	}
	if dossiers == nil {
		dossiers = []*domain.Dossier{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"dossiers": dossiers,
		"count":    len(dossiers),
	})
}

// GetDossier handles GET /dossiers/{id}.
func (h *Handler) GetDossier(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	d, err := h.service.GetDossier(ctx, GetTenantID(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// StatusRequest is the request body of PUT /dossiers/{id}/status.
type StatusRequest struct {
	Status domain.DossierStatus `json:"status"`
}

// UpdateStatus handles PUT /dossiers/{id}/status.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req StatusRequest
	if !decodeBody(w, r, &req) {
		return
	}

	d, err := h.service.TransitionDossier(ctx, GetTenantID(ctx), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// AnalyzeDossierRequest is the optional body of POST /dossiers/{id}/analyze.
type AnalyzeDossierRequest struct {
	Policy map[string]any `json:"policy,omitempty"`
}

// AnalyzeDossier handles POST /dossiers/{id}/analyze. With ?async=true
// the analysis is queued for the worker and 202 is returned.
func (h *Handler) AnalyzeDossier(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	dossierID := chi.URLParam(r, "id")

	var req AnalyzeDossierRequest
	if r.ContentLength != 0 {
		if !decodeBody(w, r, &req) {
			return
		}
	}

	async, _ := strconv.ParseBool(r.URL.Query().Get("async"))
	if async {
		if err := h.service.RequestAnalysis(ctx, tenantID, dossierID, req.Policy); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"dossierId": dossierID,
			"status":    "queued",
			"traceId":   GetTraceID(ctx),
		})
		return
	}

	result, err := h.service.AnalyzeDossier(ctx, tenantID, dossierID, req.Policy)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ListResults handles GET /dossiers/{id}/results, newest first.
func (h *Handler) ListResults(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	results, err := h.service.Results(ctx, GetTenantID(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if results == nil {
		results = []*domain.ScoringResult{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
		"count":   len(results),
	})
}

// LatestResult handles GET /dossiers/{id}/results/latest.
func (h *Handler) LatestResult(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	result, err := h.service.LatestResult(ctx, GetTenantID(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetResult handles GET /results/{id}.
func (h *Handler) GetResult(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	result, err := h.service.GetResult(ctx, GetTenantID(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
