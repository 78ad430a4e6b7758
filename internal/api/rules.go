package api

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/domain"
)

// RuleRequest is the body of POST /rules.
type RuleRequest struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Version     string            `json:"version,omitempty"`
	Expression  string            `json:"expression"`
	Bands       []domain.RuleBand `json:"bands"`
	Weight      float64           `json:"weight"`
	Enabled     bool              `json:"enabled"`
}

func (r RuleRequest) rule() (*domain.RuleConfig, error) {
	switch {
	case r.ID == "":
		return nil, &domain.InvalidInputError{Field: "id", Reason: "is required"}
	case r.Name == "":
		return nil, &domain.InvalidInputError{Field: "name", Reason: "is required"}
	case r.Expression == "":
		return nil, &domain.InvalidInputError{Field: "expression", Reason: "is required"}
	case r.Weight < 0:
		return nil, &domain.InvalidInputError{Field: "weight", Reason: "must not be negative"}
	}
	for i, b := range r.Bands {
		switch b.Outcome {
		case domain.RuleOutcomePass, domain.RuleOutcomeReview, domain.RuleOutcomeFail:
		default:
			return nil, &domain.InvalidInputError{Field: fmt.Sprintf("bands[%d].outcome", i), Reason: "must be pass, review or fail"}
		}
	}

	version := r.Version
	if version == "" {
		version = "1.0.0"
	}
	return &domain.RuleConfig{
		ID:          r.ID,
		TenantID:    domain.AllTenants,
		Name:        r.Name,
		Description: r.Description,
		Version:     version,
		Expression:  r.Expression,
		Bands:       r.Bands,
		Weight:      r.Weight,
		Enabled:     r.Enabled,
	}, nil
}

// ListRules handles GET /rules: the rules the engine currently evaluates.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loaded := h.engine.Rules()
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": loaded,
		"count": len(loaded),
	})
}

// GetRule handles GET /rules/{id}.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, ok := h.engine.Rule(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "rule not found"})
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// CreateRule handles POST /rules. The rule is compiled and stored as a
// shared rule but only evaluated after POST /rules/reload.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req RuleRequest
	if !decodeBody(w, r, &req) {
		return
	}

	rule, err := req.rule()
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.engine.Validate(rule); err != nil {
		writeError(w, &domain.InvalidInputError{Field: "expression", Reason: err.Error()})
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveRuleConfig(r.Context(), domain.AllTenants, rule); err != nil {
			writeError(w, fmt.Errorf("save rule %s: %w", rule.ID, err))
			return
		}
	}

	slog.Info("rule stored", "rule_id", rule.ID, "enabled", rule.Enabled)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":    rule,
		"applied": false,
	})
}

// ReloadRules handles POST /rules/reload: the stored shared rules replace
// the loaded set, or nothing changes if one of them does not compile.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "repository not available"})
		return
	}

	stored, err := h.repo.ListRuleConfigs(r.Context(), domain.AllTenants)
	if err != nil {
		writeError(w, fmt.Errorf("list rules: %w", err))
		return
	}
	if err := h.engine.Replace(stored); err != nil {
		slog.Warn("rule reload rejected", "error", err)
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}

	slog.Info("rules reloaded", "stored", len(stored), "loaded", h.engine.Count())
	writeJSON(w, http.StatusOK, map[string]int{
		"stored": len(stored),
		"loaded": h.engine.Count(),
	})
}
