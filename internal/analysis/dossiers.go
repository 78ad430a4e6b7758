package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/bus"
	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/domain"
	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/repository"
)

// NewDossier describes a credit application to register.
type NewDossier struct {
	Reference string                 `json:"reference,omitempty"`
	Officer   string                 `json:"officer,omitempty"`
	Request   domain.AnalysisRequest `json:"request"`
}

// StatusChangedEvent is published on every dossier status change.
type StatusChangedEvent struct {
	DossierID string               `json:"dossierId"`
	From      domain.DossierStatus `json:"from"`
	To        domain.DossierStatus `json:"to"`
}

// CreateDossier validates and stores a new dossier in status submitted.
func (s *Service) CreateDossier(ctx context.Context, tenantID string, in NewDossier) (*domain.Dossier, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("repository not available")
	}

	prepared, err := in.Request.Prepare()
	if err != nil {
		return nil, err
	}
	if _, err := s.thresholds(prepared.Policy); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	d := &domain.Dossier{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Reference: strings.TrimSpace(in.Reference),
		Officer:   strings.TrimSpace(in.Officer),
		Status:    domain.StatusSubmitted,
		Request:   prepared,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.SaveDossier(ctx, tenantID, d); err != nil {
		return nil, fmt.Errorf("failed to save dossier: %w", err)
	}

	if s.bus != nil {
		if err := bus.PublishJSON(ctx, s.bus, tenantID, domain.TopicDossierSubmitted, d); err != nil {
			slog.Error("failed to publish dossier", "dossier_id", d.ID, "error", err)
		}
	}

	slog.Info("dossier submitted",
		"tenant_id", tenantID,
		"dossier_id", d.ID,
		"reference", d.Reference,
	)
	return d, nil
}

// GetDossier returns a stored dossier.
func (s *Service) GetDossier(ctx context.Context, tenantID, dossierID string) (*domain.Dossier, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("repository not available")
	}
	return s.repo.GetDossier(ctx, tenantID, dossierID)
}

// ListDossiers returns the dossiers of a tenant, optionally by status.
func (s *Service) ListDossiers(ctx context.Context, tenantID string, status domain.DossierStatus) ([]*domain.Dossier, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("repository not available")
	}
	if status != "" && !status.IsValid() {
		return nil, &domain.InvalidInputError{Field: "status", Reason: "unknown dossier status"}
	}
	return s.repo.ListDossiers(ctx, tenantID, status)
}

// TransitionDossier moves a dossier to next when the lifecycle allows it.
func (s *Service) TransitionDossier(ctx context.Context, tenantID, dossierID string, next domain.DossierStatus) (*domain.Dossier, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("repository not available")
	}
	if !next.IsValid() {
		return nil, &domain.InvalidInputError{Field: "status", Reason: "unknown dossier status"}
	}

	d, err := s.repo.GetDossier(ctx, tenantID, dossierID)
	if err != nil {
		return nil, err
	}
	if !d.Status.CanTransitionTo(next) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, d.Status, next)
	}

	if err := s.repo.UpdateDossierStatus(ctx, tenantID, dossierID, next); err != nil {
		return nil, err
	}
	s.publishStatus(ctx, tenantID, dossierID, d.Status, next)

	d.Status = next
	d.UpdatedAt = time.Now().UTC()
	return d, nil
}

// RequestAnalysis queues an analysis of a stored dossier for the worker.
func (s *Service) RequestAnalysis(ctx context.Context, tenantID, dossierID string, policy map[string]any) error {
	if s.bus == nil {
		return fmt.Errorf("event bus not available")
	}
	if _, err := s.GetDossier(ctx, tenantID, dossierID); err != nil {
		return err
	}
	if _, err := s.thresholds(policy); err != nil {
		return err
	}

	event := domain.AnalysisRequestedEvent{
		DossierID: dossierID,
		TraceID:   traceID(ctx),
		Policy:    policy,
	}
	return bus.PublishJSON(ctx, s.bus, tenantID, domain.TopicAnalysisRequested, event)
}

// LatestResult returns the most recent result of a dossier, from the
// cache when possible.
func (s *Service) LatestResult(ctx context.Context, tenantID, dossierID string) (*domain.ScoringResult, error) {
	if s.cache != nil {
		result, err := s.cache.LatestResult(ctx, tenantID, dossierID)
		if err != nil {
			slog.Warn("failed to read cached result", "dossier_id", dossierID, "error", err)
		}
		if result != nil {
			return result, nil
		}
	}

	results, err := s.Results(ctx, tenantID, dossierID)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, repository.ErrNotFound
	}

	if s.cache != nil {
		_ = s.cache.StoreLatest(ctx, tenantID, results[0], s.resultTTL)
	}
	return results[0], nil
}

// Results returns every result of a dossier, newest first.
func (s *Service) Results(ctx context.Context, tenantID, dossierID string) ([]*domain.ScoringResult, error) {
	if _, err := s.GetDossier(ctx, tenantID, dossierID); err != nil {
		return nil, err
	}
	return s.repo.ListScoringResults(ctx, tenantID, dossierID)
}

// GetResult returns a stored result.
func (s *Service) GetResult(ctx context.Context, tenantID, resultID string) (*domain.ScoringResult, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("repository not available")
	}
	return s.repo.GetScoringResult(ctx, tenantID, resultID)
}

func (s *Service) publishStatus(ctx context.Context, tenantID, dossierID string, from, to domain.DossierStatus) {
	if s.bus == nil {
		return
	}
	event := StatusChangedEvent{DossierID: dossierID, From: from, To: to}
	if err := bus.PublishJSON(ctx, s.bus, tenantID, domain.TopicDossierStatus, event); err != nil {
		slog.Error("failed to publish status change", "dossier_id", dossierID, "error", err)
	}
}
