// Package quota bounds how often a dossier may be analyzed and reports
// how many analyses it already has.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/domain"
)

// Service counts analyses per dossier.
type Service struct {
	repo   domain.Repository
	cache  domain.Cache
	max    int
	window time.Duration
}

// NewService creates a quota service. A MaxAnalyses of 0 disables the
// quota; the history count still works.
func NewService(repo domain.Repository, cache domain.Cache, cfg domain.QuotaConfig) *Service {
	window := time.Duration(cfg.WindowSecs) * time.Second
	if window <= 0 {
		window = time.Hour
	}
	return &Service{
		repo:   repo,
		cache:  cache,
		max:    cfg.MaxAnalyses,
		window: window,
	}
}

// Check counts one analysis of dossierID against the current window and
// returns domain.ErrQuotaExceeded once the count passes the limit.
func (s *Service) Check(ctx context.Context, tenantID, dossierID string) error {
	if s.max <= 0 || s.cache == nil || dossierID == "" {
		return nil
	}

	count, err := s.cache.CountAnalysis(ctx, tenantID, dossierID, s.window)
	if err != nil {
		return fmt.Errorf("failed to count analyses: %w", err)
	}
	if count > int64(s.max) {
		return fmt.Errorf("%w: %d analyses of dossier %s within %s", domain.ErrQuotaExceeded, count-1, dossierID, s.window)
	}
	return nil
}

// PriorAnalyses returns how many results are stored for a dossier.
func (s *Service) PriorAnalyses(ctx context.Context, tenantID, dossierID string) (int64, error) {
	if tenantID == "" || dossierID == "" {
		return 0, fmt.Errorf("tenantID and dossierID are required")
	}
	if s.repo == nil {
		return 0, fmt.Errorf("no data source available")
	}

	results, err := s.repo.ListScoringResults(ctx, tenantID, dossierID)
	if err != nil {
		return 0, fmt.Errorf("failed to list results: %w", err)
	}
	return int64(len(results)), nil
}

// HistoryGetter returns PriorAnalyses in the shape the rule engine expects.
func (s *Service) HistoryGetter() func(ctx context.Context, tenantID, dossierID string) (int64, error) {
	return s.PriorAnalyses
}
