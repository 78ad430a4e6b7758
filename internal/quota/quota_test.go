package quota

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/cache"
	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/domain"
	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/repository"
)

func TestCheck(t *testing.T) {
	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("WithinLimit", func(t *testing.T) {
		svc := NewService(nil, cache.NewMemory(100), domain.QuotaConfig{MaxAnalyses: 3, WindowSecs: 60})
		for i := 0; i < 3; i++ {
			if err := svc.Check(ctx, tenantID, "dossier-001"); err != nil {
				t.Fatalf("analysis %d: unexpected error: %v", i+1, err)
			}
		}

		err := svc.Check(ctx, tenantID, "dossier-001")
		if !errors.Is(err, domain.ErrQuotaExceeded) {
			t.Errorf("expected ErrQuotaExceeded, got %v", err)
		}

		// Other dossiers and tenants keep their own counters.
		if err := svc.Check(ctx, tenantID, "dossier-002"); err != nil {
			t.Errorf("unexpected error for another dossier: %v", err)
		}
		if err := svc.Check(ctx, "tenant-002", "dossier-001"); err != nil {
			t.Errorf("unexpected error for another tenant: %v", err)
		}
	})

	t.Run("WindowReset", func(t *testing.T) {
		c := cache.NewMemory(100)
		svc := NewService(nil, c, domain.QuotaConfig{MaxAnalyses: 1, WindowSecs: 1})
		svc.window = 50 * time.Millisecond

		_ = svc.Check(ctx, tenantID, "dossier-001")
		if err := svc.Check(ctx, tenantID, "dossier-001"); !errors.Is(err, domain.ErrQuotaExceeded) {
			t.Fatalf("expected ErrQuotaExceeded, got %v", err)
		}

		time.Sleep(80 * time.Millisecond)
		if err := svc.Check(ctx, tenantID, "dossier-001"); err != nil {
			t.Errorf("expected quota reset after window, got %v", err)
		}
	})

	t.Run("Disabled", func(t *testing.T) {
		svc := NewService(nil, cache.NewMemory(100), domain.QuotaConfig{})
		for i := 0; i < 50; i++ {
			if err := svc.Check(ctx, tenantID, "dossier-001"); err != nil {
				t.Fatalf("unexpected error with quota disabled: %v", err)
			}
		}
	})

	t.Run("StatelessAnalysesUncounted", func(t *testing.T) {
		svc := NewService(nil, cache.NewMemory(100), domain.QuotaConfig{MaxAnalyses: 1, WindowSecs: 60})
		for i := 0; i < 3; i++ {
			if err := svc.Check(ctx, tenantID, ""); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}
	})
}

func TestPriorAnalyses(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "quota-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	svc := NewService(repo, cache.NewMemory(100), domain.QuotaConfig{})
	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("NoResults", func(t *testing.T) {
		count, err := svc.PriorAnalyses(ctx, tenantID, "dossier-001")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != 0 {
			t.Errorf("expected count 0, got %d", count)
		}
	})

	t.Run("WithResults", func(t *testing.T) {
		for i := 0; i < 4; i++ {
			r := &domain.ScoringResult{
				ID:             fmt.Sprintf("result-%d", i),
				DossierID:      "dossier-001",
				CreatedAt:      time.Now().UTC(),
				RiskClass:      domain.RiskClassB,
				Recommendation: domain.RecommendationAccordSousConditions,
			}
			if err := repo.SaveScoringResult(ctx, tenantID, r); err != nil {
				t.Fatalf("failed to save result: %v", err)
			}
		}

		getter := svc.HistoryGetter()
		count, err := getter(ctx, tenantID, "dossier-001")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != 4 {
			t.Errorf("expected count 4, got %d", count)
		}

		count, _ = getter(ctx, "tenant-002", "dossier-001")
		if count != 0 {
			t.Errorf("expected tenant isolation, got %d", count)
		}
	})

	t.Run("RequiresIDs", func(t *testing.T) {
		if _, err := svc.PriorAnalyses(ctx, "", "dossier-001"); err == nil {
			t.Error("expected error for empty tenantID")
		}
		if _, err := svc.PriorAnalyses(ctx, tenantID, ""); err == nil {
			t.Error("expected error for empty dossierID")
		}
	})
}
