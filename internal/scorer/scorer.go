package scorer

import (
	"fmt"
	"net/http"

	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/domain"
)

// New creates the narrative scorer selected by cfg.Provider.
func New(cfg domain.ScorerConfig) (domain.NarrativeScorer, error) {
	switch cfg.Provider {
	case "", "stub":
		return NewStubScorer(), nil
	case "http", "openai":
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("scorer endpoint is required for provider %q", cfg.Provider)
		}
		return NewHTTPScorer(cfg.Endpoint, cfg.APIKey, cfg.Model, &http.Client{}), nil
	default:
		return nil, fmt.Errorf("unsupported scorer provider: %s", cfg.Provider)
	}
}
