package scorer

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/decision"
	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/domain"
)

// StubModel is reported as the model name of stub answers.
const StubModel = "stub"

// StubScorer answers without any network call. With Response set it
// returns a copy of it; otherwise it derives an answer agreeing with the
// threshold table from the facts of the prompt. Err, when set, is
// returned instead.
type StubScorer struct {
	Response *domain.NarrativeScore
	Err      error

	mu      sync.Mutex
	calls   int
	prompts []string
}

// NewStubScorer creates a stub that derives its answers from the prompt.
func NewStubScorer() *StubScorer {
	return &StubScorer{}
}

// Score implements domain.NarrativeScorer.
func (s *StubScorer) Score(ctx context.Context, prompt string) (*domain.NarrativeScore, error) {
	s.mu.Lock()
	s.calls++
	s.prompts = append(s.prompts, prompt)
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}
	if s.Response != nil {
		out := *s.Response
		out.PositiveFactors = append([]string(nil), s.Response.PositiveFactors...)
		out.NegativeFactors = append([]string(nil), s.Response.NegativeFactors...)
		if out.Model == "" {
			out.Model = StubModel
		}
		return &out, nil
	}

	facts, err := ParseFacts(prompt)
	if err != nil {
		return nil, err
	}
	return derive(facts), nil
}

// Calls returns how many times Score was called.
func (s *StubScorer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// LastPrompt returns the most recent prompt, or "".
func (s *StubScorer) LastPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.prompts) == 0 {
		return ""
	}
	return s.prompts[len(s.prompts)-1]
}

// derive scores within the deterministic class band: the midpoint,
// nudged by at most 5 points by how far the debt service ratio sits from
// its limit. Every band is wider than 10 points.
func derive(f *Facts) *domain.NarrativeScore {
	class := f.Deterministic.RiskClass
	score := decision.BandMidpoint(class)

	if f.Thresholds.MaxDebtServiceRatio > 0 && f.Ratios.RepaymentCapacity > 0 {
		headroom := 1 - f.Ratios.DebtServiceRatio/f.Thresholds.MaxDebtServiceRatio
		score += math.Max(-1, math.Min(1, headroom)) * 5
	}

	c := decision.NewClassifier(f.Thresholds)
	signals := domain.Signals{
		CurrentArrears:         f.History.CurrentArrears,
		MaxHistoricalDelayDays: f.History.MaxHistoricalDelayDays,
		RegularizationRate:     f.History.RegularizationRate,
	}
	positive, negative := c.Factors(f.Ratios, signals)

	return &domain.NarrativeScore{
		Score:           math.Round(score*100) / 100,
		RiskClass:       class,
		Recommendation:  f.Deterministic.Recommendation,
		Narrative:       fmt.Sprintf("Analyse automatique : classe %s, %s. %s.", class, f.Deterministic.Recommendation, f.Deterministic.Reason),
		PositiveFactors: positive,
		NegativeFactors: negative,
		Model:           StubModel,
	}
}
