package decision

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/domain"
)

// EngineVersion is recorded on every result.
const EngineVersion = "dossier-1.0"

// Flags raised on a result during reconciliation.
const (
	FlagDeterministicFloor         = "deterministic_floor"
	FlagRiskClassDisagreement      = "risk_class_disagreement"
	FlagRecommendationDisagreement = "recommendation_disagreement"
	FlagScoreClamped               = "score_clamped"
	FlagScoreClassMismatch         = "score_class_mismatch"
	FlagModelClassDerived          = "model_class_derived"
	FlagModelRecommendationInvalid = "model_recommendation_invalid"
	FlagRuleFailed                 = "rule_failed"
	FlagDeterministicOnly          = "deterministic_only"
)

// Score bands of the risk classes on the 0..100 scale.
const (
	bandA = 75.0
	bandB = 55.0
	bandC = 35.0

	// maxScoreD is the highest score kept when class D is enforced.
	maxScoreD = 34.0
)

// ClassForScore maps a global score to its risk class band.
func ClassForScore(score float64) domain.RiskClass {
	switch {
	case score >= bandA:
		return domain.RiskClassA
	case score >= bandB:
		return domain.RiskClassB
	case score >= bandC:
		return domain.RiskClassC
	}
	return domain.RiskClassD
}

// BandMidpoint returns the middle score of a class band.
func BandMidpoint(c domain.RiskClass) float64 {
	switch c {
	case domain.RiskClassA:
		return (bandA + 100) / 2
	case domain.RiskClassB:
		return (bandB + bandA) / 2
	case domain.RiskClassC:
		return (bandC + bandB) / 2
	}
	return bandC / 2
}

// Processor reconciles the deterministic classification, the eligibility
// rule results and the narrative score into a ScoringResult.
type Processor struct {
	// Use rule weights when aggregating the rule score
	UseWeightedScoring bool
}

// NewProcessor creates a processor with default settings.
func NewProcessor() *Processor {
	return &Processor{
		UseWeightedScoring: true,
	}
}

// DecisionInput contains all data needed for a decision.
type DecisionInput struct {
	TenantID  string
	DossierID string
	TraceID   string

	Ratios          domain.RatioSet
	Classification  domain.Classification
	PositiveFactors []string
	NegativeFactors []string
	RuleResults     []domain.RuleResult

	// Narrative is nil when the analysis ran without the external scorer.
	Narrative *domain.NarrativeScore

	RatiosMs  int64
	ScorerMs  int64
	StartTime time.Time
}

// Process produces the final result. The deterministic class D is a hard
// floor: it always yields D / REFUS whatever the narrative says. Any other
// difference between the narrative and the table is kept as the model
// answered and flagged.
func (p *Processor) Process(ctx context.Context, input *DecisionInput) *domain.ScoringResult {
	start := time.Now()
	det := input.Classification

	result := &domain.ScoringResult{
		ID:            uuid.New().String(),
		TenantID:      input.TenantID,
		DossierID:     input.DossierID,
		CreatedAt:     time.Now().UTC(),
		Ratios:        input.Ratios,
		Deterministic: det,
		RuleResults:   input.RuleResults,
	}

	nar := input.Narrative
	if nar == nil {
		nar = &domain.NarrativeScore{
			Score:          BandMidpoint(det.RiskClass),
			RiskClass:      det.RiskClass,
			Recommendation: det.Recommendation,
			Narrative:      det.Reason,
		}
		result.Flags = append(result.Flags, FlagDeterministicOnly)
	}

	// Model class: as answered, or derived from the score band.
	modelClass := nar.RiskClass
	if !modelClass.IsValid() {
		modelClass = ""
	}

	score := nar.Score
	switch {
	case math.IsNaN(score) || math.IsInf(score, 0):
		fallback := modelClass
		if fallback == "" {
			fallback = det.RiskClass
		}
		score = BandMidpoint(fallback)
		result.Flags = append(result.Flags, FlagScoreClamped)
	case score < 0:
		score = 0
		result.Flags = append(result.Flags, FlagScoreClamped)
	case score > 100:
		score = 100
		result.Flags = append(result.Flags, FlagScoreClamped)
	}

	if modelClass == "" {
		modelClass = ClassForScore(score)
		result.Flags = append(result.Flags, FlagModelClassDerived)
	} else if ClassForScore(score) != modelClass {
		result.Flags = append(result.Flags, FlagScoreClassMismatch)
	}

	modelRec := nar.Recommendation
	if !modelRec.IsValid() {
		modelRec = det.Recommendation
		result.Flags = append(result.Flags, FlagModelRecommendationInvalid)
	}

	result.ModelScore = nar.Score
	if math.IsNaN(result.ModelScore) || math.IsInf(result.ModelScore, 0) {
		result.ModelScore = score
	}
	result.ModelRiskClass = modelClass
	result.ModelRecommendation = modelRec

	if det.RiskClass == domain.RiskClassD {
		result.RiskClass = domain.RiskClassD
		result.Recommendation = domain.RecommendationRefus
		if score > maxScoreD {
			score = maxScoreD
		}
		if modelClass != domain.RiskClassD || modelRec != domain.RecommendationRefus {
			result.Disagreement = true
			result.Flags = append(result.Flags, FlagDeterministicFloor)
		}
	} else {
		result.RiskClass = modelClass
		result.Recommendation = modelRec
		if modelClass != det.RiskClass {
			result.Disagreement = true
			result.Flags = append(result.Flags, FlagRiskClassDisagreement)
		}
		if modelRec != det.Recommendation {
			result.Disagreement = true
			result.Flags = append(result.Flags, FlagRecommendationDisagreement)
		}
	}
	result.GlobalScore = math.Round(score*100) / 100

	result.Narrative = nar.Narrative
	result.PositiveFactors = merge(nar.PositiveFactors, input.PositiveFactors)
	result.NegativeFactors = merge(nar.NegativeFactors, input.NegativeFactors)

	agg := p.aggregate(input.RuleResults)
	if agg.HasCriticalFailure {
		result.Flags = append(result.Flags, FlagRuleFailed)
	}
	result.NegativeFactors = merge(result.NegativeFactors, GetReasons(input.RuleResults))

	if result.PositiveFactors == nil {
		result.PositiveFactors = []string{}
	}
	if result.NegativeFactors == nil {
		result.NegativeFactors = []string{}
	}

	decisionMs := time.Since(start).Milliseconds()
	totalMs := time.Since(input.StartTime).Milliseconds()

	result.Metadata = domain.ScoringMetadata{
		TraceID:        input.TraceID,
		Model:          nar.Model,
		RuleScore:      agg.AggregateScore,
		RulesEvaluated: len(input.RuleResults),
		RatiosMs:       input.RatiosMs,
		ScorerMs:       input.ScorerMs,
		DecisionMs:     decisionMs,
		TotalMs:        totalMs,
		EngineVersion:  EngineVersion,
	}

	return result
}

// AggregateResult holds the aggregated rule scores.
type AggregateResult struct {
	AggregateScore     float64
	TotalWeight        float64
	RulesTriggered     int
	HasCriticalFailure bool
}

// aggregate computes the weighted aggregate score from rule results.
func (p *Processor) aggregate(results []domain.RuleResult) *AggregateResult {
	agg := &AggregateResult{}

	for _, r := range results {
		weight := r.Weight
		if weight <= 0 {
			weight = 1.0
		}

		switch r.Outcome {
		case domain.RuleOutcomeFail:
			agg.HasCriticalFailure = true
			agg.RulesTriggered++
		case domain.RuleOutcomeReview:
			agg.RulesTriggered++
		}

		if p.UseWeightedScoring {
			agg.AggregateScore += r.Score * weight
			agg.TotalWeight += weight
		} else {
			agg.AggregateScore += r.Score
			agg.TotalWeight += 1.0
		}
	}

	if agg.TotalWeight > 0 {
		agg.AggregateScore = agg.AggregateScore / agg.TotalWeight
	}

	return agg
}

// GetReasons extracts the reasons of failed or review rule outcomes.
func GetReasons(results []domain.RuleResult) []string {
	var reasons []string
	for _, r := range results {
		if r.Outcome == domain.RuleOutcomeFail || r.Outcome == domain.RuleOutcomeReview {
			if r.Reason != "" {
				reasons = append(reasons, r.Reason)
			}
		}
	}
	return reasons
}

// merge appends the entries of extra missing from base, keeping order.
func merge(base, extra []string) []string {
	seen := make(map[string]struct{}, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, list := range [][]string{base, extra} {
		for _, s := range list {
			if s == "" {
				continue
			}
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
