package domain

import (
	"context"
	"time"
)

// RatioSet holds the financial ratios derived from an analysis request.
// A ratio is 0 when its denominator is <= 0; check RepaymentCapacity,
// MonthlyIncome or the principal before reading 0 as healthy.
type RatioSet struct {
	RepaymentCapacity float64 `json:"repaymentCapacity"`
	DebtServiceRatio  float64 `json:"debtServiceRatio"`  // percent of capacity
	GuaranteeCoverage float64 `json:"guaranteeCoverage"` // percent of principal
	ExposureRatio     float64 `json:"exposureRatio"`     // outstanding / annual income

	MonthlyPayment   float64 `json:"monthlyPayment"`
	TotalGuarantees  float64 `json:"totalGuarantees"`
	TotalOutstanding float64 `json:"totalOutstanding"`
}

// Signals are the repayment-behaviour inputs of the classifier.
type Signals struct {
	CurrentArrears         float64 `json:"currentArrears"`
	MaxHistoricalDelayDays int     `json:"maxHistoricalDelayDays"`
	RegularizationRate     float64 `json:"regularizationRate"`
}

// RiskClass is the ordinal risk rating, A safest.
type RiskClass string

const (
	RiskClassA RiskClass = "A"
	RiskClassB RiskClass = "B"
	RiskClassC RiskClass = "C"
	RiskClassD RiskClass = "D"
)

// Severity orders classes A=1 < B < C < D=4. Unknown classes are 0.
func (c RiskClass) Severity() int {
	switch c {
	case RiskClassA:
		return 1
	case RiskClassB:
		return 2
	case RiskClassC:
		return 3
	case RiskClassD:
		return 4
	}
	return 0
}

// IsValid reports whether c is A, B, C or D.
func (c RiskClass) IsValid() bool {
	return c.Severity() > 0
}

// Worse returns the more severe of a and b.
func Worse(a, b RiskClass) RiskClass {
	if b.Severity() > a.Severity() {
		return b
	}
	return a
}

// Recommendation is the credit decision suggested for a dossier.
type Recommendation string

const (
	RecommendationAccord               Recommendation = "ACCORD"
	RecommendationAccordSousConditions Recommendation = "ACCORD_SOUS_CONDITIONS"
	RecommendationAjournement          Recommendation = "AJOURNEMENT"
	RecommendationRefus                Recommendation = "REFUS"
)

// IsValid reports whether r is one of the four recommendations.
func (r Recommendation) IsValid() bool {
	switch r {
	case RecommendationAccord, RecommendationAccordSousConditions, RecommendationAjournement, RecommendationRefus:
		return true
	}
	return false
}

// Classification is the deterministic outcome of the threshold table.
type Classification struct {
	RiskClass      RiskClass      `json:"riskClass"`
	Recommendation Recommendation `json:"recommendation"`
	Rule           int            `json:"rule"` // 1..4, first matching row
	Reason         string         `json:"reason"`
}

// NarrativeScore is what the external scoring model returns.
// RiskClass and Recommendation may be empty when the model omits them.
type NarrativeScore struct {
	Score           float64        `json:"score"`
	RiskClass       RiskClass      `json:"riskClass,omitempty"`
	Recommendation  Recommendation `json:"recommendation,omitempty"`
	Narrative       string         `json:"narrative"`
	PositiveFactors []string       `json:"positiveFactors,omitempty"`
	NegativeFactors []string       `json:"negativeFactors,omitempty"`
	Model           string         `json:"model,omitempty"`
}

// NarrativeScorer produces a narrative score from a textual prompt.
// Implementations make at most one upstream call and honour ctx.
type NarrativeScorer interface {
	Score(ctx context.Context, prompt string) (*NarrativeScore, error)
}

// ScoringResult is the outcome of one analysis. It is never updated;
// a re-analysis produces a new record.
type ScoringResult struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	DossierID string    `json:"dossierId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`

	GlobalScore     float64        `json:"globalScore"`
	RiskClass       RiskClass      `json:"riskClass"`
	Recommendation  Recommendation `json:"recommendation"`
	Narrative       string         `json:"narrative"`
	PositiveFactors []string       `json:"positiveFactors"`
	NegativeFactors []string       `json:"negativeFactors"`

	Ratios        RatioSet       `json:"ratios"`
	Deterministic Classification `json:"deterministic"`

	// Model* keep what the external scorer said before reconciliation.
	ModelScore          float64        `json:"modelScore"`
	ModelRiskClass      RiskClass      `json:"modelRiskClass,omitempty"`
	ModelRecommendation Recommendation `json:"modelRecommendation,omitempty"`

	Disagreement bool     `json:"disagreement"`
	Flags        []string `json:"flags,omitempty"`

	RuleResults []RuleResult    `json:"ruleResults,omitempty"`
	Metadata    ScoringMetadata `json:"metadata"`
}

// ScoringMetadata contains processing information.
type ScoringMetadata struct {
	TraceID        string  `json:"traceId"`
	Model          string  `json:"model,omitempty"`
	RuleScore      float64 `json:"ruleScore"`
	RulesEvaluated int     `json:"rulesEvaluated"`
	RatiosMs       int64   `json:"ratiosMs"`
	ScorerMs       int64   `json:"scorerMs"`
	DecisionMs     int64   `json:"decisionMs"`
	TotalMs        int64   `json:"totalMs"`
	EngineVersion  string  `json:"engineVersion"`
}

// ScoringResponse is the API view of a ScoringResult.
type ScoringResponse struct {
	ResultID        string          `json:"resultId"`
	DossierID       string          `json:"dossierId,omitempty"`
	GlobalScore     float64         `json:"globalScore"`
	RiskClass       RiskClass       `json:"riskClass"`
	Recommendation  Recommendation  `json:"recommendation"`
	Narrative       string          `json:"narrative"`
	PositiveFactors []string        `json:"positiveFactors"`
	NegativeFactors []string        `json:"negativeFactors"`
	Ratios          RatioSet        `json:"ratios"`
	Deterministic   Classification  `json:"deterministic"`
	Disagreement    bool            `json:"disagreement"`
	Flags           []string        `json:"flags,omitempty"`
	Metadata        ScoringMetadata `json:"metadata"`
}

// ToResponse converts a ScoringResult to its API response.
func (r *ScoringResult) ToResponse() *ScoringResponse {
	return &ScoringResponse{
		ResultID:        r.ID,
		DossierID:       r.DossierID,
		GlobalScore:     r.GlobalScore,
		RiskClass:       r.RiskClass,
		Recommendation:  r.Recommendation,
		Narrative:       r.Narrative,
		PositiveFactors: r.PositiveFactors,
		NegativeFactors: r.NegativeFactors,
		Ratios:          r.Ratios,
		Deterministic:   r.Deterministic,
		Disagreement:    r.Disagreement,
		Flags:           r.Flags,
		Metadata:        r.Metadata,
	}
}
