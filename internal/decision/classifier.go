// Package decision classifies a credit application from its ratios and
// reconciles the deterministic outcome with the narrative score.
package decision

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/domain"
)

// Policy keys accepted as threshold overrides.
const (
	KeyMaxHistoricalDelayDays = "maxHistoricalDelayDays"
	KeyMaxDebtServiceRatio    = "maxDebtServiceRatio"
	KeyMaxExposureRatio       = "maxExposureRatio"
	KeyMinGuaranteeCoverage   = "minGuaranteeCoverage"
	KeyMinRegularizationRate  = "minRegularizationRate"
)

// Thresholds parameterise the classification table.
type Thresholds struct {
	MaxHistoricalDelayDays float64 `json:"maxHistoricalDelayDays"`
	MaxDebtServiceRatio    float64 `json:"maxDebtServiceRatio"`
	MaxExposureRatio       float64 `json:"maxExposureRatio"`
	MinGuaranteeCoverage   float64 `json:"minGuaranteeCoverage"`
	MinRegularizationRate  float64 `json:"minRegularizationRate"`
}

// DefaultThresholds returns the standard table: 90 days, 65%, 0.5, 50%, 0.8.
func DefaultThresholds() Thresholds {
	return FromPolicy(domain.DefaultPolicy())
}

// FromPolicy converts the configured policy into thresholds.
func FromPolicy(p domain.PolicyConfig) Thresholds {
	return Thresholds{
		MaxHistoricalDelayDays: p.MaxHistoricalDelayDays,
		MaxDebtServiceRatio:    p.MaxDebtServiceRatio,
		MaxExposureRatio:       p.MaxExposureRatio,
		MinGuaranteeCoverage:   p.MinGuaranteeCoverage,
		MinRegularizationRate:  p.MinRegularizationRate,
	}
}

// WithOverrides returns a copy of t with the known keys of policy applied.
// Unknown keys are ignored. A known key with a negative, non-finite or
// non-numeric value is rejected.
func (t Thresholds) WithOverrides(policy map[string]any) (Thresholds, error) {
	out := t
	targets := map[string]*float64{
		KeyMaxHistoricalDelayDays: &out.MaxHistoricalDelayDays,
		KeyMaxDebtServiceRatio:    &out.MaxDebtServiceRatio,
		KeyMaxExposureRatio:       &out.MaxExposureRatio,
		KeyMinGuaranteeCoverage:   &out.MinGuaranteeCoverage,
		KeyMinRegularizationRate:  &out.MinRegularizationRate,
	}

	for key, raw := range policy {
		dst, ok := targets[key]
		if !ok {
			continue
		}
		v, err := toFloat(raw)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return Thresholds{}, &domain.InvalidInputError{Field: "policy." + key, Reason: "must be a non-negative number"}
		}
		*dst = v
	}

	if out.MinRegularizationRate > 1 {
		return Thresholds{}, &domain.InvalidInputError{Field: "policy." + KeyMinRegularizationRate, Reason: "must be within [0,1]"}
	}
	return out, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		return strconv.ParseFloat(n, 64)
	}
	return 0, fmt.Errorf("unsupported type %T", v)
}

// Classifier applies the threshold table. It holds no mutable state.
type Classifier struct {
	Thresholds Thresholds
}

// NewClassifier creates a classifier with the given thresholds.
func NewClassifier(t Thresholds) *Classifier {
	return &Classifier{Thresholds: t}
}

// Classify maps ratios and signals to a risk class and a suggested
// recommendation. Rows are tested in order and the first match wins:
//
//  1. arrears > 0 or max delay > MaxHistoricalDelayDays  → D / REFUS
//  2. DSR > MaxDebtServiceRatio or exposure > MaxExposureRatio → C / AJOURNEMENT
//  3. coverage < MinGuaranteeCoverage or regularization < MinRegularizationRate → B / ACCORD_SOUS_CONDITIONS
//  4. otherwise → A / ACCORD
func (c *Classifier) Classify(r domain.RatioSet, s domain.Signals) domain.Classification {
	t := c.Thresholds

	switch {
	case s.CurrentArrears > 0:
		return domain.Classification{
			RiskClass:      domain.RiskClassD,
			Recommendation: domain.RecommendationRefus,
			Rule:           1,
			Reason:         fmt.Sprintf("impayés en cours: %.0f", s.CurrentArrears),
		}
	case float64(s.MaxHistoricalDelayDays) > t.MaxHistoricalDelayDays:
		return domain.Classification{
			RiskClass:      domain.RiskClassD,
			Recommendation: domain.RecommendationRefus,
			Rule:           1,
			Reason:         fmt.Sprintf("retard historique de %d jours au-delà de %.0f jours", s.MaxHistoricalDelayDays, t.MaxHistoricalDelayDays),
		}
	case r.DebtServiceRatio > t.MaxDebtServiceRatio:
		return domain.Classification{
			RiskClass:      domain.RiskClassC,
			Recommendation: domain.RecommendationAjournement,
			Rule:           2,
			Reason:         fmt.Sprintf("taux d'endettement de %.2f%% au-delà de %.2f%%", r.DebtServiceRatio, t.MaxDebtServiceRatio),
		}
	case r.ExposureRatio > t.MaxExposureRatio:
		return domain.Classification{
			RiskClass:      domain.RiskClassC,
			Recommendation: domain.RecommendationAjournement,
			Rule:           2,
			Reason:         fmt.Sprintf("exposition de %.2f au-delà de %.2f", r.ExposureRatio, t.MaxExposureRatio),
		}
	case r.GuaranteeCoverage < t.MinGuaranteeCoverage:
		return domain.Classification{
			RiskClass:      domain.RiskClassB,
			Recommendation: domain.RecommendationAccordSousConditions,
			Rule:           3,
			Reason:         fmt.Sprintf("couverture des garanties de %.2f%% sous %.2f%%", r.GuaranteeCoverage, t.MinGuaranteeCoverage),
		}
	case s.RegularizationRate < t.MinRegularizationRate:
		return domain.Classification{
			RiskClass:      domain.RiskClassB,
			Recommendation: domain.RecommendationAccordSousConditions,
			Rule:           3,
			Reason:         fmt.Sprintf("taux de régularisation de %.2f sous %.2f", s.RegularizationRate, t.MinRegularizationRate),
		}
	}

	return domain.Classification{
		RiskClass:      domain.RiskClassA,
		Recommendation: domain.RecommendationAccord,
		Rule:           4,
		Reason:         "tous les seuils sont respectés",
	}
}

// Factors lists the deterministic positive and negative factors of an
// application, in a fixed order.
func (c *Classifier) Factors(r domain.RatioSet, s domain.Signals) (positive, negative []string) {
	t := c.Thresholds

	if r.RepaymentCapacity <= 0 {
		negative = append(negative, "capacité de remboursement nulle ou négative")
	} else if r.DebtServiceRatio <= t.MaxDebtServiceRatio {
		positive = append(positive, fmt.Sprintf("taux d'endettement maîtrisé (%.2f%%)", r.DebtServiceRatio))
	} else {
		negative = append(negative, fmt.Sprintf("taux d'endettement élevé (%.2f%%)", r.DebtServiceRatio))
	}

	if r.GuaranteeCoverage >= t.MinGuaranteeCoverage {
		positive = append(positive, fmt.Sprintf("garanties suffisantes (%.2f%% du montant)", r.GuaranteeCoverage))
	} else {
		negative = append(negative, fmt.Sprintf("garanties insuffisantes (%.2f%% du montant)", r.GuaranteeCoverage))
	}

	if r.ExposureRatio <= t.MaxExposureRatio {
		positive = append(positive, fmt.Sprintf("exposition modérée (%.2f)", r.ExposureRatio))
	} else {
		negative = append(negative, fmt.Sprintf("exposition élevée (%.2f)", r.ExposureRatio))
	}

	if s.CurrentArrears > 0 {
		negative = append(negative, fmt.Sprintf("impayés en cours (%.0f)", s.CurrentArrears))
	}
	if float64(s.MaxHistoricalDelayDays) > t.MaxHistoricalDelayDays {
		negative = append(negative, fmt.Sprintf("retard historique sévère (%d jours)", s.MaxHistoricalDelayDays))
	}

	if s.RegularizationRate >= t.MinRegularizationRate {
		positive = append(positive, fmt.Sprintf("bon historique de régularisation (%.0f%%)", s.RegularizationRate*100))
	} else {
		negative = append(negative, fmt.Sprintf("régularisation insuffisante (%.0f%%)", s.RegularizationRate*100))
	}

	return positive, negative
}
