package domain

// RuleOutcome is the verdict of one eligibility rule.
type RuleOutcome string

const (
	RuleOutcomePass   RuleOutcome = "pass"
	RuleOutcomeReview RuleOutcome = "review"
	RuleOutcomeFail   RuleOutcome = "fail"
	RuleOutcomeError  RuleOutcome = "error"
)

// RuleConfig is an eligibility rule: a CEL expression over the ratio set
// and the request figures, whose value is mapped to an outcome by bands.
type RuleConfig struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenantId"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Version     string     `json:"version"`
	Expression  string     `json:"expression"`
	Bands       []RuleBand `json:"bands"`
	Weight      float64    `json:"weight"`
	Enabled     bool       `json:"enabled"`
}

// RuleBand maps the half-open score range [Min, Max) to an outcome.
// A nil Min is 0; a nil Max is unbounded.
type RuleBand struct {
	Min     *float64    `json:"min,omitempty"`
	Max     *float64    `json:"max,omitempty"`
	Outcome RuleOutcome `json:"outcome"`
	Reason  string      `json:"reason"`
}

// Contains reports whether score falls inside the band.
func (b RuleBand) Contains(score float64) bool {
	lower := 0.0
	if b.Min != nil {
		lower = *b.Min
	}
	if score < lower {
		return false
	}
	return b.Max == nil || score < *b.Max
}

// RuleResult is what one rule said about one request.
type RuleResult struct {
	RuleID     string      `json:"ruleId"`
	Outcome    RuleOutcome `json:"outcome"`
	Score      float64     `json:"score"`
	Reason     string      `json:"reason"`
	Weight     float64     `json:"weight"`
	DurationMs int64       `json:"durationMs"`
}
