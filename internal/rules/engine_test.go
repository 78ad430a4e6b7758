package rules

import (
	"context"
	"fmt"
	"testing"

	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/domain"
)

func sampleInput() *Input {
	savings := 150000.0
	return &Input{
		TenantID:  "tenant-001",
		DossierID: "dossier-001",
		Request: domain.AnalysisRequest{
			Client: domain.ClientProfile{
				MonthlyIncome:  500000,
				MonthlyCharges: 200000,
				EmploymentType: domain.EmploymentSelfEmployed,
				TenureMonths:   24,
				Savings:        &savings,
			},
			Credit:     domain.CreditRequest{Principal: 1000000, TermMonths: 12, DeferralMonths: 2, AnnualRate: 18},
			Guarantees: []domain.Guarantee{{Kind: domain.GuaranteeVehicle, EstimatedValue: 600000}},
			History:    domain.CreditHistory{RegularizationRate: 0.9, ActiveCreditsCount: 1},
		},
		Ratios: domain.RatioSet{RepaymentCapacity: 300000, DebtServiceRatio: 50, GuaranteeCoverage: 60, MonthlyPayment: 150000},
	}
}

func TestEngineCreation(t *testing.T) {
	engine, err := NewEngine(nil, 5)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	defer engine.Close()

	if engine.Count() != 0 {
		t.Errorf("expected 0 rules, got %d", engine.Count())
	}
}

func TestLoadRule(t *testing.T) {
	engine, _ := NewEngine(nil, 5)
	defer engine.Close()

	rule := &domain.RuleConfig{
		ID:         "test-rule-001",
		Name:       "Test Rule",
		Expression: "debt_service_ratio > 40.0",
		Weight:     1.0,
		Enabled:    true,
	}

	if err := engine.Load(rule); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}
	if engine.Count() != 1 {
		t.Errorf("expected 1 rule, got %d", engine.Count())
	}
}

func TestLoadInvalidRule(t *testing.T) {
	engine, _ := NewEngine(nil, 5)
	defer engine.Close()

	tests := []struct {
		name       string
		expression string
	}{
		{"Syntax", "this is not valid CEL !!!"},
		{"UnknownVariable", "amount > 100.0"},
		{"StringOutput", "employment_type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := engine.Load(&domain.RuleConfig{ID: "invalid", Expression: tt.expression, Enabled: true})
			if err == nil {
				t.Error("expected error")
			}
		})
	}

	if engine.Validate(nil) == nil {
		t.Error("expected error for nil rule")
	}
}

func TestEvaluateBands(t *testing.T) {
	engine, _ := NewEngine(nil, 5)
	defer engine.Close()

	zero, one := 0.0, 1.0
	rule := &domain.RuleConfig{
		ID:         "dsr-check",
		Expression: "debt_service_ratio > 45.0 ? 1.0 : 0.0",
		Bands: []domain.RuleBand{
			{Min: &zero, Max: &one, Outcome: domain.RuleOutcomePass, Reason: "endettement faible"},
			{Min: &one, Outcome: domain.RuleOutcomeFail, Reason: "endettement élevé"},
		},
		Weight:  1.0,
		Enabled: true,
	}
	engine.Load(rule)

	ctx := context.Background()
	input := sampleInput()

	results, err := engine.Evaluate(ctx, input)
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Outcome != domain.RuleOutcomeFail || results[0].Reason != "endettement élevé" {
		t.Errorf("expected FAIL, got %s (%s)", results[0].Outcome, results[0].Reason)
	}

	input.Ratios.DebtServiceRatio = 30
	results, _ = engine.Evaluate(ctx, input)
	if results[0].Score != 0 || results[0].Outcome != domain.RuleOutcomePass {
		t.Errorf("expected PASS, got %s score %.2f", results[0].Outcome, results[0].Score)
	}
}

func TestEvaluateRequestVariables(t *testing.T) {
	engine, _ := NewEngine(nil, 5)
	defer engine.Close()

	exprs := map[string]string{
		"employment": `employment_type == "self-employed"`,
		"map-access": `request.employment_type == "self-employed"`,
		"guarantees": `guarantee_count == 1`,
		"savings":    `has_savings && savings >= principal * 0.1`,
		"deferral":   `deferral_months == 2 && term_months == 12`,
		"capacity":   `repayment_capacity - monthly_payment > 0.0`,
	}
	for id, expr := range exprs {
		if err := engine.Load(&domain.RuleConfig{ID: id, Expression: expr, Enabled: true}); err != nil {
			t.Fatalf("rule %s: %v", id, err)
		}
	}

	results, err := engine.Evaluate(context.Background(), sampleInput())
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	for _, r := range results {
		if r.Score != 1.0 {
			t.Errorf("rule %s: expected true, got %.2f (%s)", r.RuleID, r.Score, r.Reason)
		}
	}
}

func TestHistoryGetter(t *testing.T) {
	var gotDossier string
	getter := func(ctx context.Context, tenantID, dossierID string) (int64, error) {
		gotDossier = dossierID
		return 7, nil
	}

	engine, _ := NewEngine(getter, 5)
	defer engine.Close()

	engine.Load(&domain.RuleConfig{ID: "reanalysis", Expression: "prior_analyses >= 5", Enabled: true})

	results, _ := engine.Evaluate(context.Background(), sampleInput())
	if gotDossier != "dossier-001" {
		t.Errorf("expected getter called with dossier-001, got %q", gotDossier)
	}
	if results[0].Score != 1.0 {
		t.Errorf("expected score 1.0, got %.2f", results[0].Score)
	}

	// Stateless analyses have no dossier and no history.
	input := sampleInput()
	input.DossierID = ""
	results, _ = engine.Evaluate(context.Background(), input)
	if results[0].Score != 0.0 {
		t.Errorf("expected score 0.0 without dossier, got %.2f", results[0].Score)
	}
}

func TestResultsSortedByRuleID(t *testing.T) {
	engine, _ := NewEngine(nil, 3)
	defer engine.Close()

	for _, i := range []int{7, 2, 9, 0, 5, 3, 8, 1, 6, 4} {
		engine.Load(&domain.RuleConfig{
			ID:         fmt.Sprintf("rule-%d", i),
			Expression: "principal > 0.0",
			Weight:     1.0,
			Enabled:    true,
		})
	}

	results, err := engine.Evaluate(context.Background(), sampleInput())
	if err != nil {
		t.Fatalf("parallel evaluation failed: %v", err)
	}
	if len(results) != 10 {
		t.Fatalf("expected 10 results, got %d", len(results))
	}
	for i, r := range results {
		if want := fmt.Sprintf("rule-%d", i); r.RuleID != want {
			t.Errorf("position %d: expected %s, got %s", i, want, r.RuleID)
		}
		if r.Score != 1.0 {
			t.Errorf("rule %s: expected score 1.0, got %.2f", r.RuleID, r.Score)
		}
	}

	loaded := engine.Rules()
	if loaded[0].ID != "rule-0" || loaded[9].ID != "rule-9" {
		t.Errorf("loaded rules not sorted: %s ... %s", loaded[0].ID, loaded[9].ID)
	}
}

func TestReloadRules(t *testing.T) {
	engine, _ := NewEngine(nil, 5)
	defer engine.Close()

	engine.Load(&domain.RuleConfig{ID: "old", Expression: "true", Enabled: true})

	err := engine.Replace([]*domain.RuleConfig{
		{ID: "new-1", Expression: "true", Enabled: true},
		{ID: "new-2", Expression: "false", Enabled: false},
	})
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if engine.Count() != 1 || engine.Rules()[0].ID != "new-1" {
		t.Errorf("unexpected rules after reload: %d", engine.Count())
	}

	err = engine.Replace([]*domain.RuleConfig{{ID: "broken", Expression: "!!", Enabled: true}})
	if err == nil {
		t.Fatal("expected reload error")
	}
	if engine.Count() != 1 {
		t.Error("failed reload must keep previous rules")
	}
}

func TestRuleResultMetadata(t *testing.T) {
	engine, _ := NewEngine(nil, 5)
	defer engine.Close()

	engine.Load(&domain.RuleConfig{ID: "meta-test", Expression: "principal > 0.0", Weight: 0.75, Enabled: true})

	results, _ := engine.Evaluate(context.Background(), sampleInput())

	if results[0].RuleID != "meta-test" {
		t.Errorf("expected RuleID 'meta-test', got '%s'", results[0].RuleID)
	}
	if results[0].Weight != 0.75 {
		t.Errorf("expected Weight 0.75, got %.2f", results[0].Weight)
	}
	if results[0].DurationMs < 0 {
		t.Error("DurationMs should be non-negative")
	}
}

func TestBuiltinRules(t *testing.T) {
	engine, _ := NewEngine(func(ctx context.Context, tenantID, dossierID string) (int64, error) {
		return 0, nil
	}, 5)
	defer engine.Close()

	builtin := BuiltinRules()
	if len(builtin) == 0 {
		t.Fatal("expected builtin rules")
	}
	if err := engine.LoadAll(builtin); err != nil {
		t.Fatalf("builtin rules must compile: %v", err)
	}

	input := sampleInput()
	input.Request.Client.TenureMonths = 3
	input.Request.History.ActiveCreditsCount = 5

	results, err := engine.Evaluate(context.Background(), input)
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}

	outcomes := make(map[string]domain.RuleOutcome, len(results))
	for _, r := range results {
		outcomes[r.RuleID] = r.Outcome
	}

	want := map[string]domain.RuleOutcome{
		"active-credits-001": domain.RuleOutcomeFail,
		"tenure-001":         domain.RuleOutcomeFail,
		"deferral-001":       domain.RuleOutcomePass,
		"savings-001":        domain.RuleOutcomePass,
		"reanalysis-001":     domain.RuleOutcomePass,
	}
	for id, outcome := range want {
		if outcomes[id] != outcome {
			t.Errorf("rule %s: expected %s, got %s", id, outcome, outcomes[id])
		}
	}
}

func TestRuleLookupAndExtra(t *testing.T) {
	engine, _ := NewEngine(nil, 2)
	defer engine.Close()

	if err := engine.Load(&domain.RuleConfig{ID: "branch", Expression: `has(extra.branch) && extra.branch == "douala"`, Enabled: true}); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if _, ok := engine.Rule("branch"); !ok {
		t.Error("expected rule branch to be loaded")
	}
	if _, ok := engine.Rule("missing"); ok {
		t.Error("unexpected rule")
	}

	input := sampleInput()
	results, _ := engine.Evaluate(context.Background(), input)
	if results[0].Score != 0 {
		t.Errorf("expected 0 without extra data, got %.2f", results[0].Score)
	}

	input.Extra = map[string]any{"branch": "douala"}
	results, _ = engine.Evaluate(context.Background(), input)
	if results[0].Score != 1 {
		t.Errorf("expected 1 with extra data, got %.2f", results[0].Score)
	}
}

func TestClassify(t *testing.T) {
	ten := 10.0
	bands := []domain.RuleBand{
		{Max: &ten, Outcome: domain.RuleOutcomePass, Reason: "bas"},
		{Min: &ten, Outcome: domain.RuleOutcomeReview, Reason: "haut"},
	}

	tests := []struct {
		score float64
		want  domain.RuleOutcome
	}{
		{0, domain.RuleOutcomePass},
		{9.99, domain.RuleOutcomePass},
		{10, domain.RuleOutcomeReview},
		{-1, domain.RuleOutcomePass},
	}
	for _, tt := range tests {
		if got, _ := classify(tt.score, bands); got != tt.want {
			t.Errorf("classify(%.2f) = %s, want %s", tt.score, got, tt.want)
		}
	}
}
