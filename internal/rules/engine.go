// Package rules evaluates the configurable eligibility rules, written in
// CEL, against a prepared analysis request and its ratio set.
package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/domain"
)

// HistoryGetter returns how many analyses a dossier already went through.
type HistoryGetter func(ctx context.Context, tenantID, dossierID string) (int64, error)

// Input is what rules are evaluated against.
type Input struct {
	TenantID  string
	DossierID string
	Request   domain.AnalysisRequest
	Ratios    domain.RatioSet
	// Extra variables, reachable through the "extra" map.
	Extra map[string]any
}

// variable binds a CEL name to the value it takes for one input.
type variable struct {
	name  string
	typ   *cel.Type
	value func(in *Input, prior int64) any
}

var variables = []variable{
	{"repayment_capacity", cel.DoubleType, func(in *Input, _ int64) any { return in.Ratios.RepaymentCapacity }},
	{"debt_service_ratio", cel.DoubleType, func(in *Input, _ int64) any { return in.Ratios.DebtServiceRatio }},
	{"guarantee_coverage", cel.DoubleType, func(in *Input, _ int64) any { return in.Ratios.GuaranteeCoverage }},
	{"exposure_ratio", cel.DoubleType, func(in *Input, _ int64) any { return in.Ratios.ExposureRatio }},
	{"monthly_payment", cel.DoubleType, func(in *Input, _ int64) any { return in.Ratios.MonthlyPayment }},
	{"total_outstanding", cel.DoubleType, func(in *Input, _ int64) any { return in.Ratios.TotalOutstanding }},

	{"monthly_income", cel.DoubleType, func(in *Input, _ int64) any { return in.Request.Client.MonthlyIncome }},
	{"monthly_charges", cel.DoubleType, func(in *Input, _ int64) any { return in.Request.Client.MonthlyCharges }},
	{"employment_type", cel.StringType, func(in *Input, _ int64) any { return string(in.Request.Client.EmploymentType) }},
	{"tenure_months", cel.IntType, func(in *Input, _ int64) any { return int64(in.Request.Client.TenureMonths) }},
	{"has_savings", cel.BoolType, func(in *Input, _ int64) any { return in.Request.Client.Savings != nil }},
	{"savings", cel.DoubleType, func(in *Input, _ int64) any {
		if s := in.Request.Client.Savings; s != nil {
			return *s
		}
		return 0.0
	}},

	{"principal", cel.DoubleType, func(in *Input, _ int64) any { return in.Request.Credit.Principal }},
	{"term_months", cel.IntType, func(in *Input, _ int64) any { return int64(in.Request.Credit.TermMonths) }},
	{"deferral_months", cel.IntType, func(in *Input, _ int64) any { return int64(in.Request.Credit.DeferralMonths) }},
	{"annual_rate", cel.DoubleType, func(in *Input, _ int64) any { return in.Request.Credit.AnnualRate }},
	{"guarantee_count", cel.IntType, func(in *Input, _ int64) any { return int64(len(in.Request.Guarantees)) }},

	{"current_arrears", cel.DoubleType, func(in *Input, _ int64) any { return in.Request.History.CurrentArrears }},
	{"max_delay_days", cel.IntType, func(in *Input, _ int64) any { return int64(in.Request.History.MaxHistoricalDelayDays) }},
	{"regularization_rate", cel.DoubleType, func(in *Input, _ int64) any { return in.Request.History.RegularizationRate }},
	{"active_credits", cel.IntType, func(in *Input, _ int64) any { return int64(in.Request.History.ActiveCreditsCount) }},
	{"prior_analyses", cel.IntType, func(_ *Input, prior int64) any { return prior }},

	{"request", cel.MapType(cel.StringType, cel.StringType), func(in *Input, _ int64) any {
		return map[string]string{
			"dossier_id":      in.DossierID,
			"product":         in.Request.Credit.Product,
			"purpose":         in.Request.Credit.Purpose,
			"activity":        in.Request.Client.Activity,
			"employment_type": string(in.Request.Client.EmploymentType),
		}
	}},
	{"extra", cel.MapType(cel.StringType, cel.DynType), func(in *Input, _ int64) any {
		if in.Extra == nil {
			return map[string]any{}
		}
		return in.Extra
	}},
}

type program struct {
	rule *domain.RuleConfig
	prg  cel.Program
}

// Engine holds the compiled rules. It is safe for concurrent use; the
// rule set is swapped atomically by Replace.
type Engine struct {
	env     *cel.Env
	history HistoryGetter
	workers int

	mu       sync.RWMutex
	programs map[string]*program
}

// NewEngine builds the CEL environment. history may be nil, in which case
// prior_analyses is always 0.
func NewEngine(history HistoryGetter, workers int) (*Engine, error) {
	if workers <= 0 {
		workers = 10
	}

	opts := make([]cel.EnvOption, 0, len(variables))
	for _, v := range variables {
		opts = append(opts, cel.Variable(v.name, v.typ))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:      env,
		history:  history,
		workers:  workers,
		programs: make(map[string]*program),
	}, nil
}

// Validate compiles a rule without loading it.
func (e *Engine) Validate(rule *domain.RuleConfig) error {
	_, err := e.compile(rule)
	return err
}

// Load compiles and adds (or replaces) a single rule.
func (e *Engine) Load(rule *domain.RuleConfig) error {
	p, err := e.compile(rule)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.programs[rule.ID] = p
	e.mu.Unlock()
	return nil
}

// LoadAll adds the enabled rules, stopping at the first that fails.
func (e *Engine) LoadAll(rules []*domain.RuleConfig) error {
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		if err := e.Load(rule); err != nil {
			return err
		}
	}
	return nil
}

// Replace swaps the whole rule set for the enabled rules given. The current
// set is kept if any of them fails to compile.
func (e *Engine) Replace(rules []*domain.RuleConfig) error {
	next := make(map[string]*program, len(rules))
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		p, err := e.compile(rule)
		if err != nil {
			return err
		}
		next[rule.ID] = p
	}

	e.mu.Lock()
	e.programs = next
	e.mu.Unlock()
	return nil
}

// Count returns the number of loaded rules.
func (e *Engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.programs)
}

// Rules returns the loaded rules sorted by ID.
func (e *Engine) Rules() []*domain.RuleConfig {
	loaded := e.snapshot()
	out := make([]*domain.RuleConfig, len(loaded))
	for i, p := range loaded {
		out[i] = p.rule
	}
	return out
}

// Rule returns one loaded rule.
func (e *Engine) Rule(id string) (*domain.RuleConfig, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.programs[id]
	if !ok {
		return nil, false
	}
	return p.rule, true
}

// Evaluate runs every loaded rule against in, at most workers at a time.
// Results come back sorted by rule ID. A rule whose evaluation fails
// reports the error outcome instead of failing the whole call.
func (e *Engine) Evaluate(ctx context.Context, in *Input) ([]domain.RuleResult, error) {
	loaded := e.snapshot()
	if len(loaded) == 0 {
		return nil, nil
	}

	activation := e.activation(ctx, in)
	results := make([]domain.RuleResult, len(loaded))

	sem := make(chan struct{}, e.workers)
	var wg sync.WaitGroup
	for i, p := range loaded {
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer func() { <-sem; wg.Done() }()
			results[i] = evaluate(p, activation)
		}()
	}
	wg.Wait()

	return results, ctx.Err()
}

// Close drops the loaded rules.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.programs = make(map[string]*program)
	e.mu.Unlock()
	return nil
}

func (e *Engine) snapshot() []*program {
	e.mu.RLock()
	loaded := make([]*program, 0, len(e.programs))
	for _, p := range e.programs {
		loaded = append(loaded, p)
	}
	e.mu.RUnlock()

	sort.Slice(loaded, func(i, j int) bool { return loaded[i].rule.ID < loaded[j].rule.ID })
	return loaded
}

func (e *Engine) activation(ctx context.Context, in *Input) map[string]any {
	var prior int64
	if e.history != nil && in.DossierID != "" {
		n, err := e.history(ctx, in.TenantID, in.DossierID)
		if err != nil {
			slog.Warn("analysis history unavailable", "dossier_id", in.DossierID, "error", err)
		} else {
			prior = n
		}
	}

	act := make(map[string]any, len(variables))
	for _, v := range variables {
		act[v.name] = v.value(in, prior)
	}
	return act
}

func (e *Engine) compile(rule *domain.RuleConfig) (*program, error) {
	if rule == nil {
		return nil, errors.New("rule is required")
	}

	ast, issues := e.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("rule %s: %w", rule.ID, issues.Err())
	}

	switch out := ast.OutputType(); out.Kind() {
	case types.BoolKind, types.IntKind, types.DoubleKind, types.DynKind:
	default:
		return nil, fmt.Errorf("rule %s: expression must yield bool, int or double, not %s", rule.ID, out)
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", rule.ID, err)
	}
	return &program{rule: rule, prg: prg}, nil
}

func evaluate(p *program, activation map[string]any) domain.RuleResult {
	start := time.Now()
	res := domain.RuleResult{RuleID: p.rule.ID, Weight: p.rule.Weight}

	out, _, err := p.prg.Eval(activation)
	if err != nil {
		res.Outcome = domain.RuleOutcomeError
		res.Reason = "evaluation error: " + err.Error()
	} else {
		res.Score = score(out)
		res.Outcome, res.Reason = classify(res.Score, p.rule.Bands)
	}
	res.DurationMs = time.Since(start).Milliseconds()
	return res
}

func score(v ref.Val) float64 {
	switch v := v.(type) {
	case types.Bool:
		if v {
			return 1
		}
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	}
	return 0
}

// classify returns the first band containing s; a rule without a
// matching band passes.
func classify(s float64, bands []domain.RuleBand) (domain.RuleOutcome, string) {
	for _, b := range bands {
		if b.Contains(s) {
			return b.Outcome, b.Reason
		}
	}
	return domain.RuleOutcomePass, "no matching band"
}
