// Package analysis runs credit analyses: ratios, the threshold table, the
// eligibility rules and the narrative scorer, reconciled into a
// ScoringResult that is persisted and announced on the event bus.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/bus"
	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/decision"
	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/domain"
	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/metrics"
	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/quota"
	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/ratios"
	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/repository"
	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/rules"
	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/scorer"
)

var tracer = otel.Tracer("dossier-analysis")

// Failure reasons reported to metrics and in analysis.failed events.
const (
	ReasonInvalidInput = "invalid_input"
	ReasonQuota        = "quota_exceeded"
	ReasonUnavailable  = "analysis_unavailable"
	ReasonNotFound     = "not_found"
	ReasonInternal     = "internal"
)

// Options holds the dependencies of a Service. Repo, Cache, Bus, Engine,
// Quota and Metrics are optional.
type Options struct {
	Repo      domain.Repository
	Cache     domain.Cache
	Bus       domain.EventBus
	Engine    *rules.Engine
	Scorer    domain.NarrativeScorer
	Processor *decision.Processor
	Quota     *quota.Service
	Metrics   *metrics.Recorder

	Mode      domain.AnalysisMode
	Policy    domain.PolicyConfig
	Timeout   time.Duration // bound of one scorer call
	Language  string
	ResultTTL time.Duration
}

// Service runs analyses and manages dossiers.
type Service struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	engine    *rules.Engine
	scorer    domain.NarrativeScorer
	processor *decision.Processor
	quota     *quota.Service
	metrics   *metrics.Recorder

	mode      domain.AnalysisMode
	policy    domain.PolicyConfig
	timeout   time.Duration
	language  string
	resultTTL time.Duration
}

// NewService creates an analysis service.
func NewService(opts Options) *Service {
	s := &Service{
		repo:      opts.Repo,
		cache:     opts.Cache,
		bus:       opts.Bus,
		engine:    opts.Engine,
		scorer:    opts.Scorer,
		processor: opts.Processor,
		quota:     opts.Quota,
		metrics:   opts.Metrics,
		mode:      opts.Mode,
		policy:    opts.Policy,
		timeout:   opts.Timeout,
		language:  opts.Language,
		resultTTL: opts.ResultTTL,
	}

	if s.processor == nil {
		s.processor = decision.NewProcessor()
	}
	if s.mode == "" {
		s.mode = domain.ModeAssisted
	}
	if s.policy == (domain.PolicyConfig{}) {
		s.policy = domain.DefaultPolicy()
	}
	if s.timeout <= 0 {
		s.timeout = 30 * time.Second
	}
	if s.resultTTL <= 0 {
		s.resultTTL = time.Hour
	}
	return s
}

// Mode returns the analysis mode of the service.
func (s *Service) Mode() domain.AnalysisMode {
	return s.mode
}

// Preview computes the ratios and the threshold table outcome of a
// request without consulting the rules or the narrative scorer.
func (s *Service) Preview(req domain.AnalysisRequest) (*Preview, error) {
	prepared, err := req.Prepare()
	if err != nil {
		return nil, err
	}
	thresholds, err := s.thresholds(prepared.Policy)
	if err != nil {
		return nil, err
	}

	r := ratios.FromRequest(prepared)
	signals := ratios.Signals(prepared.History)
	classifier := decision.NewClassifier(thresholds)
	positive, negative := classifier.Factors(r, signals)

	return &Preview{
		Ratios:          r,
		Classification:  classifier.Classify(r, signals),
		PositiveFactors: positive,
		NegativeFactors: negative,
		Thresholds:      thresholds,
		Schedule:        domain.Schedule(prepared.Credit, time.Now().UTC()),
	}, nil
}

// Preview is the deterministic part of an analysis.
type Preview struct {
	Ratios          domain.RatioSet       `json:"ratios"`
	Classification  domain.Classification `json:"classification"`
	PositiveFactors []string              `json:"positiveFactors"`
	NegativeFactors []string              `json:"negativeFactors"`
	Thresholds      decision.Thresholds   `json:"thresholds"`
	Schedule        []domain.Installment  `json:"schedule,omitempty"`
}

// Analyze runs a stateless analysis of req. The result is persisted but
// belongs to no dossier and counts against no quota.
func (s *Service) Analyze(ctx context.Context, tenantID string, req domain.AnalysisRequest) (*domain.ScoringResult, error) {
	return s.run(ctx, tenantID, nil, req, nil)
}

// AnalyzeDossier analyzes a stored dossier. policy, when set, overrides
// the thresholds stored with the dossier request. On success the dossier
// is classified and the result becomes its latest.
func (s *Service) AnalyzeDossier(ctx context.Context, tenantID, dossierID string, policy map[string]any) (*domain.ScoringResult, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("repository not available")
	}

	d, err := s.repo.GetDossier(ctx, tenantID, dossierID)
	if err != nil {
		s.fail(ctx, tenantID, dossierID, err)
		return nil, fmt.Errorf("failed to load dossier %s: %w", dossierID, err)
	}
	return s.run(ctx, tenantID, d, d.Request, policy)
}

func (s *Service) run(ctx context.Context, tenantID string, d *domain.Dossier, req domain.AnalysisRequest, policy map[string]any) (*domain.ScoringResult, error) {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "analysis.Analyze")
	defer span.End()

	dossierID := ""
	if d != nil {
		dossierID = d.ID
	}
	span.SetAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("dossier.id", dossierID),
		attribute.String("analysis.mode", string(s.mode)),
	)

	result, err := s.analyze(ctx, tenantID, dossierID, req, policy, start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.fail(ctx, tenantID, dossierID, err)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("result.id", result.ID),
		attribute.String("result.risk_class", string(result.RiskClass)),
		attribute.Bool("result.disagreement", result.Disagreement),
	)

	if err := s.store(ctx, tenantID, d, result); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.fail(ctx, tenantID, dossierID, err)
		return nil, err
	}

	s.metrics.Completed(result, time.Since(start))
	s.publishCompleted(ctx, tenantID, d, result)

	slog.Info("analysis completed",
		"tenant_id", tenantID,
		"dossier_id", dossierID,
		"result_id", result.ID,
		"risk_class", result.RiskClass,
		"recommendation", result.Recommendation,
		"disagreement", result.Disagreement,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return result, nil
}

func (s *Service) analyze(ctx context.Context, tenantID, dossierID string, req domain.AnalysisRequest, policy map[string]any, start time.Time) (*domain.ScoringResult, error) {
	prepared, err := req.Prepare()
	if err != nil {
		return nil, err
	}

	overrides := prepared.Policy
	if len(policy) > 0 {
		overrides = make(map[string]any, len(prepared.Policy)+len(policy))
		for k, v := range prepared.Policy {
			overrides[k] = v
		}
		for k, v := range policy {
			overrides[k] = v
		}
	}
	thresholds, err := s.thresholds(overrides)
	if err != nil {
		return nil, err
	}

	if s.quota != nil {
		if err := s.quota.Check(ctx, tenantID, dossierID); err != nil {
			return nil, err
		}
	}

	// 1. Ratios and threshold table
	ratiosStart := time.Now()
	r := ratios.FromRequest(prepared)
	signals := ratios.Signals(prepared.History)
	classifier := decision.NewClassifier(thresholds)
	classification := classifier.Classify(r, signals)
	positive, negative := classifier.Factors(r, signals)
	ratiosMs := time.Since(ratiosStart).Milliseconds()

	// 2. Eligibility rules
	var ruleResults []domain.RuleResult
	if s.engine != nil && s.engine.Count() > 0 {
		ruleResults, err = s.engine.Evaluate(ctx, &rules.Input{
			TenantID:  tenantID,
			DossierID: dossierID,
			Request:   prepared,
			Ratios:    r,
		})
		if err != nil {
			return nil, fmt.Errorf("rule evaluation failed: %w", err)
		}
	}

	// 3. Narrative scorer
	var narrative *domain.NarrativeScore
	var scorerMs int64
	if s.mode == domain.ModeAssisted && s.scorer != nil {
		prompt, err := scorer.BuildPrompt(scorer.PromptInput{
			Request:        prepared,
			Ratios:         r,
			Thresholds:     thresholds,
			Classification: classification,
			RuleResults:    ruleResults,
			Language:       s.language,
		})
		if err != nil {
			return nil, err
		}

		scorerStart := time.Now()
		narrative, err = s.score(ctx, prompt)
		scorerMs = time.Since(scorerStart).Milliseconds()
		if err != nil {
			return nil, err
		}
	}

	// 4. Reconciliation
	return s.processor.Process(ctx, &decision.DecisionInput{
		TenantID:        tenantID,
		DossierID:       dossierID,
		TraceID:         traceID(ctx),
		Ratios:          r,
		Classification:  classification,
		PositiveFactors: positive,
		NegativeFactors: negative,
		RuleResults:     ruleResults,
		Narrative:       narrative,
		RatiosMs:        ratiosMs,
		ScorerMs:        scorerMs,
		StartTime:       start,
	}), nil
}

// thresholds applies policy overrides to the configured thresholds.
func (s *Service) thresholds(policy map[string]any) (decision.Thresholds, error) {
	return decision.FromPolicy(s.policy).WithOverrides(policy)
}

// score makes one scorer call bounded by the configured timeout. Every
// failure comes back as *domain.AnalysisUnavailableError.
func (s *Service) score(ctx context.Context, prompt string) (*domain.NarrativeScore, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	narrative, err := s.scorer.Score(ctx, prompt)
	if err != nil {
		if errors.Is(err, domain.ErrAnalysisUnavailable) {
			return nil, err
		}
		return nil, domain.NewAnalysisUnavailable("narrative scorer failed", err)
	}
	if narrative == nil {
		return nil, domain.NewAnalysisUnavailable("narrative scorer returned nothing", nil)
	}
	return narrative, nil
}

// store persists the result, caches it as the latest of its dossier and
// classifies the dossier.
func (s *Service) store(ctx context.Context, tenantID string, d *domain.Dossier, result *domain.ScoringResult) error {
	if s.repo != nil {
		if err := s.repo.SaveScoringResult(ctx, tenantID, result); err != nil {
			return fmt.Errorf("failed to save scoring result: %w", err)
		}
	}
	if d == nil {
		return nil
	}

	if s.cache != nil {
		if err := s.cache.StoreLatest(ctx, tenantID, result, s.resultTTL); err != nil {
			slog.Warn("failed to cache scoring result",
				"dossier_id", d.ID,
				"result_id", result.ID,
				"error", err,
			)
		}
	}

	if d.Status != domain.StatusClassified && s.repo != nil {
		if err := s.repo.UpdateDossierStatus(ctx, tenantID, d.ID, domain.StatusClassified); err != nil {
			return fmt.Errorf("failed to classify dossier: %w", err)
		}
		s.publishStatus(ctx, tenantID, d.ID, d.Status, domain.StatusClassified)
	}
	return nil
}

func (s *Service) publishCompleted(ctx context.Context, tenantID string, d *domain.Dossier, result *domain.ScoringResult) {
	if s.bus == nil {
		return
	}

	event := domain.AnalysisCompletedEvent{
		ResultID:       result.ID,
		DossierID:      result.DossierID,
		GlobalScore:    result.GlobalScore,
		RiskClass:      result.RiskClass,
		Recommendation: result.Recommendation,
		Disagreement:   result.Disagreement,
		Flags:          result.Flags,
	}
	if d != nil {
		event.Reference = d.Reference
		event.ClientName = d.Request.Client.FullName
		event.Officer = d.Officer
	}

	if err := bus.PublishJSON(ctx, s.bus, tenantID, domain.TopicAnalysisCompleted, event); err != nil {
		slog.Error("failed to publish analysis result",
			"result_id", result.ID,
			"error", err,
		)
	}
}

// fail records a failed analysis. Nothing is persisted.
func (s *Service) fail(ctx context.Context, tenantID, dossierID string, err error) {
	reason := FailureReason(err)
	s.metrics.Failed(reason)

	slog.Warn("analysis failed",
		"tenant_id", tenantID,
		"dossier_id", dossierID,
		"reason", reason,
		"error", err,
	)

	if s.bus == nil || tenantID == "" {
		return
	}
	event := domain.AnalysisFailedEvent{DossierID: dossierID, Reason: err.Error()}
	if perr := bus.PublishJSON(ctx, s.bus, tenantID, domain.TopicAnalysisFailed, event); perr != nil {
		slog.Error("failed to publish analysis failure", "error", perr)
	}
}

// FailureReason classifies an analysis error.
func FailureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return ReasonInvalidInput
	case errors.Is(err, domain.ErrQuotaExceeded):
		return ReasonQuota
	case errors.Is(err, domain.ErrAnalysisUnavailable):
		return ReasonUnavailable
	case errors.Is(err, repository.ErrNotFound):
		return ReasonNotFound
	default:
		return ReasonInternal
	}
}

// traceID returns the request trace ID, else the trace of the current
// span, else a fresh identifier.
func traceID(ctx context.Context) string {
	if id := domain.TraceIDFrom(ctx); id != "" {
		return id
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return uuid.New().String()
}
