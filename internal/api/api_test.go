package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/analysis"
	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/bus"
	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/cache"
	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/domain"
	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/metrics"
	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/quota"
	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/repository"
	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/rules"
	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/scorer"
)

type testEnv struct {
	server *Server
	stub   *scorer.StubScorer
	bus    *bus.ChannelBus
}

// createTestServer wires a server on a temporary SQLite database, the
// channel bus and the stub scorer.
func createTestServer(t *testing.T) *testEnv {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "api-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: tmpPath})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	c := cache.NewMemory(100)
	b := bus.NewChannelBus(100)
	t.Cleanup(func() { b.Close() })

	q := quota.NewService(repo, c, domain.QuotaConfig{MaxAnalyses: 3, WindowSecs: 60})
	engine, err := rules.NewEngine(q.HistoryGetter(), 4)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	t.Cleanup(func() { engine.Close() })
	engine.LoadAll(rules.BuiltinRules())

	stub := scorer.NewStubScorer()
	rec := metrics.NewRecorder()
	svc := analysis.NewService(analysis.Options{
		Repo:    repo,
		Cache:   c,
		Bus:     b,
		Engine:  engine,
		Scorer:  stub,
		Quota:   q,
		Metrics: rec,
		Timeout: time.Second,
	})

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}
	srv := NewServer(cfg, Deps{
		Service: svc,
		Repo:    repo,
		Cache:   c,
		Bus:     b,
		Engine:  engine,
		Metrics: rec,
		Version: "test-v1",
	})
	return &testEnv{server: srv, stub: stub, bus: b}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch v := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(v)
	default:
		raw, _ := json.Marshal(v)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(TenantIDHeader, "tenant-001")

	rr := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to parse response: %v: %s", err, rr.Body.String())
	}
}

func sampleRequest() map[string]any {
	return map[string]any{
		"client": map[string]any{
			"fullName":       "Ngono Marie",
			"monthlyIncome":  500000,
			"monthlyCharges": 200000,
			"employmentType": "salarié",
			"tenureMonths":   48,
		},
		"credit": map[string]any{
			"principal":  1000000,
			"termMonths": 12,
			"annualRate": 12,
		},
		"guarantees": []map[string]any{
			{"kind": "real_estate", "estimatedValue": 600000},
		},
		"history": map[string]any{
			"regularizationRate":     0.9,
			"maxHistoricalDelayDays": 10,
		},
	}
}

func TestStatelessEndpoints(t *testing.T) {
	env := createTestServer(t)

	t.Run("Ratios", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/ratios", sampleRequest())
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var preview analysis.Preview
		decode(t, rr, &preview)
		if preview.Ratios.RepaymentCapacity != 300000 || preview.Classification.RiskClass != domain.RiskClassA {
			t.Errorf("unexpected preview %+v", preview)
		}
		if env.stub.Calls() != 0 {
			t.Error("ratios must not call the scorer")
		}
	})

	t.Run("Analyze", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/analyze", sampleRequest())
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var result domain.ScoringResult
		decode(t, rr, &result)
		if result.RiskClass != domain.RiskClassA || result.Recommendation != domain.RecommendationAccord {
			t.Errorf("expected A/ACCORD, got %s/%s", result.RiskClass, result.Recommendation)
		}
		if result.Metadata.TraceID != rr.Header().Get(TraceIDHeader) {
			t.Errorf("result trace %q does not match header %q", result.Metadata.TraceID, rr.Header().Get(TraceIDHeader))
		}

		rr = env.do(t, http.MethodGet, "/results/"+result.ID, nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected stored result, got %d", rr.Code)
		}
	})

	t.Run("InvalidField", func(t *testing.T) {
		req := sampleRequest()
		req["credit"].(map[string]any)["termMonths"] = 0

		rr := env.do(t, http.MethodPost, "/analyze", req)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", rr.Code)
		}
		var resp map[string]string
		decode(t, rr, &resp)
		if resp["field"] != "credit.termMonths" {
			t.Errorf("expected field credit.termMonths, got %q", resp["field"])
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/analyze", "not-json")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ScorerUnavailable", func(t *testing.T) {
		env.stub.Err = domain.NewAnalysisUnavailable("upstream", nil)
		defer func() { env.stub.Err = nil }()

		rr := env.do(t, http.MethodPost, "/analyze", sampleRequest())
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status 503, got %d", rr.Code)
		}
	})

	t.Run("MissingTenantID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/analyze", strings.NewReader("{}"))
		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestDossierEndpoints(t *testing.T) {
	env := createTestServer(t)

	rr := env.do(t, http.MethodPost, "/dossiers", map[string]any{
		"reference": "DOS-2026-0042",
		"officer":   "agent-07",
		"request":   sampleRequest(),
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var d domain.Dossier
	decode(t, rr, &d)
	if rr.Header().Get("Location") != "/dossiers/"+d.ID {
		t.Errorf("unexpected Location %q", rr.Header().Get("Location"))
	}

	t.Run("Get", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/dossiers/"+d.ID, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var got domain.Dossier
		decode(t, rr, &got)
		if got.Reference != "DOS-2026-0042" || got.Status != domain.StatusSubmitted {
			t.Errorf("unexpected dossier %+v", got)
		}

		if rr := env.do(t, http.MethodGet, "/dossiers/missing", nil); rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("DuplicateReference", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/dossiers", map[string]any{
			"reference": "DOS-2026-0042",
			"request":   sampleRequest(),
		})
		if rr.Code != http.StatusConflict {
			t.Errorf("expected status 409, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("NoResultYet", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/dossiers/"+d.ID+"/results/latest", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("InvalidTransition", func(t *testing.T) {
		rr := env.do(t, http.MethodPut, "/dossiers/"+d.ID+"/status", StatusRequest{Status: domain.StatusTransmitted})
		if rr.Code != http.StatusConflict {
			t.Errorf("expected status 409, got %d", rr.Code)
		}
		rr = env.do(t, http.MethodPut, "/dossiers/"+d.ID+"/status", StatusRequest{Status: "archived"})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("Transition", func(t *testing.T) {
		rr := env.do(t, http.MethodPut, "/dossiers/"+d.ID+"/status", StatusRequest{Status: domain.StatusUnderReview})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	var resultID string
	t.Run("Analyze", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/dossiers/"+d.ID+"/analyze", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var result domain.ScoringResult
		decode(t, rr, &result)
		resultID = result.ID
		if result.DossierID != d.ID {
			t.Errorf("result not attached to dossier: %+v", result)
		}

		rr = env.do(t, http.MethodGet, "/dossiers?status=classified", nil)
		var list struct {
			Count int `json:"count"`
		}
		decode(t, rr, &list)
		if list.Count != 1 {
			t.Errorf("expected 1 classified dossier, got %d", list.Count)
		}
	})

	t.Run("AnalyzeWithPolicy", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/dossiers/"+d.ID+"/analyze", AnalyzeDossierRequest{
			Policy: map[string]any{"maxDebtServiceRatio": 20},
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var result domain.ScoringResult
		decode(t, rr, &result)
		if result.Deterministic.RiskClass != domain.RiskClassC {
			t.Errorf("expected C under a 20%% limit, got %s", result.Deterministic.RiskClass)
		}

		rr = env.do(t, http.MethodGet, "/dossiers/"+d.ID+"/results/latest", nil)
		var latest domain.ScoringResult
		decode(t, rr, &latest)
		if latest.ID != result.ID || latest.ID == resultID {
			t.Errorf("expected latest %s, got %s", result.ID, latest.ID)
		}

		rr = env.do(t, http.MethodGet, "/dossiers/"+d.ID+"/results", nil)
		var list struct {
			Count int `json:"count"`
		}
		decode(t, rr, &list)
		if list.Count != 2 {
			t.Errorf("expected 2 results, got %d", list.Count)
		}
	})

	t.Run("Async", func(t *testing.T) {
		requested := make(chan struct{}, 1)
		env.bus.Subscribe(context.Background(), "tenant-001", domain.TopicAnalysisRequested, func(ctx context.Context, msg *domain.Message) error {
			requested <- struct{}{}
			return nil
		})
		time.Sleep(10 * time.Millisecond)

		rr := env.do(t, http.MethodPost, "/dossiers/"+d.ID+"/analyze?async=true", nil)
		if rr.Code != http.StatusAccepted {
			t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
		}
		select {
		case <-requested:
		case <-time.After(time.Second):
			t.Error("expected analysis.requested to be published")
		}
	})

	t.Run("QuotaExceeded", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/dossiers/"+d.ID+"/analyze", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("third analysis: expected status 200, got %d", rr.Code)
		}
		rr = env.do(t, http.MethodPost, "/dossiers/"+d.ID+"/analyze", nil)
		if rr.Code != http.StatusTooManyRequests {
			t.Errorf("expected status 429, got %d", rr.Code)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/dossiers/"+d.ID, nil)
		req.Header.Set(TenantIDHeader, "tenant-002")
		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404 for another tenant, got %d", rr.Code)
		}
	})
}

func TestRuleEndpoints(t *testing.T) {
	env := createTestServer(t)

	t.Run("List", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/rules", nil)
		var resp struct {
			Count int `json:"count"`
		}
		decode(t, rr, &resp)
		if resp.Count != len(rules.BuiltinRules()) {
			t.Errorf("expected %d rules, got %d", len(rules.BuiltinRules()), resp.Count)
		}
	})

	t.Run("Get", func(t *testing.T) {
		if rr := env.do(t, http.MethodGet, "/rules/tenure-001", nil); rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
		if rr := env.do(t, http.MethodGet, "/rules/missing", nil); rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("CreateAndReload", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/rules", RuleRequest{
			ID:         "principal-001",
			Name:       "Large principal",
			Expression: "principal > 50000000.0 ? 1.0 : 0.0",
			Weight:     0.5,
			Enabled:    true,
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}

		rr = env.do(t, http.MethodPost, "/rules/reload", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		if rr := env.do(t, http.MethodGet, "/rules/principal-001", nil); rr.Code != http.StatusOK {
			t.Errorf("reloaded rule not found: %d", rr.Code)
		}
	})

	t.Run("InvalidExpression", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/rules", RuleRequest{
			ID:         "broken",
			Name:       "Broken",
			Expression: "principal >",
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("Validation", func(t *testing.T) {
		tests := []struct {
			name  string
			req   RuleRequest
			field string
		}{
			{"MissingName", RuleRequest{ID: "r", Expression: "true"}, "name"},
			{"NegativeWeight", RuleRequest{ID: "r", Name: "R", Expression: "true", Weight: -1}, "weight"},
			{"UnknownOutcome", RuleRequest{ID: "r", Name: "R", Expression: "true", Bands: []domain.RuleBand{{Outcome: "maybe"}}}, "bands[0].outcome"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				rr := env.do(t, http.MethodPost, "/rules", tt.req)
				if rr.Code != http.StatusBadRequest {
					t.Fatalf("expected status 400, got %d", rr.Code)
				}
				var resp map[string]string
				decode(t, rr, &resp)
				if resp["field"] != tt.field {
					t.Errorf("expected field %q, got %q", tt.field, resp["field"])
				}
			})
		}
	})
}

func TestHealthEndpoint(t *testing.T) {
	env := createTestServer(t)

	t.Run("HealthCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)

		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp["status"] != "healthy" {
			t.Errorf("expected status 'healthy', got '%s'", resp["status"])
		}
		if resp["version"] != "test-v1" || resp["mode"] != "assisted" {
			t.Errorf("unexpected health %v", resp)
		}
	})

	t.Run("ReadyCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ready", nil)

		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("Metrics", func(t *testing.T) {
		env.do(t, http.MethodPost, "/analyze", sampleRequest())

		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "dossier_analyses_total") {
			t.Error("expected analysis counter in exposition")
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("TenantMiddlewareExtractsID", func(t *testing.T) {
		var capturedTenantID string

		handler := TenantMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedTenantID = GetTenantID(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Tenant-ID", "my-tenant-123")

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedTenantID != "my-tenant-123" {
			t.Errorf("expected tenant ID 'my-tenant-123', got '%s'", capturedTenantID)
		}
	})

	t.Run("TenantMiddlewareRejectsWildcard", func(t *testing.T) {
		handler := TenantMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Tenant-ID", domain.AllTenants)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("TracingMiddlewarePropagatesTraceID", func(t *testing.T) {
		var capturedRequestID, capturedTraceID string

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v, ok := r.Context().Value(RequestIDKey).(string); ok {
				capturedRequestID = v
			}
			capturedTraceID = domain.TraceIDFrom(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(TraceIDHeader, "trace-abc")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedRequestID == "" {
			t.Error("expected request ID to be set")
		}
		if capturedTraceID != "trace-abc" {
			t.Errorf("expected trace-abc in context, got %q", capturedTraceID)
		}
		if rr.Header().Get(TraceIDHeader) != "trace-abc" {
			t.Error("expected X-Trace-ID response header")
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()

		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})

	t.Run("TenantMiddlewareRejectsMalformedID", func(t *testing.T) {
		handler := TenantMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		for _, tenant := range []string{"agence.douala", "a/b", "-lead", strings.Repeat("x", 65)} {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set(TenantIDHeader, tenant)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != http.StatusBadRequest {
				t.Errorf("tenant %q: expected status 400, got %d", tenant, rr.Code)
			}
		}
	})

	t.Run("CORSMiddlewareAllowList", func(t *testing.T) {
		handler := CORSMiddleware([]string{"https://agence.example.cm"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodOptions, "/dossiers", nil)
		req.Header.Set("Origin", "https://agence.example.cm")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusNoContent {
			t.Errorf("expected preflight 204, got %d", rr.Code)
		}
		if rr.Header().Get("Access-Control-Allow-Origin") != "https://agence.example.cm" {
			t.Errorf("expected origin echoed, got %q", rr.Header().Get("Access-Control-Allow-Origin"))
		}

		req = httptest.NewRequest(http.MethodGet, "/dossiers", nil)
		req.Header.Set("Origin", "https://evil.example")
		rr = httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Header().Get("Access-Control-Allow-Origin") != "" {
			t.Error("unlisted origin must not be allowed")
		}
	})
}
