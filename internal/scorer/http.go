package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/domain"
)

const (
	defaultEndpoint = "https://api.openai.com/v1/chat/completions"
	defaultModel    = "gpt-4o-mini"

	// maxResponseBytes bounds how much of an upstream body is read.
	maxResponseBytes = 1 << 20
)

var tracer = otel.Tracer("dossier-scorer")

// HTTPScorer calls an OpenAI-compatible chat completions endpoint.
// Each Score call makes exactly one request; failures are returned to the
// caller as *domain.AnalysisUnavailableError.
type HTTPScorer struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type chatError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// NewHTTPScorer creates an HTTP scorer. A nil client uses a fresh
// http.Client; the per-call bound comes from the caller's context.
func NewHTTPScorer(endpoint, apiKey, model string, client *http.Client) *HTTPScorer {
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	if model == "" {
		model = defaultModel
	}
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPScorer{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		client:   client,
	}
}

// Score sends prompt to the model and decodes its JSON answer.
func (s *HTTPScorer) Score(ctx context.Context, prompt string) (*domain.NarrativeScore, error) {
	ctx, span := tracer.Start(ctx, "scorer.Score")
	defer span.End()
	span.SetAttributes(attribute.String("scorer.model", s.model))

	result, err := s.score(ctx, prompt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return result, nil
}

func (s *HTTPScorer) score(ctx context.Context, prompt string) (*domain.NarrativeScore, error) {
	body, err := json.Marshal(chatRequest{
		Model: s.model,
		Messages: []chatMessage{
			{Role: "system", Content: "You assess microfinance credit applications and answer with JSON only."},
			{Role: "user", Content: prompt},
		},
		Temperature:    0.2,
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, domain.NewAnalysisUnavailable("scorer request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, domain.NewAnalysisUnavailable("failed to read scorer response", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr chatError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, domain.NewAnalysisUnavailable(fmt.Sprintf("scorer returned %d", resp.StatusCode), fmt.Errorf("%s", apiErr.Error.Message))
		}
		return nil, domain.NewAnalysisUnavailable(fmt.Sprintf("scorer returned %d", resp.StatusCode), fmt.Errorf("%s", strings.TrimSpace(string(respBody))))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, domain.NewAnalysisUnavailable("failed to decode scorer response", err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, domain.NewAnalysisUnavailable("scorer returned no choices", nil)
	}

	result, err := ParseNarrative(chatResp.Choices[0].Message.Content)
	if err != nil {
		return nil, domain.NewAnalysisUnavailable("malformed scorer answer", err)
	}
	result.Model = chatResp.Model
	if result.Model == "" {
		result.Model = s.model
	}
	return result, nil
}

// ParseNarrative decodes a model answer. Code fences around the JSON
// object are tolerated; a missing narrative is an error.
func ParseNarrative(content string) (*domain.NarrativeScore, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var raw struct {
		Score           *float64 `json:"score"`
		RiskClass       string   `json:"riskClass"`
		Recommendation  string   `json:"recommendation"`
		Narrative       string   `json:"narrative"`
		PositiveFactors []string `json:"positiveFactors"`
		NegativeFactors []string `json:"negativeFactors"`
	}
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("answer is not a JSON object: %w", err)
	}
	if raw.Score == nil {
		return nil, fmt.Errorf("answer has no score")
	}
	if strings.TrimSpace(raw.Narrative) == "" {
		return nil, fmt.Errorf("answer has no narrative")
	}

	return &domain.NarrativeScore{
		Score:           *raw.Score,
		RiskClass:       domain.RiskClass(strings.ToUpper(strings.TrimSpace(raw.RiskClass))),
		Recommendation:  domain.Recommendation(strings.ToUpper(strings.TrimSpace(raw.Recommendation))),
		Narrative:       strings.TrimSpace(raw.Narrative),
		PositiveFactors: raw.PositiveFactors,
		NegativeFactors: raw.NegativeFactors,
	}, nil
}
