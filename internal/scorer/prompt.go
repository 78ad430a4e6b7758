// Package scorer implements the narrative scorers consulted during an
// analysis: an OpenAI-compatible HTTP client and a deterministic stub.
package scorer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/decision"
	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/domain"
)

// Markers around the JSON facts embedded in every prompt.
const (
	factsBegin = "<<FACTS"
	factsEnd   = "FACTS>>"
)

// Facts is the machine-readable part of a prompt.
type Facts struct {
	EmploymentType domain.EmploymentType `json:"employmentType"`
	Activity       string                `json:"activity,omitempty"`
	TenureMonths   int                   `json:"tenureMonths"`
	MonthlyIncome  float64               `json:"monthlyIncome"`
	MonthlyCharges float64               `json:"monthlyCharges"`
	HasSavings     bool                  `json:"hasSavings"`

	Principal      float64 `json:"principal"`
	TermMonths     int     `json:"termMonths"`
	DeferralMonths int     `json:"deferralMonths"`
	AnnualRate     float64 `json:"annualRate"`
	Purpose        string  `json:"purpose,omitempty"`

	GuaranteeKinds []domain.GuaranteeKind `json:"guaranteeKinds"`
	History        domain.CreditHistory   `json:"history"`

	Ratios        domain.RatioSet       `json:"ratios"`
	Thresholds    decision.Thresholds   `json:"thresholds"`
	Deterministic domain.Classification `json:"deterministic"`
	RuleFindings  []string              `json:"ruleFindings,omitempty"`
}

// PromptInput gathers everything the prompt is built from.
type PromptInput struct {
	Request        domain.AnalysisRequest
	Ratios         domain.RatioSet
	Thresholds     decision.Thresholds
	Classification domain.Classification
	RuleResults    []domain.RuleResult
	Language       string
}

// BuildPrompt renders the textual prompt sent to the narrative scorer.
// Identity fields of the client are never included.
func BuildPrompt(in PromptInput) (string, error) {
	kinds := make([]domain.GuaranteeKind, 0, len(in.Request.Guarantees))
	for _, g := range in.Request.Guarantees {
		kinds = append(kinds, g.Kind)
	}

	facts := Facts{
		EmploymentType: in.Request.Client.EmploymentType,
		Activity:       in.Request.Client.Activity,
		TenureMonths:   in.Request.Client.TenureMonths,
		MonthlyIncome:  in.Request.Client.MonthlyIncome,
		MonthlyCharges: in.Request.Client.MonthlyCharges,
		HasSavings:     in.Request.Client.Savings != nil && *in.Request.Client.Savings > 0,
		Principal:      in.Request.Credit.Principal,
		TermMonths:     in.Request.Credit.TermMonths,
		DeferralMonths: in.Request.Credit.DeferralMonths,
		AnnualRate:     in.Request.Credit.AnnualRate,
		Purpose:        in.Request.Credit.Purpose,
		GuaranteeKinds: kinds,
		History:        in.Request.History,
		Ratios:         in.Ratios,
		Thresholds:     in.Thresholds,
		Deterministic:  in.Classification,
		RuleFindings:   decision.GetReasons(in.RuleResults),
	}

	raw, err := json.MarshalIndent(facts, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal prompt facts: %w", err)
	}

	var b strings.Builder
	if strings.HasPrefix(strings.ToLower(in.Language), "en") {
		b.WriteString("You are a credit analyst at a microfinance institution. ")
		b.WriteString("Assess the credit application described by the facts below.\n")
		fmt.Fprintf(&b, "Debt service ratio: %.2f%% of repayment capacity (%.0f).\n", in.Ratios.DebtServiceRatio, in.Ratios.RepaymentCapacity)
		fmt.Fprintf(&b, "Guarantee coverage: %.2f%% of principal. Exposure: %.2f of annual income.\n", in.Ratios.GuaranteeCoverage, in.Ratios.ExposureRatio)
		fmt.Fprintf(&b, "Threshold table outcome: class %s, %s (%s).\n", in.Classification.RiskClass, in.Classification.Recommendation, in.Classification.Reason)
		b.WriteString("A class D outcome is final and cannot be improved.\n")
	} else {
		b.WriteString("Vous êtes analyste crédit dans un établissement de microfinance. ")
		b.WriteString("Évaluez la demande de crédit décrite par les données ci-dessous.\n")
		fmt.Fprintf(&b, "Taux d'endettement : %.2f%% de la capacité de remboursement (%.0f).\n", in.Ratios.DebtServiceRatio, in.Ratios.RepaymentCapacity)
		fmt.Fprintf(&b, "Couverture des garanties : %.2f%% du montant. Exposition : %.2f du revenu annuel.\n", in.Ratios.GuaranteeCoverage, in.Ratios.ExposureRatio)
		fmt.Fprintf(&b, "Grille de décision : classe %s, %s (%s).\n", in.Classification.RiskClass, in.Classification.Recommendation, in.Classification.Reason)
		b.WriteString("Une classe D est définitive et ne peut pas être améliorée.\n")
	}

	b.WriteString(factsBegin + "\n")
	b.Write(raw)
	b.WriteString("\n" + factsEnd + "\n")

	b.WriteString(`Reply with a single JSON object: {"score": number 0-100, "riskClass": "A"|"B"|"C"|"D", `)
	b.WriteString(`"recommendation": "ACCORD"|"ACCORD_SOUS_CONDITIONS"|"AJOURNEMENT"|"REFUS", `)
	b.WriteString(`"narrative": string, "positiveFactors": [string], "negativeFactors": [string]}.`)

	return b.String(), nil
}

// ParseFacts extracts the facts block of a prompt built by BuildPrompt.
func ParseFacts(prompt string) (*Facts, error) {
	start := strings.Index(prompt, factsBegin)
	end := strings.Index(prompt, factsEnd)
	if start < 0 || end < start {
		return nil, fmt.Errorf("prompt has no facts block")
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(prompt[start+len(factsBegin) : end])))
	var f Facts
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to decode prompt facts: %w", err)
	}
	return &f, nil
}
