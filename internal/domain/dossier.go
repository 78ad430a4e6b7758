package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// EmploymentType classifies the applicant's source of income.
type EmploymentType string

const (
	EmploymentSalaried     EmploymentType = "salaried"
	EmploymentSelfEmployed EmploymentType = "self-employed"
	EmploymentCorporate    EmploymentType = "corporate"
)

// IsValid reports whether t is one of the known employment types.
func (t EmploymentType) IsValid() bool {
	switch t {
	case EmploymentSalaried, EmploymentSelfEmployed, EmploymentCorporate:
		return true
	}
	return false
}

// NormalizeEmploymentType maps common spellings onto the canonical values.
// Unknown values are returned lower-cased and will fail validation.
func NormalizeEmploymentType(s string) EmploymentType {
	n := strings.ToLower(strings.TrimSpace(s))
	n = strings.ReplaceAll(n, "_", "-")
	n = strings.ReplaceAll(n, " ", "-")

	switch n {
	case "salaried", "salarie", "salarié", "employee", "employed":
		return EmploymentSalaried
	case "self-employed", "selfemployed", "independant", "indépendant", "informal", "trader", "commercant", "commerçant":
		return EmploymentSelfEmployed
	case "corporate", "company", "entreprise", "business", "pme":
		return EmploymentCorporate
	}
	return EmploymentType(n)
}

// ClientProfile is the applicant as seen by the credit analysis.
// Identity fields are carried for persistence and reporting only.
type ClientProfile struct {
	FullName   string `json:"fullName,omitempty"`
	NationalID string `json:"nationalId,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Activity   string `json:"activity,omitempty"`

	MonthlyIncome  float64        `json:"monthlyIncome"`
	MonthlyCharges float64        `json:"monthlyCharges"`
	EmploymentType EmploymentType `json:"employmentType"`
	TenureMonths   int            `json:"tenureMonths"`
	Savings        *float64       `json:"savings,omitempty"`
}

// Validate checks the profile invariants.
func (c ClientProfile) Validate() error {
	if err := nonNegative("monthlyIncome", c.MonthlyIncome); err != nil {
		return err
	}
	if err := nonNegative("monthlyCharges", c.MonthlyCharges); err != nil {
		return err
	}
	if !NormalizeEmploymentType(string(c.EmploymentType)).IsValid() {
		return invalid("employmentType", "must be one of salaried, self-employed, corporate")
	}
	if c.TenureMonths < 0 {
		return invalid("tenureMonths", "must be >= 0")
	}
	if c.Savings != nil {
		if err := nonNegative("savings", *c.Savings); err != nil {
			return err
		}
	}
	return nil
}

// CreditRequest is the requested loan. MonthlyPayment is derived from the
// other fields and is never taken from the caller.
type CreditRequest struct {
	Product        string  `json:"product,omitempty"`
	Purpose        string  `json:"purpose,omitempty"`
	Principal      float64 `json:"principal"`
	TermMonths     int     `json:"termMonths"`
	DeferralMonths int     `json:"deferralMonths"`
	AnnualRate     float64 `json:"annualRate"` // percent, e.g. 18 for 18%
	MonthlyPayment float64 `json:"monthlyPayment"`
}

// Bounds on the credit terms accepted for analysis.
const (
	MaxTermMonths = 600
	MaxAnnualRate = 200 // percent
)

// NewCreditRequest validates the terms and computes the monthly payment.
func NewCreditRequest(principal float64, termMonths, deferralMonths int, annualRate float64) (CreditRequest, error) {
	c := CreditRequest{
		Principal:      principal,
		TermMonths:     termMonths,
		DeferralMonths: deferralMonths,
		AnnualRate:     annualRate,
	}
	if err := c.Validate(); err != nil {
		return CreditRequest{}, err
	}
	c.MonthlyPayment = MonthlyPayment(principal, annualRate, termMonths, deferralMonths)
	return c, nil
}

// Validate checks the credit invariants.
func (c CreditRequest) Validate() error {
	if !isFinite(c.Principal) || c.Principal <= 0 {
		return invalid("principal", "must be > 0")
	}
	if c.TermMonths <= 0 {
		return invalid("termMonths", "must be > 0")
	}
	if c.TermMonths > MaxTermMonths {
		return invalid("termMonths", fmt.Sprintf("must be <= %d", MaxTermMonths))
	}
	if c.DeferralMonths < 0 {
		return invalid("deferralMonths", "must be >= 0")
	}
	if c.DeferralMonths >= c.TermMonths {
		return invalid("deferralMonths", "must be < termMonths")
	}
	if err := nonNegative("annualRate", c.AnnualRate); err != nil {
		return err
	}
	if c.AnnualRate > MaxAnnualRate {
		return invalid("annualRate", fmt.Sprintf("must be <= %d", MaxAnnualRate))
	}
	return nil
}

// GuaranteeKind names the collateral type.
type GuaranteeKind string

const (
	GuaranteeRealEstate GuaranteeKind = "real_estate"
	GuaranteeVehicle    GuaranteeKind = "vehicle"
	GuaranteeDeposit    GuaranteeKind = "deposit"
	GuaranteeEquipment  GuaranteeKind = "equipment"
	GuaranteeSurety     GuaranteeKind = "personal_surety"
	GuaranteeOther      GuaranteeKind = "other"
)

// Guarantee is one piece of collateral offered for the credit.
type Guarantee struct {
	Kind           GuaranteeKind `json:"kind"`
	Description    string        `json:"description,omitempty"`
	EstimatedValue float64       `json:"estimatedValue"`
}

// NewGuarantee validates and returns a guarantee.
func NewGuarantee(kind GuaranteeKind, value float64) (Guarantee, error) {
	g := Guarantee{Kind: kind, EstimatedValue: value}
	if err := g.Validate(); err != nil {
		return Guarantee{}, err
	}
	return g, nil
}

// Validate checks the guarantee invariants.
func (g Guarantee) Validate() error {
	if strings.TrimSpace(string(g.Kind)) == "" {
		return invalid("kind", "is required")
	}
	return nonNegative("estimatedValue", g.EstimatedValue)
}

// CreditHistory summarises the applicant's existing commitments and
// repayment behaviour.
type CreditHistory struct {
	BankOutstanding         float64 `json:"bankOutstanding"`
	MicrofinanceOutstanding float64 `json:"microfinanceOutstanding"`
	CurrentArrears          float64 `json:"currentArrears"`
	MaxHistoricalDelayDays  int     `json:"maxHistoricalDelayDays"`
	RegularizationRate      float64 `json:"regularizationRate"` // 0..1
	ActiveCreditsCount      int     `json:"activeCreditsCount"`
}

// Validate checks the history invariants.
func (h CreditHistory) Validate() error {
	if err := nonNegative("bankOutstanding", h.BankOutstanding); err != nil {
		return err
	}
	if err := nonNegative("microfinanceOutstanding", h.MicrofinanceOutstanding); err != nil {
		return err
	}
	if err := nonNegative("currentArrears", h.CurrentArrears); err != nil {
		return err
	}
	if h.MaxHistoricalDelayDays < 0 {
		return invalid("maxHistoricalDelayDays", "must be >= 0")
	}
	if !isFinite(h.RegularizationRate) || h.RegularizationRate < 0 || h.RegularizationRate > 1 {
		return invalid("regularizationRate", "must be within [0,1]")
	}
	if h.ActiveCreditsCount < 0 {
		return invalid("activeCreditsCount", "must be >= 0")
	}
	return nil
}

// AnalysisRequest is the single payload consumed by an analysis.
// Policy carries optional threshold overrides; keys the classifier does not
// know are passed through untouched.
type AnalysisRequest struct {
	Client     ClientProfile  `json:"client"`
	Credit     CreditRequest  `json:"credit"`
	Guarantees []Guarantee    `json:"guarantees"`
	History    CreditHistory  `json:"history"`
	Policy     map[string]any `json:"policy,omitempty"`
}

// Prepare validates the request and returns an independent copy with the
// employment type normalised and the monthly payment computed.
func (r AnalysisRequest) Prepare() (AnalysisRequest, error) {
	if err := prefixed("client", r.Client.Validate()); err != nil {
		return AnalysisRequest{}, err
	}
	if err := prefixed("credit", r.Credit.Validate()); err != nil {
		return AnalysisRequest{}, err
	}
	for i, g := range r.Guarantees {
		if err := prefixed(fmt.Sprintf("guarantees[%d]", i), g.Validate()); err != nil {
			return AnalysisRequest{}, err
		}
	}
	if err := prefixed("history", r.History.Validate()); err != nil {
		return AnalysisRequest{}, err
	}

	out := r
	out.Client.EmploymentType = NormalizeEmploymentType(string(r.Client.EmploymentType))
	if r.Client.Savings != nil {
		s := *r.Client.Savings
		out.Client.Savings = &s
	}
	out.Credit.MonthlyPayment = MonthlyPayment(r.Credit.Principal, r.Credit.AnnualRate, r.Credit.TermMonths, r.Credit.DeferralMonths)
	out.Guarantees = append([]Guarantee(nil), r.Guarantees...)
	if r.Policy != nil {
		out.Policy = make(map[string]any, len(r.Policy))
		for k, v := range r.Policy {
			out.Policy[k] = v
		}
	}
	return out, nil
}

// DossierStatus is the lifecycle state of a credit application.
type DossierStatus string

const (
	StatusSubmitted   DossierStatus = "submitted"
	StatusUnderReview DossierStatus = "under_review"
	StatusTransmitted DossierStatus = "transmitted"
	StatusClassified  DossierStatus = "classified"
)

var dossierTransitions = map[DossierStatus][]DossierStatus{
	StatusSubmitted:   {StatusUnderReview, StatusClassified},
	StatusUnderReview: {StatusTransmitted, StatusClassified},
	StatusTransmitted: {StatusClassified},
	StatusClassified:  {StatusUnderReview},
}

// IsValid reports whether s is a known status.
func (s DossierStatus) IsValid() bool {
	_, ok := dossierTransitions[s]
	return ok
}

// CanTransitionTo reports whether the lifecycle allows s -> next.
func (s DossierStatus) CanTransitionTo(next DossierStatus) bool {
	for _, allowed := range dossierTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Dossier is a persisted credit application.
type Dossier struct {
	ID        string          `json:"id"`
	TenantID  string          `json:"tenantId"`
	Reference string          `json:"reference,omitempty"`
	Officer   string          `json:"officer,omitempty"`
	Status    DossierStatus   `json:"status"`
	Request   AnalysisRequest `json:"request"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

func nonNegative(field string, v float64) error {
	if !isFinite(v) || v < 0 {
		return invalid(field, "must be >= 0")
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// prefixed qualifies the field of an InvalidInputError with its parent path.
func prefixed(prefix string, err error) error {
	if err == nil {
		return nil
	}
	if ie, ok := err.(*InvalidInputError); ok {
		return &InvalidInputError{Field: prefix + "." + ie.Field, Reason: ie.Reason}
	}
	return err
}
