package domain

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Installment is one period of a repayment schedule.
type Installment struct {
	Period           int       `json:"period"`
	DueDate          time.Time `json:"dueDate"`
	Principal        float64   `json:"principal"`
	Interest         float64   `json:"interest"`
	Total            float64   `json:"total"`
	RemainingBalance float64   `json:"remainingBalance"`
	Deferred         bool      `json:"deferred,omitempty"`
}

// MonthlyPayment returns the constant installment paid once the deferral
// period is over:
//
//	r       = annualRatePct / 100 / 12
//	n       = termMonths - deferralMonths
//	payment = P * r * (1+r)^n / ((1+r)^n - 1)
//
// A zero rate, or one too small to move (1+r)^n, splits the principal
// evenly. The result is rounded to two decimals. Degenerate terms and
// payments that do not fit a float64 yield 0.
func MonthlyPayment(principal, annualRatePct float64, termMonths, deferralMonths int) float64 {
	n := termMonths - deferralMonths
	if n <= 0 || !(principal > 0) || math.IsInf(principal, 1) {
		return 0
	}

	p := decimal.NewFromFloat(principal)
	r := monthlyRate(annualRatePct)
	if r == 0 {
		return p.Div(decimal.NewFromInt(int64(n))).Round(2).InexactFloat64()
	}

	factor := math.Pow(1+r, float64(n))
	if factor-1 <= 0 {
		return p.Div(decimal.NewFromInt(int64(n))).Round(2).InexactFloat64()
	}

	// r*f/(f-1) tends to r as f grows.
	k := r
	if !math.IsInf(factor, 1) {
		k = r * factor / (factor - 1)
	}
	payment := principal * k
	if math.IsNaN(payment) || math.IsInf(payment, 0) {
		return 0
	}
	return decimal.NewFromFloat(payment).Round(2).InexactFloat64()
}

// InterestOnlyPayment is the amount due for each month of the deferral.
func InterestOnlyPayment(principal, annualRatePct float64) float64 {
	if !isFinite(principal) || !isFinite(annualRatePct) {
		return 0
	}
	r := decimal.NewFromFloat(monthlyRate(annualRatePct))
	return decimal.NewFromFloat(principal).Mul(r).Round(2).InexactFloat64()
}

// Schedule builds the full repayment schedule of c, first due date one
// month after start. Deferral periods pay interest only.
func Schedule(c CreditRequest, start time.Time) []Installment {
	if c.Validate() != nil {
		return nil
	}

	remaining := decimal.NewFromFloat(c.Principal)
	rate := decimal.NewFromFloat(monthlyRate(c.AnnualRate))
	payment := decimal.NewFromFloat(MonthlyPayment(c.Principal, c.AnnualRate, c.TermMonths, c.DeferralMonths))

	schedule := make([]Installment, 0, c.TermMonths)
	for period := 1; period <= c.TermMonths; period++ {
		interest := remaining.Mul(rate).Round(2)

		var principalPart decimal.Decimal
		deferred := period <= c.DeferralMonths
		switch {
		case deferred:
			principalPart = decimal.Zero
		case period == c.TermMonths:
			// last period absorbs rounding drift
			principalPart = remaining
		default:
			principalPart = payment.Sub(interest)
		}

		remaining = remaining.Sub(principalPart)
		if remaining.IsNegative() {
			remaining = decimal.Zero
		}

		schedule = append(schedule, Installment{
			Period:           period,
			DueDate:          start.AddDate(0, period, 0),
			Principal:        principalPart.InexactFloat64(),
			Interest:         interest.InexactFloat64(),
			Total:            principalPart.Add(interest).InexactFloat64(),
			RemainingBalance: remaining.InexactFloat64(),
			Deferred:         deferred,
		})
	}

	return schedule
}

func monthlyRate(annualRatePct float64) float64 {
	return annualRatePct / 100 / 12
}
