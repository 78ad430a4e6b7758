// Package ratios derives the capacity, leverage and coverage ratios of a
// credit application.
package ratios

import (
	"github.com/shopspring/decimal"

	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/domain"
)

// Compute derives the ratio set from validated inputs. It never fails:
// a ratio whose denominator is <= 0 is reported as 0.
//
// The monthly payment of credit is used as given when positive, otherwise
// it is computed from the credit terms.
func Compute(client domain.ClientProfile, credit domain.CreditRequest, guarantees []domain.Guarantee, history domain.CreditHistory) domain.RatioSet {
	payment := credit.MonthlyPayment
	if payment <= 0 {
		payment = domain.MonthlyPayment(credit.Principal, credit.AnnualRate, credit.TermMonths, credit.DeferralMonths)
	}

	income := decimal.NewFromFloat(client.MonthlyIncome)
	capacity := income.Sub(decimal.NewFromFloat(client.MonthlyCharges))

	totalGuarantees := decimal.Zero
	for _, g := range guarantees {
		totalGuarantees = totalGuarantees.Add(decimal.NewFromFloat(g.EstimatedValue))
	}

	outstanding := decimal.NewFromFloat(history.BankOutstanding).
		Add(decimal.NewFromFloat(history.MicrofinanceOutstanding))

	return domain.RatioSet{
		RepaymentCapacity: capacity.InexactFloat64(),
		DebtServiceRatio:  percentOf(decimal.NewFromFloat(payment), capacity),
		GuaranteeCoverage: percentOf(totalGuarantees, decimal.NewFromFloat(credit.Principal)),
		ExposureRatio:     ratio(outstanding, income.Mul(decimal.NewFromInt(12))),
		MonthlyPayment:    payment,
		TotalGuarantees:   totalGuarantees.InexactFloat64(),
		TotalOutstanding:  outstanding.InexactFloat64(),
	}
}

// FromRequest computes the ratios of a prepared analysis request.
func FromRequest(req domain.AnalysisRequest) domain.RatioSet {
	return Compute(req.Client, req.Credit, req.Guarantees, req.History)
}

// Signals extracts the historical signals used by the classifier.
func Signals(history domain.CreditHistory) domain.Signals {
	return domain.Signals{
		CurrentArrears:         history.CurrentArrears,
		MaxHistoricalDelayDays: history.MaxHistoricalDelayDays,
		RegularizationRate:     history.RegularizationRate,
	}
}

func percentOf(num, den decimal.Decimal) float64 {
	if !den.IsPositive() {
		return 0
	}
	return num.Mul(decimal.NewFromInt(100)).DivRound(den, 4).InexactFloat64()
}

func ratio(num, den decimal.Decimal) float64 {
	if !den.IsPositive() {
		return 0
	}
	return num.DivRound(den, 6).InexactFloat64()
}
