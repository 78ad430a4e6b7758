package ratios

import (
	"math"
	"testing"

	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/domain"
)

func TestCompute(t *testing.T) {
	t.Run("WorkedExample", func(t *testing.T) {
		client := domain.ClientProfile{MonthlyIncome: 500000, MonthlyCharges: 200000, EmploymentType: domain.EmploymentSalaried}
		credit := domain.CreditRequest{Principal: 1000000, TermMonths: 12, MonthlyPayment: 150000}
		guarantees := []domain.Guarantee{{Kind: domain.GuaranteeRealEstate, EstimatedValue: 600000}}
		history := domain.CreditHistory{RegularizationRate: 0.9, MaxHistoricalDelayDays: 10}

		r := Compute(client, credit, guarantees, history)

		if r.RepaymentCapacity != 300000 {
			t.Errorf("expected capacity 300000, got %v", r.RepaymentCapacity)
		}
		if r.DebtServiceRatio != 50 {
			t.Errorf("expected debt service ratio 50, got %v", r.DebtServiceRatio)
		}
		if r.GuaranteeCoverage != 60 {
			t.Errorf("expected coverage 60, got %v", r.GuaranteeCoverage)
		}
		if r.ExposureRatio != 0 {
			t.Errorf("expected exposure 0, got %v", r.ExposureRatio)
		}
		if r.MonthlyPayment != 150000 {
			t.Errorf("expected payment 150000 as given, got %v", r.MonthlyPayment)
		}
	})

	t.Run("Exposure", func(t *testing.T) {
		client := domain.ClientProfile{MonthlyIncome: 100000}
		credit := domain.CreditRequest{Principal: 500000, TermMonths: 10, MonthlyPayment: 50000}
		history := domain.CreditHistory{BankOutstanding: 400000, MicrofinanceOutstanding: 200000}

		r := Compute(client, credit, nil, history)

		// 600000 / (100000 * 12)
		if r.ExposureRatio != 0.5 {
			t.Errorf("expected exposure 0.5, got %v", r.ExposureRatio)
		}
		if r.TotalOutstanding != 600000 {
			t.Errorf("expected outstanding 600000, got %v", r.TotalOutstanding)
		}
	})

	t.Run("ZeroDenominators", func(t *testing.T) {
		tests := []struct {
			name   string
			client domain.ClientProfile
		}{
			{"NoIncome", domain.ClientProfile{MonthlyIncome: 0, MonthlyCharges: 0}},
			{"ChargesEqualIncome", domain.ClientProfile{MonthlyIncome: 200000, MonthlyCharges: 200000}},
			{"ChargesAboveIncome", domain.ClientProfile{MonthlyIncome: 100000, MonthlyCharges: 250000}},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				credit := domain.CreditRequest{Principal: 1000000, TermMonths: 12, MonthlyPayment: 90000}
				history := domain.CreditHistory{BankOutstanding: 300000}

				r := Compute(tt.client, credit, nil, history)

				if r.DebtServiceRatio != 0 {
					t.Errorf("expected debt service ratio 0, got %v", r.DebtServiceRatio)
				}
				if math.IsNaN(r.ExposureRatio) || math.IsInf(r.ExposureRatio, 0) || r.ExposureRatio < 0 {
					t.Errorf("exposure must be finite and non-negative, got %v", r.ExposureRatio)
				}
				if tt.client.MonthlyIncome == 0 && r.ExposureRatio != 0 {
					t.Errorf("expected exposure 0 without income, got %v", r.ExposureRatio)
				}
			})
		}
	})

	t.Run("EmptyGuarantees", func(t *testing.T) {
		client := domain.ClientProfile{MonthlyIncome: 500000, MonthlyCharges: 100000}
		credit := domain.CreditRequest{Principal: 1000000, TermMonths: 12, MonthlyPayment: 90000}

		r := Compute(client, credit, []domain.Guarantee{}, domain.CreditHistory{})
		if r.GuaranteeCoverage != 0 || r.TotalGuarantees != 0 {
			t.Errorf("expected zero coverage, got %v / %v", r.GuaranteeCoverage, r.TotalGuarantees)
		}
	})

	t.Run("ComputesPaymentWhenMissing", func(t *testing.T) {
		client := domain.ClientProfile{MonthlyIncome: 500000, MonthlyCharges: 200000}
		credit := domain.CreditRequest{Principal: 1200000, TermMonths: 12}

		r := Compute(client, credit, nil, domain.CreditHistory{})
		if r.MonthlyPayment != 100000 {
			t.Errorf("expected payment 100000, got %v", r.MonthlyPayment)
		}
		if math.Abs(r.DebtServiceRatio-33.3333) > 0.0001 {
			t.Errorf("expected debt service ratio ~33.3333, got %v", r.DebtServiceRatio)
		}
	})

	t.Run("Idempotent", func(t *testing.T) {
		client := domain.ClientProfile{MonthlyIncome: 437123.17, MonthlyCharges: 98765.43}
		credit := domain.CreditRequest{Principal: 2750000, TermMonths: 18, DeferralMonths: 3, AnnualRate: 21.5}
		guarantees := []domain.Guarantee{{EstimatedValue: 1000000.5}, {EstimatedValue: 333333.33}}
		history := domain.CreditHistory{BankOutstanding: 120000, MicrofinanceOutstanding: 45000.75}

		a := Compute(client, credit, guarantees, history)
		b := Compute(client, credit, guarantees, history)
		if a != b {
			t.Errorf("expected identical results, got %+v and %+v", a, b)
		}
	})
}

func TestSignals(t *testing.T) {
	s := Signals(domain.CreditHistory{CurrentArrears: 5, MaxHistoricalDelayDays: 30, RegularizationRate: 0.75})
	if s.CurrentArrears != 5 || s.MaxHistoricalDelayDays != 30 || s.RegularizationRate != 0.75 {
		t.Errorf("unexpected signals %+v", s)
	}
}
