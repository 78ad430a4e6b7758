package rules

import "github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/domain"

// BuiltinRules returns the standard microfinance eligibility rules.
// They are only loaded when seeding is enabled; otherwise rules are
// configured through the API.
func BuiltinRules() []*domain.RuleConfig {
	zero, half, one := 0.0, 0.5, 1.0

	passReviewFail := func(pass, review, fail string) []domain.RuleBand {
		return []domain.RuleBand{
			{Min: &zero, Max: &half, Outcome: domain.RuleOutcomePass, Reason: pass},
			{Min: &half, Max: &one, Outcome: domain.RuleOutcomeReview, Reason: review},
			{Min: &one, Outcome: domain.RuleOutcomeFail, Reason: fail},
		}
	}

	return []*domain.RuleConfig{
		{
			ID:          "active-credits-001",
			TenantID:    domain.AllTenants,
			Name:        "Crédits actifs",
			Description: "Limite le nombre de crédits en cours auprès d'autres établissements",
			Version:     "1.0.0",
			Expression:  "active_credits > 3 ? 1.0 : (active_credits > 1 ? 0.5 : 0.0)",
			Bands:       passReviewFail("nombre de crédits actifs acceptable", "plusieurs crédits actifs", "trop de crédits actifs"),
			Weight:      1.0,
			Enabled:     true,
		},
		{
			ID:          "tenure-001",
			TenantID:    domain.AllTenants,
			Name:        "Ancienneté",
			Description: "Vérifie l'ancienneté dans l'activité ou l'emploi",
			Version:     "1.0.0",
			Expression:  "tenure_months < 6 ? 1.0 : (tenure_months < 12 ? 0.5 : 0.0)",
			Bands:       passReviewFail("ancienneté suffisante", "ancienneté courte", "ancienneté inférieure à 6 mois"),
			Weight:      0.8,
			Enabled:     true,
		},
		{
			ID:          "deferral-001",
			TenantID:    domain.AllTenants,
			Name:        "Différé",
			Description: "Contrôle la part du différé dans la durée du crédit",
			Version:     "1.0.0",
			Expression:  "deferral_months * 3 > term_months ? 0.5 : 0.0",
			Bands:       passReviewFail("différé raisonnable", "différé supérieur au tiers de la durée", "différé excessif"),
			Weight:      0.5,
			Enabled:     true,
		},
		{
			ID:          "savings-001",
			TenantID:    domain.AllTenants,
			Name:        "Épargne préalable",
			Description: "Attend une épargne d'au moins 10% du montant demandé",
			Version:     "1.0.0",
			Expression:  "has_savings && savings >= principal * 0.1 ? 0.0 : 0.5",
			Bands:       passReviewFail("épargne préalable constituée", "épargne préalable insuffisante", "épargne préalable absente"),
			Weight:      0.5,
			Enabled:     true,
		},
		{
			ID:          "reanalysis-001",
			TenantID:    domain.AllTenants,
			Name:        "Réanalyses répétées",
			Description: "Signale un dossier analysé de nombreuses fois",
			Version:     "1.0.0",
			Expression:  "prior_analyses >= 5 ? 0.5 : 0.0",
			Bands:       passReviewFail("historique d'analyse normal", "dossier réanalysé à plusieurs reprises", "dossier réanalysé à plusieurs reprises"),
			Weight:      0.3,
			Enabled:     true,
		},
	}
}
