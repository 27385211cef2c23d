package service

import (
	"math"

	"github.com/triage-review-server/internal/domain"
)

// Alert labels, listed in the order ClassifyRisk reports them
const (
	AlertPregnancy    = "Pregnancy/Breastfeeding"
	AlertMalignancy   = "Active Malignancy"
	AlertPancreatitis = "History of Pancreatitis"
	AlertInsulin      = "Insulin Use"
)

type riskRule struct {
	label   string
	applies func(domain.ClinicalAnswers) bool
}

// riskRules is evaluated top to bottom; the order is part of the output contract.
var riskRules = []riskRule{
	{AlertPregnancy, func(a domain.ClinicalAnswers) bool { return a.IsPregnant }},
	{AlertMalignancy, func(a domain.ClinicalAnswers) bool { return a.HasActiveMalignancy }},
	{AlertPancreatitis, func(a domain.ClinicalAnswers) bool { return a.HasPancreatitis }},
	{AlertInsulin, func(a domain.ClinicalAnswers) bool { return a.UsesInsulin }},
}

// ClassifyRisk maps intake answers to a risk classification. The patient is
// high risk iff at least one alert applies. Alerts is never nil.
func ClassifyRisk(answers domain.ClinicalAnswers) domain.RiskClassification {
	alerts := make([]string, 0, len(riskRules))
	for _, rule := range riskRules {
		if rule.applies(answers) {
			alerts = append(alerts, rule.label)
		}
	}
	return domain.RiskClassification{
		IsHighRisk: len(alerts) > 0,
		Alerts:     alerts,
	}
}

// CalculateBMI returns kg/m² rounded to one decimal. Non-positive inputs yield 0.
func CalculateBMI(weightKg, heightCm float64) float64 {
	if weightKg <= 0 || heightCm <= 0 {
		return 0
	}
	meters := heightCm / 100
	return math.Round(weightKg/(meters*meters)*10) / 10
}
