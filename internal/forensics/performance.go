package forensics

import "github.com/opensource-finance/sentinel/internal/domain"

// HighConfidenceMinScore is the score floor of the high_confidence policy.
const HighConfidenceMinScore = 55

// Policy decides whether a scored row raises an alert.
type Policy func(domain.RiskAssessment) bool

// Standard alerts on MEDIUM and HIGH.
func Standard(a domain.RiskAssessment) bool {
	return a.Level == domain.RiskMedium || a.Level == domain.RiskHigh
}

// HighConfidence alerts on HIGH rows scoring at least HighConfidenceMinScore.
// Its alerts are always a subset of Standard's.
func HighConfidence(a domain.RiskAssessment) bool {
	return a.Level == domain.RiskHigh && a.Score >= HighConfidenceMinScore
}

// PolicyByName resolves a policy from its report name.
func PolicyByName(name string) (Policy, bool) {
	switch name {
	case domain.PolicyStandard:
		return Standard, true
	case domain.PolicyHighConfidence:
		return HighConfidence, true
	}
	return nil, false
}

// Measure computes the confusion-matrix metrics of one policy over scored rows.
func Measure(rows []domain.ScoredTransaction, policy Policy) domain.PolicyMetrics {
	var m domain.PolicyMetrics
	for _, r := range rows {
		alert := policy(r.Risk)
		switch {
		case alert && r.IsFraud:
			m.TruePositives++
		case alert:
			m.FalsePositives++
		case r.IsFraud:
			m.FalseNegatives++
		}
	}
	m.Recall = ratio(m.TruePositives, m.TruePositives+m.FalseNegatives)
	m.Precision = ratio(m.TruePositives, m.TruePositives+m.FalsePositives)
	return m
}

// Evaluate measures both policies over the same scored dataset.
func Evaluate(rows []domain.ScoredTransaction) domain.PerformanceReport {
	return domain.PerformanceReport{
		Standard:       Measure(rows, Standard),
		HighConfidence: Measure(rows, HighConfidence),
		TotalCount:     len(rows),
	}
}

// Compare quantifies what switching from standard to high_confidence
// alerting saves in review load and costs in missed fraud.
func Compare(r domain.PerformanceReport) domain.Comparison {
	s, h := r.Standard, r.HighConfidence
	c := domain.Comparison{
		AlertsStandard:       s.Alerts(),
		AlertsHighConfidence: h.Alerts(),
		AlertsSaved:          s.Alerts() - h.Alerts(),
		RecallLoss:           s.Recall - h.Recall,
		MissedFraud:          s.TruePositives - h.TruePositives,
	}
	if c.AlertsStandard > 0 {
		c.ReductionPct = float64(c.AlertsSaved) / float64(c.AlertsStandard) * 100
	}
	return c
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
