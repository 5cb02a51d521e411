package domain

// Alerting policy names.
const (
	PolicyStandard       = "standard"
	PolicyHighConfidence = "high_confidence"
)

// PolicyMetrics is the confusion-matrix summary of one alerting policy.
type PolicyMetrics struct {
	TruePositives  int     `json:"tp"`
	FalsePositives int     `json:"fp"`
	FalseNegatives int     `json:"fn"`
	Recall         float64 `json:"recall"`
	Precision      float64 `json:"precision"`
}

// Alerts returns the number of alerts the policy raised.
func (m PolicyMetrics) Alerts() int {
	return m.TruePositives + m.FalsePositives
}

// PerformanceReport compares both policies over the same scored dataset.
type PerformanceReport struct {
	Standard       PolicyMetrics `json:"standard"`
	HighConfidence PolicyMetrics `json:"high_confidence"`
	TotalCount     int           `json:"total_count"`
}

// Comparison quantifies what tightening the alert mask costs and saves.
type Comparison struct {
	AlertsStandard       int     `json:"alerts_standard"`
	AlertsHighConfidence int     `json:"alerts_high_confidence"`
	AlertsSaved          int     `json:"alerts_saved"`
	ReductionPct         float64 `json:"reduction_pct"`
	RecallLoss           float64 `json:"recall_loss"`
	MissedFraud          int     `json:"missed_fraud"`
}

// LiquidationCheck validates the full-liquidation rule against ground truth.
type LiquidationCheck struct {
	Matches        int     `json:"matches"`
	TruePositives  int     `json:"tp_count"`
	FalsePositives int     `json:"fp_count"`
	TotalFraud     int     `json:"total_fraud"`
	CoveragePct    float64 `json:"coverage"`
}

// BenfordRow compares observed and theoretical frequency of one leading digit.
type BenfordRow struct {
	Digit     int     `json:"digit"`
	Observed  float64 `json:"observed"`
	Expected  float64 `json:"expected"`
	Deviation float64 `json:"deviation"`
}

// Severity tags for interpretation messages.
const (
	SeveritySuccess = "success"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// BenfordResult is the Benford table plus its interpretation.
type BenfordResult struct {
	Rows          []BenfordRow `json:"rows"`
	Samples       int          `json:"samples"`
	MeanDeviation float64      `json:"mean_deviation"`
	Message       string       `json:"message"`
	Severity      string       `json:"severity"`
}
