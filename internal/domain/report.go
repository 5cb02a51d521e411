package domain

import "time"

// AuditReport bundles everything the document renderer needs.
type AuditReport struct {
	ID          string              `json:"id"`
	SessionID   string              `json:"sessionId"`
	GeneratedAt time.Time           `json:"generatedAt"`
	StepRange   StepRange           `json:"stepRange"`
	Incidents   []ScoredTransaction `json:"incidents"`
	Performance PerformanceReport   `json:"performance"`
	Comparison  Comparison          `json:"comparison"`
	Liquidation LiquidationCheck    `json:"liquidation"`

	// Benford is optional; nil when the range was not digit-checked.
	Benford *BenfordResult `json:"benford,omitempty"`
}

// AuditResult is the outcome of an explicit forensic audit over a range.
type AuditResult struct {
	StepRange    StepRange         `json:"stepRange"`
	Performance  PerformanceReport `json:"performance"`
	Comparison   Comparison        `json:"comparison"`
	Liquidation  LiquidationCheck  `json:"liquidation"`
	Benford      BenfordResult     `json:"benford"`
	CompletedAt  time.Time         `json:"completedAt"`
	DurationMs   int64             `json:"durationMs"`
	Transactions int               `json:"transactions"`
}
