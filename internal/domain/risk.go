package domain

import "strings"

// RiskLevel is the three-tier classification derived from a risk score.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// Flag names a rule that fired for a transaction.
type Flag string

const (
	FlagHighAmount             Flag = "HIGH_AMOUNT"
	FlagFullBalanceTransfer    Flag = "FULL_BALANCE_TRANSFER"
	FlagIntegrityError         Flag = "INTEGRITY_ERROR"
	FlagZeroBalanceDestination Flag = "ZERO_BALANCE_DESTINATION"
)

// FlagClean is displayed when no rule fired.
const FlagClean = "CLEAN"

// RiskAssessment is the scorer's verdict for a single transaction.
type RiskAssessment struct {
	Score int       `json:"risk_score"`
	Level RiskLevel `json:"risk_level"`
	Flags []Flag    `json:"flags"`
}

// FlagString joins the fired flags for display, or returns CLEAN.
func (a RiskAssessment) FlagString() string {
	if len(a.Flags) == 0 {
		return FlagClean
	}
	parts := make([]string, len(a.Flags))
	for i, f := range a.Flags {
		parts[i] = string(f)
	}
	return strings.Join(parts, ", ")
}

// Has reports whether the given flag fired.
func (a RiskAssessment) Has(flag Flag) bool {
	for _, f := range a.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// ScoredTransaction is a ledger row augmented with its risk assessment.
type ScoredTransaction struct {
	Transaction
	Risk RiskAssessment `json:"risk"`
}

// RowKey identifies a scored row by its full content.
type RowKey struct {
	Tx    Transaction
	Score int
	Level RiskLevel
	Flags string
}

// Key returns the full-row identity used for deduplication.
func (s ScoredTransaction) Key() RowKey {
	return RowKey{
		Tx:    s.Transaction,
		Score: s.Risk.Score,
		Level: s.Risk.Level,
		Flags: s.Risk.FlagString(),
	}
}

// ScoredBatch is a batch after it has passed through the processor.
type ScoredBatch struct {
	Tick int                 `json:"tick"`
	Seq  int                 `json:"seq"`
	Rows []ScoredTransaction `json:"rows"`
}

// HighRisk returns the rows classified HIGH, in input order.
func (b ScoredBatch) HighRisk() []ScoredTransaction {
	var out []ScoredTransaction
	for _, r := range b.Rows {
		if r.Risk.Level == RiskHigh {
			out = append(out, r)
		}
	}
	return out
}
