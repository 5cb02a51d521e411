// Package forensics computes whole-range audit statistics: the Benford
// first-digit check, detector quality for the alerting policies, and the
// full-liquidation rule validation.
package forensics

import (
	"math"
	"strconv"

	"github.com/opensource-finance/sentinel/internal/domain"
)

// Deviation bands for the Benford check. These are fixed design values for a
// descriptive heuristic, not significance levels.
const (
	BenfordConformant = 0.02
	BenfordMild       = 0.05
)

// Interpretation messages.
const (
	MessageConformant = "Amounts conform to Benford's law: no manipulation signal."
	MessageMild       = "Mild deviation from Benford's law: investigate business-process explanations."
	MessageSevere     = "Severe anomaly against Benford's law: strong manipulation signal."
)

// expected holds log10(1 + 1/d) for d = 1..9 at index d-1.
var expected = func() [9]float64 {
	var e [9]float64
	for d := 1; d <= 9; d++ {
		e[d-1] = math.Log10(1 + 1/float64(d))
	}
	return e
}()

// ExpectedFrequency returns the theoretical share of leading digit d.
func ExpectedFrequency(d int) float64 {
	if d < 1 || d > 9 {
		return 0
	}
	return expected[d-1]
}

// LeadingDigit returns the first significant decimal digit of v.
// ok is false for values <= 0, NaN and infinities.
func LeadingDigit(v float64) (digit int, ok bool) {
	if !(v > 0) || math.IsInf(v, 0) {
		return 0, false
	}
	// Scientific notation always starts with the leading significant digit.
	s := strconv.FormatFloat(v, 'e', -1, 64)
	return int(s[0] - '0'), true
}

// Table is the nine-row Benford comparison.
type Table struct {
	Rows    [9]domain.BenfordRow
	Samples int
}

// NewTable builds the observed-vs-expected table for amounts.
// Non-positive values are excluded; with no samples every observed
// frequency is zero.
func NewTable(amounts []float64) Table {
	var counts [9]int
	var t Table
	for _, v := range amounts {
		d, ok := LeadingDigit(v)
		if !ok {
			continue
		}
		counts[d-1]++
		t.Samples++
	}

	for i := range t.Rows {
		var observed float64
		if t.Samples > 0 {
			observed = float64(counts[i]) / float64(t.Samples)
		}
		t.Rows[i] = domain.BenfordRow{
			Digit:     i + 1,
			Observed:  observed,
			Expected:  expected[i],
			Deviation: math.Abs(observed - expected[i]),
		}
	}
	return t
}

// MeanAbsoluteDeviation averages the per-digit deviations.
func (t Table) MeanAbsoluteDeviation() float64 {
	var sum float64
	for _, r := range t.Rows {
		sum += r.Deviation
	}
	return sum / float64(len(t.Rows))
}

// Interpret maps a mean absolute deviation to a message and severity tag.
func Interpret(mad float64) (message, severity string) {
	switch {
	case mad < BenfordConformant:
		return MessageConformant, domain.SeveritySuccess
	case mad < BenfordMild:
		return MessageMild, domain.SeverityWarning
	default:
		return MessageSevere, domain.SeverityError
	}
}

// Benford runs the full digit-distribution check over amounts.
func Benford(amounts []float64) domain.BenfordResult {
	t := NewTable(amounts)
	mad := t.MeanAbsoluteDeviation()
	msg, sev := Interpret(mad)
	return domain.BenfordResult{
		Rows:          t.Rows[:],
		Samples:       t.Samples,
		MeanDeviation: mad,
		Message:       msg,
		Severity:      sev,
	}
}

// Amounts extracts the amount column.
func Amounts(txs []domain.Transaction) []float64 {
	out := make([]float64, len(txs))
	for i, tx := range txs {
		out[i] = tx.Amount
	}
	return out
}
