package report

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"unicode/utf8"

	"github.com/opensource-finance/sentinel/internal/domain"
	"github.com/shopspring/decimal"
)

// ErrUnsupportedCharacter is returned by a strict TextRenderer for input it
// cannot encode.
var ErrUnsupportedCharacter = errors.New("unsupported character")

// maxFlagsWidth truncates the flags column of the incident table.
const maxFlagsWidth = 60

// TextRenderer writes a plain ASCII audit document.
type TextRenderer struct {
	// Strict rejects non-ASCII text instead of dropping it.
	Strict bool
}

// ContentType implements Renderer.
func (TextRenderer) ContentType() string {
	return "text/plain; charset=us-ascii"
}

// Render implements Renderer.
func (t TextRenderer) Render(w io.Writer, r *domain.AuditReport) error {
	p := &printer{w: w, strict: t.Strict}

	p.line("COMPLIANCE AUDIT REPORT")
	p.line("Report ID: %s", r.ID)
	p.line("Generated: %s", r.GeneratedAt.Format("2006-01-02 15:04:05 MST"))
	p.line("Period: step %d to %d", r.StepRange.From, r.StepRange.To)
	p.line("")

	liq := r.Liquidation
	p.line("1. VALIDATION: FULL-LIQUIDATION RULE")
	p.line("- Isolated fraud cases: %s", groupInt(liq.TruePositives))
	p.line("- False alarms: %s", groupInt(liq.FalsePositives))
	p.line("- Coverage: %.1f%% of all fraud in the period", liq.CoveragePct)
	p.line("- Base: %s fraud cases in total", groupInt(liq.TotalFraud))
	p.line("")

	s, h, c := r.Performance.Standard, r.Performance.HighConfidence, r.Comparison
	p.line("2. SCENARIO COMPARISON")
	p.line("- Evaluated transactions: %s", groupInt(r.Performance.TotalCount))
	p.line("- Scenario A (%s): %.1f%% precision | %.1f%% recall | %s frauds",
		domain.PolicyStandard, s.Precision*100, s.Recall*100, groupInt(s.TruePositives))
	p.line("- Scenario B (%s): %.1f%% precision | %.1f%% recall | %s frauds",
		domain.PolicyHighConfidence, h.Precision*100, h.Recall*100, groupInt(h.TruePositives))
	p.line("-> Risk note: scenario B misses %s cases compared to scenario A.", groupInt(c.MissedFraud))
	p.line("-> Efficiency gain: %.1f%% less review effort (-%s alerts)", c.ReductionPct, groupInt(c.AlertsSaved))
	p.line("")

	section := 3
	if r.Benford != nil {
		p.line("%d. BENFORD FIRST-DIGIT CHECK", section)
		p.line("- Samples: %s, mean absolute deviation %.4f [%s]",
			groupInt(r.Benford.Samples), r.Benford.MeanDeviation, r.Benford.Severity)
		p.line("- %s", r.Benford.Message)
		p.table([]string{"Digit", "Observed", "Expected", "Deviation"}, func(row func(...string)) {
			for _, b := range r.Benford.Rows {
				row(fmt.Sprint(b.Digit),
					fmt.Sprintf("%.4f", b.Observed),
					fmt.Sprintf("%.4f", b.Expected),
					fmt.Sprintf("%.4f", b.Deviation))
			}
		})
		p.line("")
		section++
	}

	p.line("%d. LIVE INCIDENTS (AUDIT LOG)", section)
	if len(r.Incidents) == 0 {
		p.line("No live incidents recorded.")
		return p.err
	}
	p.table([]string{"Step", "Type", "Amount", "Risk-Level", "Flags"}, func(row func(...string)) {
		for _, e := range r.Incidents {
			row(fmt.Sprint(e.Step),
				string(e.Type),
				formatAmount(e.Amount),
				string(e.Risk.Level),
				truncate(e.Risk.FlagString(), maxFlagsWidth))
		}
	})
	return p.err
}

// printer accumulates the first write error so Render reads top to bottom.
type printer struct {
	w      io.Writer
	strict bool
	err    error
}

func (p *printer) line(format string, args ...any) {
	p.write(p.w, fmt.Sprintf(format, args...)+"\n")
}

func (p *printer) write(w io.Writer, s string) {
	if p.err != nil {
		return
	}
	clean, ok := asciiOnly(s)
	if !ok && p.strict {
		p.err = fmt.Errorf("%w in %q", ErrUnsupportedCharacter, strings.TrimSpace(s))
		return
	}
	_, p.err = io.WriteString(w, clean)
}

func (p *printer) table(header []string, rows func(row func(...string))) {
	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	emit := func(cols ...string) {
		p.write(tw, strings.Join(cols, "\t")+"\n")
	}
	emit(header...)
	rows(emit)
	if p.err == nil {
		p.err = tw.Flush()
	}
}

// asciiOnly drops every rune outside 7-bit ASCII. ok is false when
// something was dropped.
func asciiOnly(s string) (string, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			var b strings.Builder
			b.Grow(len(s))
			for _, r := range s {
				if r < utf8.RuneSelf {
					b.WriteRune(r)
				}
			}
			return b.String(), false
		}
	}
	return s, true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// formatAmount renders a money amount with two decimals and thousands
// separators, e.g. 1,234,567.89.
func formatAmount(v float64) string {
	fixed := decimal.NewFromFloat(v).StringFixed(2)
	intPart, frac, _ := strings.Cut(fixed, ".")
	return groupDigits(intPart) + "." + frac
}

func groupInt(n int) string {
	return groupDigits(fmt.Sprint(n))
}

func groupDigits(s string) string {
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	if len(s) <= 3 {
		return sign + s
	}
	var b strings.Builder
	head := len(s) % 3
	if head > 0 {
		b.WriteString(s[:head])
	}
	for i := head; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return sign + b.String()
}
