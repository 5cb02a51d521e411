// Package report assembles audit results into a single document value and
// renders it for export.
package report

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/sentinel/internal/domain"
)

// ErrRenderFailed wraps every failure of a renderer. The report value that
// was passed in is never modified, so callers can retry with another format.
var ErrRenderFailed = errors.New("report rendering failed")

// Input is everything the assembler bundles.
type Input struct {
	SessionID string
	Incidents []domain.ScoredTransaction
	Audit     domain.AuditResult

	// IncludeBenford attaches the digit check to the report.
	IncludeBenford bool

	// Now overrides the generation timestamp in tests.
	Now func() time.Time
}

// Assemble bundles an audit result and the incident log into a report.
// The incident slice is copied so later merges do not alter the report.
func Assemble(in Input) *domain.AuditReport {
	now := time.Now
	if in.Now != nil {
		now = in.Now
	}

	r := &domain.AuditReport{
		ID:          uuid.New().String(),
		SessionID:   in.SessionID,
		GeneratedAt: now().UTC(),
		StepRange:   in.Audit.StepRange,
		Incidents:   append([]domain.ScoredTransaction(nil), in.Incidents...),
		Performance: in.Audit.Performance,
		Comparison:  in.Audit.Comparison,
		Liquidation: in.Audit.Liquidation,
	}
	if in.IncludeBenford {
		b := in.Audit.Benford
		r.Benford = &b
	}
	return r
}

// Renderer turns a report into an exportable document.
type Renderer interface {
	Render(w io.Writer, r *domain.AuditReport) error
	ContentType() string
}

// Render runs renderer against report and returns the finished document.
// Errors and panics inside the renderer are reported as ErrRenderFailed;
// output is only returned when rendering completed.
func Render(renderer Renderer, r *domain.AuditReport) (doc []byte, err error) {
	if r == nil {
		return nil, fmt.Errorf("%w: no report", ErrRenderFailed)
	}

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("renderer panicked", "report_id", r.ID, "panic", rec)
			doc = nil
			err = fmt.Errorf("%w: %v", ErrRenderFailed, rec)
		}
	}()

	var buf bytes.Buffer
	if err := renderer.Render(&buf, r); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRenderFailed, err)
	}
	return buf.Bytes(), nil
}

// ForFormat resolves a renderer by name ("text" or "json").
func ForFormat(format string) (Renderer, bool) {
	switch format {
	case "", "text", "txt":
		return TextRenderer{}, true
	case "json":
		return JSONRenderer{Indent: true}, true
	}
	return nil, false
}
