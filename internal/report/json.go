package report

import (
	"encoding/json"
	"io"

	"github.com/opensource-finance/sentinel/internal/domain"
)

// JSONRenderer writes the report as a JSON document.
type JSONRenderer struct {
	Indent bool
}

// ContentType implements Renderer.
func (JSONRenderer) ContentType() string {
	return "application/json"
}

// Render implements Renderer.
func (j JSONRenderer) Render(w io.Writer, r *domain.AuditReport) error {
	enc := json.NewEncoder(w)
	if j.Indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(r)
}
