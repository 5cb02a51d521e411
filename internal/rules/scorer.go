package rules

import (
	"strconv"

	"github.com/opensource-finance/sentinel/internal/domain"
)

// Classification breakpoints on the cumulative score.
const (
	HighThreshold   = 50
	MediumThreshold = 20
)

// Classify maps a risk score to its tier.
func Classify(score int) domain.RiskLevel {
	switch {
	case score >= HighThreshold:
		return domain.RiskHigh
	case score >= MediumThreshold:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

// Config holds the tunable parts of the scorer.
type Config struct {
	HighAmountThreshold float64
}

// DefaultConfig returns the standard scorer configuration.
func DefaultConfig() Config {
	return Config{HighAmountThreshold: domain.DefaultHighAmountThreshold}
}

// Scorer folds a fixed rule list into a risk assessment.
// A Scorer is immutable and safe for concurrent use.
type Scorer struct {
	rules   []Rule
	version string
}

// NewScorer creates a scorer with the built-in rules followed by extra.
func NewScorer(cfg Config, extra ...Rule) *Scorer {
	rules := Builtin(cfg.HighAmountThreshold)
	rules = append(rules, extra...)
	return &Scorer{
		rules:   rules,
		version: "t" + strconv.FormatFloat(cfg.HighAmountThreshold, 'f', -1, 64),
	}
}

// Tagged returns a copy of the scorer whose version carries tag, typically
// the custom rule set fingerprint. An empty tag returns s unchanged.
func (s *Scorer) Tagged(tag string) *Scorer {
	if tag == "" {
		return s
	}
	return &Scorer{rules: s.rules, version: s.version + "+" + tag}
}

// Version identifies the rule configuration. Results derived from scores
// may be cached under it.
func (s *Scorer) Version() string {
	return s.version
}

// RulesCount returns the number of rules evaluated per transaction.
func (s *Scorer) RulesCount() int {
	return len(s.rules)
}

// Score evaluates every rule against tx. All rules run regardless of
// earlier results so flags combine.
func (s *Scorer) Score(tx domain.Transaction) domain.RiskAssessment {
	var a domain.RiskAssessment
	for _, rule := range s.rules {
		if hit, ok := rule(tx); ok {
			a.Score += hit.Weight
			a.Flags = append(a.Flags, hit.Flag)
		}
	}
	a.Level = Classify(a.Score)
	return a
}
