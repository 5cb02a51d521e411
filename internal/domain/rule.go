package domain

// RuleConfig defines a custom CEL compliance rule.
// Custom rules run after the built-in rules and add Weight to the
// risk score when Expression evaluates to true.
type RuleConfig struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// CEL expression over the transaction variables; must return bool
	Expression string `json:"expression"`

	// Flag reported when the rule fires
	Flag Flag `json:"flag"`

	// Weight added to the risk score when the rule fires
	Weight int `json:"weight"`

	// Whether rule is active
	Enabled bool `json:"enabled"`
}
