package rules

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/sentinel/internal/domain"
)

// Engine compiles custom CEL rules into Rule values for the scorer.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*CompiledRule
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.RuleConfig
	Program cel.Program
}

// NewEngine creates a CEL environment exposing the ledger fields.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("step", cel.IntType),
		cel.Variable("tx_type", cel.StringType),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("name_orig", cel.StringType),
		cel.Variable("old_balance", cel.DoubleType),
		cel.Variable("new_balance", cel.DoubleType),
		cel.Variable("name_dest", cel.StringType),
		cel.Variable("old_balance_dest", cel.DoubleType),
		cel.Variable("new_balance_dest", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
	}, nil
}

// ValidateRule compiles and validates a rule without mutating loaded engine rules.
func (e *Engine) ValidateRule(cfg *domain.RuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(cfg *domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	e.compiledRules[cfg.ID] = compiled
	return nil
}

// LoadRules compiles and loads multiple rules, skipping disabled ones.
func (e *Engine) LoadRules(configs []*domain.RuleConfig) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadRule(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReloadRules clears all existing rules and loads new ones.
// On error the previously loaded rules stay in place.
func (e *Engine) ReloadRules(configs []*domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newRules := make(map[string]*CompiledRule)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		newRules[cfg.ID] = compiled
	}

	e.compiledRules = newRules
	return nil
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// Fingerprint identifies the loaded rule set. It changes whenever a rule is
// added, removed or edited, and is empty when no rules are loaded.
func (e *Engine) Fingerprint() string {
	return fingerprintOf(e.snapshot())
}

func fingerprintOf(compiled []*CompiledRule) string {
	if len(compiled) == 0 {
		return ""
	}

	d := xxhash.New()
	for _, c := range compiled {
		cfg := c.Config
		d.WriteString(cfg.ID)
		d.WriteString("\x00")
		d.WriteString(cfg.Expression)
		d.WriteString("\x00")
		d.WriteString(string(cfg.Flag))
		d.WriteString("\x00")
		d.WriteString(strconv.Itoa(cfg.Weight))
		d.WriteString("\x01")
	}
	return strconv.FormatUint(d.Sum64(), 16)
}

// snapshot copies the compiled rules under one read lock, ordered by ID.
func (e *Engine) snapshot() []*CompiledRule {
	e.mu.RLock()
	compiled := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, c := range e.compiledRules {
		compiled = append(compiled, c)
	}
	e.mu.RUnlock()

	sort.Slice(compiled, func(i, j int) bool { return compiled[i].Config.ID < compiled[j].Config.ID })
	return compiled
}

// GetLoadedRules returns the currently loaded rule configurations ordered by ID.
func (e *Engine) GetLoadedRules() []*domain.RuleConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	configs := make([]*domain.RuleConfig, 0, len(e.compiledRules))
	for _, compiled := range e.compiledRules {
		configs = append(configs, compiled.Config)
	}
	sort.Slice(configs, func(i, j int) bool { return configs[i].ID < configs[j].ID })
	return configs
}

// Rules returns the loaded rules as scorer rules, ordered by ID so that
// flag order is stable across reloads.
func (e *Engine) Rules() []Rule {
	return rulesOf(e.snapshot())
}

func rulesOf(compiled []*CompiledRule) []Rule {
	out := make([]Rule, len(compiled))
	for i, c := range compiled {
		out[i] = c.Rule()
	}
	return out
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

// Rule adapts the compiled program to the scorer's rule signature.
// Evaluation errors count as "not fired".
func (c *CompiledRule) Rule() Rule {
	flag := c.Config.Flag
	if flag == "" {
		flag = domain.Flag(strings.ToUpper(strings.ReplaceAll(c.Config.ID, "-", "_")))
	}
	weight := c.Config.Weight

	return func(tx domain.Transaction) (Hit, bool) {
		out, _, err := c.Program.Eval(activation(tx))
		if err != nil {
			slog.Debug("custom rule evaluation failed", "rule_id", c.Config.ID, "error", err)
			return Hit{}, false
		}
		if fired, ok := out.(types.Bool); ok && bool(fired) {
			return Hit{Flag: flag, Weight: weight}, true
		}
		return Hit{}, false
	}
}

func activation(tx domain.Transaction) map[string]any {
	return map[string]any{
		"step":             int64(tx.Step),
		"tx_type":          string(tx.Type),
		"amount":           tx.Amount,
		"name_orig":        tx.NameOrig,
		"old_balance":      tx.OldBalanceOrig,
		"new_balance":      tx.NewBalanceOrig,
		"name_dest":        tx.NameDest,
		"old_balance_dest": tx.OldBalanceDest,
		"new_balance_dest": tx.NewBalanceDest,
	}
}

func (e *Engine) compileRule(cfg *domain.RuleConfig) (*CompiledRule, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("rule id is required")
	}
	if cfg.Weight < 0 {
		return nil, fmt.Errorf("rule %s: weight must not be negative", cfg.ID)
	}

	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}

// Scorer builds a scorer with the built-in rules followed by the loaded
// custom rules, versioned by the rule set fingerprint.
// Rules and version come from the same snapshot, so a concurrent reload
// can never pair one rule set with another's fingerprint.
func (e *Engine) Scorer(cfg Config) *Scorer {
	snap := e.snapshot()
	return NewScorer(cfg, rulesOf(snap)...).Tagged(fingerprintOf(snap))
}
