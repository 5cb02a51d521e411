package rules

import (
	"testing"

	"github.com/opensource-finance/sentinel/internal/domain"
)

func TestEngineCreation(t *testing.T) {
	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	defer engine.Close()

	if engine.RulesCount() != 0 {
		t.Errorf("expected 0 rules, got %d", engine.RulesCount())
	}
}

func TestLoadRule(t *testing.T) {
	engine, _ := NewEngine()
	defer engine.Close()

	rule := &domain.RuleConfig{
		ID:         "round-cash-out",
		Name:       "Round Cash Out",
		Expression: `tx_type == "CASH_OUT" && amount >= 10000.0`,
		Weight:     15,
		Enabled:    true,
	}

	if err := engine.LoadRule(rule); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}

	if engine.RulesCount() != 1 {
		t.Errorf("expected 1 rule, got %d", engine.RulesCount())
	}
}

func TestLoadInvalidRule(t *testing.T) {
	engine, _ := NewEngine()
	defer engine.Close()

	tests := []struct {
		name string
		cfg  *domain.RuleConfig
	}{
		{"Syntax", &domain.RuleConfig{ID: "bad", Expression: "this is not valid CEL !!!", Enabled: true}},
		{"NonBool", &domain.RuleConfig{ID: "num", Expression: "amount * 2.0", Enabled: true}},
		{"UnknownVariable", &domain.RuleConfig{ID: "var", Expression: "velocity_count > 3", Enabled: true}},
		{"MissingID", &domain.RuleConfig{Expression: "amount > 1.0", Enabled: true}},
		{"NegativeWeight", &domain.RuleConfig{ID: "neg", Expression: "amount > 1.0", Weight: -5, Enabled: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := engine.LoadRule(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}

	if engine.RulesCount() != 0 {
		t.Errorf("invalid rules must not be loaded, got %d", engine.RulesCount())
	}
}

func TestValidateRuleDoesNotLoad(t *testing.T) {
	engine, _ := NewEngine()
	defer engine.Close()

	err := engine.ValidateRule(&domain.RuleConfig{ID: "ok", Expression: "step > 10", Weight: 5})
	if err != nil {
		t.Fatalf("expected valid rule, got %v", err)
	}
	if engine.RulesCount() != 0 {
		t.Errorf("ValidateRule must not load, got %d rules", engine.RulesCount())
	}

	if err := engine.ValidateRule(nil); err == nil {
		t.Error("expected error for nil config")
	}
}

func TestCompiledRuleFires(t *testing.T) {
	engine, _ := NewEngine()
	defer engine.Close()

	engine.LoadRule(&domain.RuleConfig{
		ID:         "mule-drain",
		Expression: `tx_type == "TRANSFER" && new_balance == 0.0 && name_dest.startsWith("C")`,
		Weight:     10,
		Enabled:    true,
	})

	rules := engine.Rules()
	if len(rules) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(rules))
	}

	hit, ok := rules[0](domain.Transaction{Type: domain.TxTransfer, NameDest: "C123", Amount: 5})
	if !ok {
		t.Fatal("expected rule to fire")
	}
	if hit.Flag != "MULE_DRAIN" {
		t.Errorf("expected derived flag MULE_DRAIN, got %s", hit.Flag)
	}
	if hit.Weight != 10 {
		t.Errorf("expected weight 10, got %d", hit.Weight)
	}

	if _, ok := rules[0](domain.Transaction{Type: domain.TxPayment, NameDest: "C123"}); ok {
		t.Error("expected rule not to fire for PAYMENT")
	}
}

func TestCompiledRuleEvalErrorDoesNotFire(t *testing.T) {
	engine, _ := NewEngine()
	defer engine.Close()

	// Integer division by zero fails at evaluation time.
	engine.LoadRule(&domain.RuleConfig{
		ID:         "div",
		Flag:       "DIV",
		Expression: "step / (step - step) > 1",
		Weight:     10,
		Enabled:    true,
	})

	if _, ok := engine.Rules()[0](domain.Transaction{Step: 3}); ok {
		t.Error("evaluation errors must count as not fired")
	}
}

func TestCustomRulesExtendScorer(t *testing.T) {
	engine, _ := NewEngine()
	defer engine.Close()

	engine.LoadRules([]*domain.RuleConfig{
		{ID: "b-late-step", Flag: "LATE_STEP", Expression: "step > 700", Weight: 5, Enabled: true},
		{ID: "a-cash-out", Flag: "CASH_OUT_WATCH", Expression: `tx_type == "CASH_OUT"`, Weight: 15, Enabled: true},
		{ID: "c-disabled", Flag: "NEVER", Expression: "true", Weight: 100, Enabled: false},
	})

	scorer := NewScorer(DefaultConfig(), engine.Rules()...)
	if scorer.RulesCount() != 6 {
		t.Fatalf("expected 6 rules, got %d", scorer.RulesCount())
	}

	got := scorer.Score(domain.Transaction{
		Step: 720, Type: domain.TxCashOut, Amount: 100,
		OldBalanceOrig: 500, NewBalanceOrig: 400,
		OldBalanceDest: 10, NewBalanceDest: 110,
	})

	if got.Score != 20 {
		t.Errorf("expected score 20, got %d", got.Score)
	}
	if got.Level != domain.RiskMedium {
		t.Errorf("expected MEDIUM, got %s", got.Level)
	}
	if got.FlagString() != "CASH_OUT_WATCH, LATE_STEP" {
		t.Errorf("unexpected flags %q", got.FlagString())
	}
}

func TestReloadRulesKeepsOldSetOnError(t *testing.T) {
	engine, _ := NewEngine()
	defer engine.Close()

	engine.LoadRule(&domain.RuleConfig{ID: "keep", Expression: "amount > 1.0", Weight: 1, Enabled: true})

	err := engine.ReloadRules([]*domain.RuleConfig{
		{ID: "good", Expression: "amount > 2.0", Weight: 1, Enabled: true},
		{ID: "broken", Expression: "amount >", Weight: 1, Enabled: true},
	})
	if err == nil {
		t.Fatal("expected reload error")
	}

	loaded := engine.GetLoadedRules()
	if len(loaded) != 1 || loaded[0].ID != "keep" {
		t.Errorf("expected previous rule set to survive, got %+v", loaded)
	}

	if err := engine.ReloadRules([]*domain.RuleConfig{{ID: "good", Expression: "amount > 2.0", Weight: 1, Enabled: true}}); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if got := engine.GetLoadedRules(); len(got) != 1 || got[0].ID != "good" {
		t.Errorf("expected new rule set, got %+v", got)
	}
}

func TestFingerprintTracksRuleSet(t *testing.T) {
	engine, _ := NewEngine()
	defer engine.Close()

	if fp := engine.Fingerprint(); fp != "" {
		t.Errorf("expected empty fingerprint with no rules, got %q", fp)
	}

	rule := &domain.RuleConfig{ID: "r1", Expression: "amount > 1.0", Weight: 5, Enabled: true}
	engine.LoadRule(rule)
	first := engine.Fingerprint()
	if first == "" {
		t.Fatal("expected fingerprint after load")
	}
	if again := engine.Fingerprint(); again != first {
		t.Errorf("fingerprint not stable: %q vs %q", first, again)
	}

	engine.LoadRule(&domain.RuleConfig{ID: "r1", Expression: "amount > 1.0", Weight: 6, Enabled: true})
	if engine.Fingerprint() == first {
		t.Error("expected weight change to alter fingerprint")
	}
}

func TestScorerVersionCarriesTag(t *testing.T) {
	base := NewScorer(DefaultConfig())
	if base.Version() != "t500000" {
		t.Errorf("unexpected base version %q", base.Version())
	}
	if base.Tagged("") != base {
		t.Error("empty tag should return the same scorer")
	}

	tagged := base.Tagged("abc")
	if tagged.Version() != "t500000+abc" {
		t.Errorf("unexpected tagged version %q", tagged.Version())
	}
	if tagged.RulesCount() != base.RulesCount() {
		t.Error("tagging must not change the rule list")
	}
}

func TestScorerPairsRulesWithFingerprint(t *testing.T) {
	one := []*domain.RuleConfig{
		{ID: "a", Expression: "amount > 1.0", Weight: 5, Enabled: true},
	}
	two := []*domain.RuleConfig{
		{ID: "a", Expression: "amount > 1.0", Weight: 5, Enabled: true},
		{ID: "b", Expression: `tx_type == "DEBIT"`, Weight: 5, Enabled: true},
	}

	versions := make(map[int]string)
	for _, set := range [][]*domain.RuleConfig{one, two} {
		e, _ := NewEngine()
		if err := e.LoadRules(set); err != nil {
			t.Fatalf("failed to load rules: %v", err)
		}
		s := e.Scorer(DefaultConfig())
		versions[s.RulesCount()] = s.Version()
		e.Close()
	}

	engine, _ := NewEngine()
	defer engine.Close()
	engine.LoadRules(one)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			set := one
			if i%2 == 0 {
				set = two
			}
			engine.ReloadRules(set)
		}
	}()

	for i := 0; i < 200; i++ {
		s := engine.Scorer(DefaultConfig())
		want, ok := versions[s.RulesCount()]
		if !ok {
			t.Fatalf("unexpected rule count %d", s.RulesCount())
		}
		if s.Version() != want {
			t.Fatalf("scorer with %d rules has version %q, want %q", s.RulesCount(), s.Version(), want)
		}
	}
	<-done
}
