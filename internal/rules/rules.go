// Package rules provides the compliance rule set and the risk scorer.
package rules

import (
	"github.com/opensource-finance/sentinel/internal/domain"
	"github.com/shopspring/decimal"
)

// Hit is the contribution of a rule that fired.
type Hit struct {
	Flag   domain.Flag
	Weight int
}

// Rule inspects a single transaction. ok is true when the rule fired.
// Rules must be pure: no I/O, no shared mutable state.
type Rule func(tx domain.Transaction) (hit Hit, ok bool)

// Built-in rule weights.
const (
	WeightHighAmount             = 40
	WeightFullBalanceTransfer    = 30
	WeightIntegrityError         = 20
	WeightZeroBalanceDestination = 25
)

// integrityTolerance absorbs rounding in recorded balances.
var integrityTolerance = decimal.RequireFromString("0.01")

// HighAmount fires when the amount exceeds threshold.
func HighAmount(threshold float64) Rule {
	return func(tx domain.Transaction) (Hit, bool) {
		if tx.Amount > threshold {
			return Hit{Flag: domain.FlagHighAmount, Weight: WeightHighAmount}, true
		}
		return Hit{}, false
	}
}

// FullBalanceTransfer fires when a single transaction empties the origin account.
func FullBalanceTransfer(tx domain.Transaction) (Hit, bool) {
	if tx.Amount > 0 && tx.Amount == tx.OldBalanceOrig {
		return Hit{Flag: domain.FlagFullBalanceTransfer, Weight: WeightFullBalanceTransfer}, true
	}
	return Hit{}, false
}

// BalanceIntegrity fires for outflows whose recorded origin balance after the
// transaction does not reconcile with the balance before minus the amount.
func BalanceIntegrity(tx domain.Transaction) (Hit, bool) {
	if !tx.Type.IsOutflow() {
		return Hit{}, false
	}

	expected := decimal.NewFromFloat(tx.OldBalanceOrig).Sub(decimal.NewFromFloat(tx.Amount))
	drift := expected.Sub(decimal.NewFromFloat(tx.NewBalanceOrig)).Abs()
	if drift.GreaterThan(integrityTolerance) {
		return Hit{Flag: domain.FlagIntegrityError, Weight: WeightIntegrityError}, true
	}
	return Hit{}, false
}

// ZeroBalanceDestination fires when money lands in an account with no
// recorded balance before or after the transaction.
func ZeroBalanceDestination(tx domain.Transaction) (Hit, bool) {
	if tx.Amount > 0 && tx.OldBalanceDest == 0 && tx.NewBalanceDest == 0 {
		return Hit{Flag: domain.FlagZeroBalanceDestination, Weight: WeightZeroBalanceDestination}, true
	}
	return Hit{}, false
}

// Builtin returns the four compliance rules in evaluation order.
func Builtin(highAmountThreshold float64) []Rule {
	return []Rule{
		HighAmount(highAmountThreshold),
		FullBalanceTransfer,
		BalanceIntegrity,
		ZeroBalanceDestination,
	}
}
