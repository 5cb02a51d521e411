package domain

import "strings"

// TxType is the PaySim transaction type.
type TxType string

const (
	TxTransfer TxType = "TRANSFER"
	TxCashOut  TxType = "CASH_OUT"
	TxPayment  TxType = "PAYMENT"
	TxDebit    TxType = "DEBIT"
	TxCashIn   TxType = "CASH_IN"
)

// ParseTxType normalizes a raw type column value.
// Returns false if the value is not a known transaction type.
func ParseTxType(raw string) (TxType, bool) {
	t := TxType(strings.ToUpper(strings.TrimSpace(raw)))
	switch t {
	case TxTransfer, TxCashOut, TxPayment, TxDebit, TxCashIn:
		return t, true
	}
	return "", false
}

// IsOutflow reports whether money leaves the origin account.
// Only outflows are checked for balance integrity.
func (t TxType) IsOutflow() bool {
	return t == TxTransfer || t == TxCashOut
}

// Transaction is one immutable row of the historical ledger.
// It is a comparable value so that identical rows can be detected
// with ==, which the incident log relies on for deduplication.
type Transaction struct {
	// Step is the logical time tick (one hour in PaySim).
	Step int `json:"step"`

	Type   TxType  `json:"type"`
	Amount float64 `json:"amount"`

	// Origin account
	NameOrig       string  `json:"nameOrig"`
	OldBalanceOrig float64 `json:"oldbalanceOrg"`
	NewBalanceOrig float64 `json:"newbalanceOrig"`

	// Destination account
	NameDest       string  `json:"nameDest"`
	OldBalanceDest float64 `json:"oldbalanceDest"`
	NewBalanceDest float64 `json:"newbalanceDest"`

	// IsFraud is the historical ground-truth label. The scorer never reads it;
	// only forensic evaluation does.
	IsFraud bool `json:"isFraud"`

	// IsFlaggedFraud is the optional PaySim legacy flag, carried through untouched.
	IsFlaggedFraud bool `json:"isFlaggedFraud,omitempty"`
}

// Batch is one delivery chunk of a tick's transactions.
type Batch struct {
	Tick         int           `json:"tick"`
	Seq          int           `json:"seq"`
	Transactions []Transaction `json:"transactions"`
}

// Len returns the number of transactions in the batch.
func (b Batch) Len() int {
	return len(b.Transactions)
}

// StepRange is an inclusive range of ticks.
type StepRange struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// Contains reports whether step lies inside the range.
func (r StepRange) Contains(step int) bool {
	return step >= r.From && step <= r.To
}

// Valid reports whether the range is non-empty.
func (r StepRange) Valid() bool {
	return r.From <= r.To
}
