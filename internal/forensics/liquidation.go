package forensics

import "github.com/opensource-finance/sentinel/internal/domain"

// IsLiquidation reports whether tx moved the entire origin balance.
func IsLiquidation(tx domain.Transaction) bool {
	return tx.OldBalanceOrig > 0 && tx.Amount == tx.OldBalanceOrig
}

// Liquidation validates the full-liquidation rule against ground truth.
// Coverage is the share of all fraud in txs that the rule isolates, in percent.
func Liquidation(txs []domain.Transaction) domain.LiquidationCheck {
	var c domain.LiquidationCheck
	for _, tx := range txs {
		if tx.IsFraud {
			c.TotalFraud++
		}
		if !IsLiquidation(tx) {
			continue
		}
		c.Matches++
		if tx.IsFraud {
			c.TruePositives++
		} else {
			c.FalsePositives++
		}
	}
	if c.TotalFraud > 0 {
		c.CoveragePct = float64(c.TruePositives) / float64(c.TotalFraud) * 100
	}
	return c
}
