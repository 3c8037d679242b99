// Package selector provides different transaction selecting algorithms.
package selector

import (
	"fmt"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/signature"
	"github.com/shopspring/decimal"
)

// List of different select strategies.
const (
	StrategyFee  = "fee"
	StrategyFIFO = "fifo"
)

// Map of different select strategies with functions.
var strategies = map[string]Func{
	StrategyFee:  feeSelect,
	StrategyFIFO: fifoSelect,
}

// Func defines a function that takes the pooled transactions in arrival order
// and selects the ones to mine. Transactions paying a fee below feeThreshold
// are never selected and the estimated serialized size of the selection must
// stay within maxBytes.
type Func func(txs []database.Tx, feeThreshold decimal.Decimal, maxBytes int) []database.Tx

// Retrieve returns the specified select strategy function.
func Retrieve(strategy string) (Func, error) {
	fn, exists := strategies[strategy]
	if !exists {
		return nil, fmt.Errorf("strategy %q does not exist", strategy)
	}
	return fn, nil
}

// =============================================================================

// aboveThreshold returns the transactions paying at least the fee threshold.
func aboveThreshold(txs []database.Tx, feeThreshold decimal.Decimal) []database.Tx {
	filtered := make([]database.Tx, 0, len(txs))
	for _, tx := range txs {
		if tx.Fee().GreaterThanOrEqual(feeThreshold) {
			filtered = append(filtered, tx)
		}
	}
	return filtered
}

// budget tracks the estimated size of a selection encoded as a JSON list.
type budget struct {
	max  int
	used int
}

// fits reports whether the transaction fits and accounts for it when it does.
func (b *budget) fits(tx database.Tx) bool {
	size := signature.SizeOf(tx) + 1
	if b.used+size+1 > b.max {
		return false
	}
	b.used += size
	return true
}
