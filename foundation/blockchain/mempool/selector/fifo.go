package selector

import (
	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/shopspring/decimal"
)

// fifoSelect returns the transactions in arrival order until the size
// budget is used up.
var fifoSelect = func(txs []database.Tx, feeThreshold decimal.Decimal, maxBytes int) []database.Tx {
	b := budget{max: maxBytes}
	final := []database.Tx{}
	for _, tx := range aboveThreshold(txs, feeThreshold) {
		if !b.fits(tx) {
			break
		}
		final = append(final, tx)
	}

	return final
}
