package selector

import (
	"slices"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/shopspring/decimal"
)

// feeSelect returns the transactions paying the best fees that fit in the
// size budget. The transactions are sorted by fee in ascending order with a
// stable sort and taken from the top, so among equal fees the one that
// arrived last is taken first. Selection stops at the first transaction that
// does not fit.
var feeSelect = func(txs []database.Tx, feeThreshold decimal.Decimal, maxBytes int) []database.Tx {
	sorted := aboveThreshold(txs, feeThreshold)

	slices.SortStableFunc(sorted, func(a, b database.Tx) int {
		return a.Fee().Cmp(b.Fee())
	})

	b := budget{max: maxBytes}
	final := []database.Tx{}
	for i := len(sorted) - 1; i >= 0; i-- {
		if !b.fits(sorted[i]) {
			break
		}
		final = append(final, sorted[i])
	}

	return final
}
