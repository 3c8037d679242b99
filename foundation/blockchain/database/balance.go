package database

import (
	"slices"

	"github.com/shopspring/decimal"
)

// CalculateBalance returns the spendable balance of the address. The balance
// is anchored at the address's most recent spend: it starts from that
// transaction's change output (or the initial balance when the address never
// spent) and adds every later output credited to the address by others.
func CalculateBalance(blocks []Block, address string, initial decimal.Decimal) decimal.Decimal {
	balance, _ := anchor(blocks, address, initial)
	return balance
}

// anchor returns the balance of the address and the timestamp of its most
// recent spend, zero when it never spent.
func anchor(blocks []Block, address string, initial decimal.Decimal) (decimal.Decimal, int64) {
	var last *Tx
	for i := range blocks {
		for j := range blocks[i].Data {
			tx := &blocks[i].Data[j]
			if tx.Input == nil || tx.Input.Address != address {
				continue
			}
			if last == nil || tx.Input.Timestamp >= last.Input.Timestamp {
				last = tx
			}
		}
	}

	balance := initial
	var startTime int64
	if last != nil {
		balance = last.AmountTo(address)
		startTime = last.Input.Timestamp
	}

	for _, block := range blocks {
		for _, tx := range block.Data {
			if tx.Input == nil || tx.Input.Address == address || tx.Input.Timestamp <= startTime {
				continue
			}
			balance = balance.Add(tx.AmountTo(address))
		}
	}

	return balance, startTime
}

// ValidateSequence replays the transactions in ascending input timestamp
// order per sender, keeping a running balance seeded from the prefix. A
// transaction that would overdraw, claims more than the running balance or
// is not newer than the sender's last spend is dropped. The kept
// transactions are returned in their original order along with the number
// dropped.
func ValidateSequence(txs []Tx, prefix []Block, initial decimal.Decimal) ([]Tx, int) {
	type account struct {
		balance decimal.Decimal
		last    int64
	}
	accounts := make(map[string]*account)

	order := make([]int, len(txs))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return compareTimestamp(txs[a], txs[b])
	})

	keep := make([]bool, len(txs))
	for _, idx := range order {
		tx := txs[idx]
		if tx.Input == nil {
			continue
		}

		from := tx.Input.Address
		acc, exists := accounts[from]
		if !exists {
			balance, last := anchor(prefix, from, initial)
			acc = &account{balance: balance, last: last}
			accounts[from] = acc
		}

		if tx.Input.Timestamp <= acc.last {
			continue
		}

		change := tx.AmountTo(from)
		spent := decimal.Zero
		for _, out := range tx.Outputs {
			if out.Address != from {
				spent = spent.Add(out.Amount)
			}
		}

		if spent.GreaterThan(acc.balance) || tx.Input.Amount.GreaterThan(acc.balance) {
			continue
		}

		acc.balance = change
		acc.last = tx.Input.Timestamp
		keep[idx] = true
	}

	kept := make([]Tx, 0, len(txs))
	for i, tx := range txs {
		if keep[i] {
			kept = append(kept, tx)
		}
	}

	return kept, len(txs) - len(kept)
}

func compareTimestamp(a Tx, b Tx) int {
	var at, bt int64
	if a.Input != nil {
		at = a.Input.Timestamp
	}
	if b.Input != nil {
		bt = b.Input.Timestamp
	}

	switch {
	case at < bt:
		return -1
	case at > bt:
		return 1
	}
	return 0
}
