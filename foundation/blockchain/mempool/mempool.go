// Package mempool maintains the mempool for the blockchain.
package mempool

import (
	"slices"
	"sync"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/mempool/selector"
	"github.com/ardanlabs/powchain/foundation/blockchain/signature"
	"github.com/shopspring/decimal"
)

// Stats provides diagnostics on what the pool refused or dropped. Pool
// contents are advisory so rule violations are counted instead of returned
// as hard failures.
type Stats struct {
	Admitted int
	Rejected int
	Dropped  int
}

// Mempool represents a cache of pending transactions keyed by transaction id
// and kept in arrival order.
type Mempool struct {
	mu       sync.RWMutex
	order    []string
	pool     map[string]database.Tx
	stats    Stats
	selectFn selector.Func
}

// New constructs a new mempool using the default select strategy.
func New() (*Mempool, error) {
	return NewWithStrategy(selector.StrategyFee)
}

// NewWithStrategy constructs a new mempool with specified select strategy.
func NewWithStrategy(strategy string) (*Mempool, error) {
	selectFn, err := selector.Retrieve(strategy)
	if err != nil {
		return nil, err
	}

	mp := Mempool{
		pool:     make(map[string]database.Tx),
		selectFn: selectFn,
	}

	return &mp, nil
}

// Count returns the current number of transaction in the pool.
func (mp *Mempool) Count() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return len(mp.pool)
}

// Upsert adds or replaces a transaction by id. Invalid transactions are
// counted and refused with the reason. The bool reports whether the pool
// changed, so resubmitting an identical transaction returns false.
func (mp *Mempool) Upsert(tx database.Tx) (bool, error) {
	if err := tx.Validate(); err != nil {
		mp.mu.Lock()
		mp.stats.Rejected++
		mp.mu.Unlock()

		return false, err
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()

	if existing, exists := mp.pool[tx.ID]; exists {
		if signature.Hash(existing) == signature.Hash(tx) {
			return false, nil
		}
		mp.pool[tx.ID] = tx
		mp.stats.Admitted++
		return true, nil
	}

	mp.pool[tx.ID] = tx
	mp.order = append(mp.order, tx.ID)
	mp.stats.Admitted++

	return true, nil
}

// Delete removes a transaction from the mempool.
func (mp *Mempool) Delete(id string) bool {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if _, exists := mp.pool[id]; !exists {
		return false
	}

	delete(mp.pool, id)
	mp.order = slices.DeleteFunc(mp.order, func(key string) bool { return key == id })

	return true
}

// Truncate clears all the transactions from the pool.
func (mp *Mempool) Truncate() {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.pool = make(map[string]database.Tx)
	mp.order = nil
}

// Copy returns the pooled transactions in arrival order.
func (mp *Mempool) Copy() []database.Tx {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	txs := make([]database.Tx, 0, len(mp.order))
	for _, id := range mp.order {
		txs = append(txs, mp.pool[id])
	}

	return txs
}

// Get returns the transaction for the specified id.
func (mp *Mempool) Get(id string) (database.Tx, bool) {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	tx, exists := mp.pool[id]
	return tx, exists
}

// FromAddress returns the most recent pending transaction sent by the
// address.
func (mp *Mempool) FromAddress(address string) (database.Tx, bool) {
	var found database.Tx
	var exists bool

	for _, tx := range mp.Copy() {
		if tx.Input == nil || tx.Input.Address != address {
			continue
		}
		if !exists || tx.Input.Timestamp >= found.Input.Timestamp {
			found = tx
			exists = true
		}
	}

	return found, exists
}

// ValidTransactions returns the pooled transactions that pass validation.
func (mp *Mempool) ValidTransactions() []database.Tx {
	txs := mp.Copy()

	valid := make([]database.Tx, 0, len(txs))
	for _, tx := range txs {
		if err := tx.Validate(); err != nil {
			continue
		}
		valid = append(valid, tx)
	}

	if dropped := len(txs) - len(valid); dropped > 0 {
		mp.mu.Lock()
		mp.stats.Dropped += dropped
		mp.mu.Unlock()
	}

	return valid
}

// SelectForBlock uses the configured select strategy to return the valid
// transactions to mine into the next block.
func (mp *Mempool) SelectForBlock(feeThreshold decimal.Decimal, maxBytes int) []database.Tx {
	return mp.selectFn(mp.ValidTransactions(), feeThreshold, maxBytes)
}

// ValidateSequence drops the transactions that can't be spent in sequence on
// top of the prefix.
func (mp *Mempool) ValidateSequence(txs []database.Tx, prefix []database.Block, initial decimal.Decimal) []database.Tx {
	kept, dropped := database.ValidateSequence(txs, prefix, initial)

	if dropped > 0 {
		mp.mu.Lock()
		mp.stats.Dropped += dropped
		mp.mu.Unlock()
	}

	return kept
}

// RemoveConfirmed drops every pooled transaction already recorded in the
// blocks and returns how many were removed.
func (mp *Mempool) RemoveConfirmed(blocks []database.Block) int {
	confirmed := make(map[string]struct{})
	for _, block := range blocks {
		for _, tx := range block.Data {
			confirmed[tx.ID] = struct{}{}
		}
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()

	var removed int
	for id := range mp.pool {
		if _, exists := confirmed[id]; exists {
			delete(mp.pool, id)
			removed++
		}
	}

	if removed > 0 {
		mp.order = slices.DeleteFunc(mp.order, func(id string) bool {
			_, exists := confirmed[id]
			return exists
		})
	}

	return removed
}

// PruneInvalid drops every pooled transaction that fails validation or can no
// longer be spent in sequence on top of the blocks, and returns how many were
// removed.
func (mp *Mempool) PruneInvalid(blocks []database.Block, initial decimal.Decimal) int {
	txs := mp.Copy()

	valid := make([]database.Tx, 0, len(txs))
	for _, tx := range txs {
		if err := tx.Validate(); err != nil {
			continue
		}
		valid = append(valid, tx)
	}

	kept, _ := database.ValidateSequence(valid, blocks, initial)

	keep := make(map[string]struct{}, len(kept))
	for _, tx := range kept {
		keep[tx.ID] = struct{}{}
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()

	var removed int
	for _, tx := range txs {
		if _, exists := keep[tx.ID]; exists {
			continue
		}

		// Leave a transaction replaced since the copy was taken.
		if current, exists := mp.pool[tx.ID]; !exists || signature.Hash(current) != signature.Hash(tx) {
			continue
		}

		delete(mp.pool, tx.ID)
		removed++
	}

	if removed > 0 {
		mp.order = slices.DeleteFunc(mp.order, func(id string) bool {
			_, exists := mp.pool[id]
			return !exists
		})
		mp.stats.Dropped += removed
	}

	return removed
}

// Stats returns the diagnostic counters.
func (mp *Mempool) Stats() Stats {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return mp.stats
}
