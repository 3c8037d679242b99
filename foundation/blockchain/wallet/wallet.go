// Package wallet derives balances for a key pair and builds the transactions
// it sends.
package wallet

import (
	"errors"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/genesis"
	"github.com/ardanlabs/powchain/foundation/blockchain/mempool"
	"github.com/ardanlabs/powchain/foundation/blockchain/signature"
	"github.com/shopspring/decimal"
)

// Result is the outcome of creating a transaction. On failure Transaction is
// nil and Msg explains why.
type Result struct {
	Transaction *database.Tx `json:"transaction"`
	Msg         string       `json:"msg,omitempty"`
}

// Wallet owns a key pair and knows the consensus values needed to compute
// its balance.
type Wallet struct {
	kp      signature.KeyPair
	genesis genesis.Genesis
}

// New constructs a wallet for the key pair.
func New(kp signature.KeyPair, gen genesis.Genesis) *Wallet {
	return &Wallet{
		kp:      kp,
		genesis: gen,
	}
}

// Address returns the public address of the wallet.
func (w *Wallet) Address() string {
	return w.kp.Address()
}

// KeyPair returns the wallet's key pair.
func (w *Wallet) KeyPair() signature.KeyPair {
	return w.kp
}

// CalculateBalance returns the on-chain balance of the wallet.
func (w *Wallet) CalculateBalance(blocks []database.Block) decimal.Decimal {
	return database.CalculateBalance(blocks, w.kp.Address(), w.genesis.InitialBalance)
}

// BalanceWithPool returns the balance of the wallet once its pending
// transactions are applied.
func (w *Wallet) BalanceWithPool(pool []database.Tx, balance decimal.Decimal) decimal.Decimal {
	return BalanceWithPool(pool, balance, w.kp.Address())
}

// CreateTransaction sends amount plus fee to the recipient. A pending
// transaction from this wallet is amended instead of creating a second one.
// Failures are reported in the result and leave the pool untouched.
func (w *Wallet) CreateTransaction(recipient string, amount decimal.Decimal, fee decimal.Decimal, blocks []database.Block, pool *mempool.Mempool) Result {
	if recipient == w.kp.Address() {
		return Result{Msg: "can't send to own address"}
	}

	if !w.kp.CanSign() {
		return Result{Msg: "wallet can't sign transactions"}
	}

	var tx database.Tx
	switch existing, exists := pool.FromAddress(w.kp.Address()); {
	case exists:
		if err := existing.Update(w.kp, recipient, amount, fee); err != nil {
			return Result{Msg: message(err)}
		}
		tx = existing

	default:
		balance := w.CalculateBalance(blocks)

		var err error
		tx, err = database.NewTx(w.kp, balance, recipient, amount, fee)
		if err != nil {
			return Result{Msg: message(err)}
		}
	}

	if _, err := pool.Upsert(tx); err != nil {
		return Result{Msg: message(err)}
	}

	return Result{Transaction: &tx}
}

// =============================================================================

// BalanceWithPool applies the pending transactions to an on-chain balance.
// Each pending spend by the address debits what it sends away, its input
// less its change, and pending credits from other senders are added. Credits
// confirmed after a spend was signed stay counted.
func BalanceWithPool(pool []database.Tx, balance decimal.Decimal, address string) decimal.Decimal {
	for _, tx := range pool {
		if tx.Input == nil {
			continue
		}

		if tx.Input.Address == address {
			balance = balance.Sub(tx.Input.Amount.Sub(tx.AmountTo(address)))
			continue
		}

		balance = balance.Add(tx.AmountTo(address))
	}

	return balance
}

func message(err error) string {
	switch {
	case errors.Is(err, database.ErrInsufficientBalance):
		return "amount exceeds balance: " + err.Error()
	default:
		return err.Error()
	}
}
