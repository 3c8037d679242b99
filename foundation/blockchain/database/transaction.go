package database

import (
	"fmt"
	"slices"
	"time"

	"github.com/ardanlabs/powchain/foundation/blockchain/genesis"
	"github.com/ardanlabs/powchain/foundation/blockchain/signature"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Output credits an amount to an address.
type Output struct {
	Address string          `json:"address"`
	Amount  decimal.Decimal `json:"amount"`
}

// Input identifies who is spending and the balance they spend from. Reward
// transactions carry no signature and use the BlockchainWallet address.
type Input struct {
	Timestamp int64           `json:"timestamp"`
	Address   string          `json:"address"`
	Amount    decimal.Decimal `json:"amount"`
	Signature string          `json:"signature,omitempty"`
}

// Tx is the transactional information between two or more parties.
type Tx struct {
	ID      string   `json:"id"`
	Input   *Input   `json:"input"`
	Outputs []Output `json:"outputs"`
}

// NewTx constructs a signed transaction spending from the balance of the key
// pair. The outputs are the sender's change, the recipient amount and the
// fee addressed to MinerWallet.
func NewTx(kp signature.KeyPair, balance decimal.Decimal, recipient string, amount decimal.Decimal, fee decimal.Decimal) (Tx, error) {
	if err := checkAmounts(kp.Address(), recipient, amount, fee); err != nil {
		return Tx{}, err
	}

	if amount.Add(fee).GreaterThan(balance) {
		return Tx{}, fmt.Errorf("%w: amount[%s] fee[%s] exceeds balance[%s]", ErrInsufficientBalance, amount, fee, balance)
	}

	tx := Tx{
		ID: uuid.NewString(),
		Outputs: []Output{
			{Address: kp.Address(), Amount: balance.Sub(amount).Sub(fee)},
			{Address: recipient, Amount: amount},
			{Address: MinerWallet, Amount: fee},
		},
	}

	if err := tx.sign(kp, balance); err != nil {
		return Tx{}, err
	}

	return tx, nil
}

// Update amends a pending transaction so one sender can batch several sends
// before the transaction is mined. The change output pays for the new
// recipient output and the additional fee, then the transaction is re-signed.
func (tx *Tx) Update(kp signature.KeyPair, recipient string, amount decimal.Decimal, fee decimal.Decimal) error {
	if err := checkAmounts(kp.Address(), recipient, amount, fee); err != nil {
		return err
	}

	if tx.Input == nil || tx.Input.Address != kp.Address() {
		return invalid("transaction[%s] does not belong to sender", tx.ID)
	}

	outputs := slices.Clone(tx.Outputs)

	idx := slices.IndexFunc(outputs, func(o Output) bool { return o.Address == kp.Address() })
	if idx == -1 {
		return invalid("transaction[%s] has no change output", tx.ID)
	}

	if amount.Add(fee).GreaterThan(outputs[idx].Amount) {
		return fmt.Errorf("%w: amount[%s] fee[%s] exceeds change[%s]", ErrInsufficientBalance, amount, fee, outputs[idx].Amount)
	}

	outputs[idx].Amount = outputs[idx].Amount.Sub(amount).Sub(fee)
	outputs = append(outputs, Output{Address: recipient, Amount: amount})

	switch feeIdx := slices.IndexFunc(outputs, func(o Output) bool { return o.Address == MinerWallet }); feeIdx {
	case -1:
		outputs = append(outputs, Output{Address: MinerWallet, Amount: fee})
	default:
		outputs[feeIdx].Amount = outputs[feeIdx].Amount.Add(fee)
	}

	updated := Tx{ID: tx.ID, Outputs: outputs}
	if err := updated.sign(kp, tx.Input.Amount); err != nil {
		return err
	}

	*tx = updated
	return nil
}

// NewRewardTx constructs the unsigned transaction paying the miner the block
// subsidy plus every fee collected from the selected transactions.
func NewRewardTx(minerAddress string, txs []Tx, chainLength int, gen genesis.Genesis) Tx {
	amount := gen.MiningRewardAt(chainLength).Add(TotalFees(txs))

	return Tx{
		ID: uuid.NewString(),
		Input: &Input{
			Timestamp: time.Now().UnixMilli(),
			Address:   BlockchainWallet,
			Amount:    amount,
		},
		Outputs: []Output{
			{Address: minerAddress, Amount: amount},
		},
	}
}

// Validate checks the outputs add up to the input amount and the signature
// was produced over the outputs by the input address.
func (tx Tx) Validate() error {
	if tx.Input == nil {
		return invalid("transaction[%s] has no input", tx.ID)
	}

	if tx.Input.Signature == "" {
		return invalid("transaction[%s] is not signed", tx.ID)
	}

	if len(tx.Outputs) == 0 {
		return invalid("transaction[%s] has no outputs", tx.ID)
	}

	if !isWhole(tx.Input.Amount) {
		return invalid("transaction[%s] input[%s] exceeds %d fractional digits", tx.ID, tx.Input.Amount, genesis.AmountPlaces)
	}

	total := decimal.Zero
	for _, out := range tx.Outputs {
		switch {
		case out.Amount.IsNegative():
			return invalid("transaction[%s] has a negative output", tx.ID)
		case !isWhole(out.Amount):
			return invalid("transaction[%s] output[%s] exceeds %d fractional digits", tx.ID, out.Amount, genesis.AmountPlaces)
		}
		total = total.Add(out.Amount)
	}

	if !total.Equal(tx.Input.Amount) {
		return invalid("transaction[%s] outputs[%s] do not match input[%s]", tx.ID, total, tx.Input.Amount)
	}

	if !signature.VerifySignature(tx.Input.Address, tx.Input.Signature, signature.Digest(tx.Outputs)) {
		return invalid("transaction[%s] has an invalid signature", tx.ID)
	}

	return nil
}

// IsReward reports whether the transaction is an unsigned reward.
func (tx Tx) IsReward() bool {
	return tx.Input != nil && tx.Input.Signature == ""
}

// Fee returns the amount addressed to MinerWallet.
func (tx Tx) Fee() decimal.Decimal {
	return tx.AmountTo(MinerWallet)
}

// AmountTo returns the sum of the outputs credited to the address.
func (tx Tx) AmountTo(address string) decimal.Decimal {
	total := decimal.Zero
	for _, out := range tx.Outputs {
		if out.Address == address {
			total = total.Add(out.Amount)
		}
	}
	return total
}

// String implements the fmt.Stringer interface for logging.
func (tx Tx) String() string {
	if tx.Input == nil {
		return tx.ID
	}

	from := tx.Input.Address
	if len(from) > 10 {
		from = from[:10]
	}

	return fmt.Sprintf("%s:%s:%s", tx.ID, from, tx.Fee())
}

// =============================================================================

// VerifyRewardTx checks the reward pays exactly the subsidy for the chain
// prefix plus the fees of the user transactions.
func VerifyRewardTx(reward Tx, txs []Tx, prefixLength int, gen genesis.Genesis) error {
	if reward.Input == nil || reward.Input.Address != BlockchainWallet || reward.Input.Signature != "" {
		return invalid("reward[%s] has a malformed input", reward.ID)
	}

	if len(reward.Outputs) != 1 {
		return invalid("reward[%s] must have exactly one output", reward.ID)
	}

	expected := gen.MiningRewardAt(prefixLength).Add(TotalFees(txs))
	if !reward.Outputs[0].Amount.Equal(expected) {
		return invalid("reward[%s] amount[%s] expected[%s]", reward.ID, reward.Outputs[0].Amount, expected)
	}

	return nil
}

// TotalFees sums the fee outputs of the transactions.
func TotalFees(txs []Tx) decimal.Decimal {
	total := decimal.Zero
	for _, tx := range txs {
		total = total.Add(tx.Fee())
	}
	return total
}

// =============================================================================

// sign signs the hash of the outputs and stamps the input.
func (tx *Tx) sign(kp signature.KeyPair, balance decimal.Decimal) error {
	sig, err := kp.Sign(signature.Digest(tx.Outputs))
	if err != nil {
		return err
	}

	tx.Input = &Input{
		Timestamp: time.Now().UnixMilli(),
		Address:   kp.Address(),
		Amount:    balance,
		Signature: sig,
	}

	return nil
}

func checkAmounts(sender string, recipient string, amount decimal.Decimal, fee decimal.Decimal) error {
	switch {
	case recipient == "":
		return invalid("recipient is required")
	case recipient == sender:
		return invalid("can't send to own address")
	case recipient == MinerWallet || recipient == BlockchainWallet:
		return invalid("recipient[%s] is reserved", recipient)
	case !amount.IsPositive():
		return invalid("amount[%s] must be positive", amount)
	case fee.IsNegative():
		return invalid("fee[%s] can't be negative", fee)
	case !isWhole(amount) || !isWhole(fee):
		return invalid("amounts support %d fractional digits", genesis.AmountPlaces)
	}
	return nil
}

// isWhole reports whether the amount fits in genesis.AmountPlaces fractional
// digits.
func isWhole(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(genesis.AmountPlaces))
}
