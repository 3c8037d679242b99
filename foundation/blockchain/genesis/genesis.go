// Package genesis maintains access to the genesis file and the consensus
// constants every node must agree on.
package genesis

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// AmountPlaces is the number of fractional digits kept for every amount.
const AmountPlaces = 2

// Values that identify the genesis block.
const (
	LastHash = "------"
	Hash     = "f1r57-h45h"
)

// Genesis represents the genesis file.
type Genesis struct {
	Timestamp      int64           `json:"timestamp" validate:"min=0"`          // Unix milliseconds stamped on the genesis block.
	Difficulty     uint            `json:"difficulty" validate:"min=1"`         // Leading zero hex characters required from the first block.
	MineRate       int64           `json:"mine_rate" validate:"min=1"`          // Target milliseconds between blocks.
	InitialBalance decimal.Decimal `json:"initial_balance"`                     // Balance of an address that never spent.
	MiningReward   decimal.Decimal `json:"mining_reward"`                       // Subsidy for the first reward interval.
	RewardDecay    decimal.Decimal `json:"reward_decay"`                        // Multiplier applied once per reward interval.
	RewardInterval int             `json:"reward_interval" validate:"min=1"`    // Blocks between reward decays.
	MaxBlockBytes  int             `json:"max_block_bytes" validate:"min=1024"` // Size budget for selected transactions.
}

// Default returns the consensus constants used when no genesis file is given.
func Default() Genesis {
	return Genesis{
		Timestamp:      1704067200000,
		Difficulty:     3,
		MineRate:       3000,
		InitialBalance: decimal.NewFromInt(500),
		MiningReward:   decimal.NewFromInt(50),
		RewardDecay:    decimal.RequireFromString("0.9"),
		RewardInterval: 120,
		MaxBlockBytes:  1 << 20,
	}
}

// =============================================================================

// Load opens and consumes the genesis file. Fields missing from the file keep
// their default values.
func Load(path string) (Genesis, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Genesis{}, err
	}

	genesis := Default()
	if err := json.Unmarshal(content, &genesis); err != nil {
		return Genesis{}, err
	}

	if err := genesis.Validate(); err != nil {
		return Genesis{}, err
	}

	return genesis, nil
}

// Validate checks the values are usable for consensus.
func (g Genesis) Validate() error {
	if err := validator.New().Struct(g); err != nil {
		return fmt.Errorf("genesis: %w", err)
	}

	switch {
	case g.InitialBalance.IsNegative():
		return errors.New("genesis: initial balance can't be negative")
	case g.MiningReward.IsNegative():
		return errors.New("genesis: mining reward can't be negative")
	case !g.InitialBalance.Equal(g.InitialBalance.Truncate(AmountPlaces)):
		return fmt.Errorf("genesis: initial balance supports %d fractional digits", AmountPlaces)
	case !g.RewardDecay.IsPositive() || g.RewardDecay.GreaterThan(decimal.NewFromInt(1)):
		return errors.New("genesis: reward decay must be in (0, 1]")
	}

	return nil
}

// MineRateDuration returns the target block interval as a duration.
func (g Genesis) MineRateDuration() time.Duration {
	return time.Duration(g.MineRate) * time.Millisecond
}

// MiningRewardAt returns the subsidy for a block mined on top of a chain of the
// given length. The reward decays once every reward interval and is rounded
// down so every node computes the same amount.
func (g Genesis) MiningRewardAt(chainLength int) decimal.Decimal {
	if chainLength < 0 {
		chainLength = 0
	}

	reward := g.MiningReward
	for range chainLength / g.RewardInterval {
		reward = reward.Mul(g.RewardDecay)
	}

	return reward.RoundFloor(AmountPlaces)
}
