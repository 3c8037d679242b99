// Package database handles all the lower level support for maintaining the
// blockchain in memory: transactions, blocks, balances and the chain itself.
package database

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ardanlabs/powchain/foundation/blockchain/genesis"
	"github.com/ardanlabs/powchain/foundation/blockchain/signature"
)

// Well known addresses that never belong to a key pair.
const (
	BlockchainWallet = "BLOCKCHAIN_WALLET"
	MinerWallet      = "MINER_WALLET"
)

// Set of error variables for business rule violations.
var (
	ErrValidation          = errors.New("validation failed")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// =============================================================================

// ReplaceResult describes the outcome of a chain replacement.
type ReplaceResult int

// Set of possible replacement outcomes.
const (
	Rejected ReplaceResult = iota
	Replaced
	Conflict
)

// String implements the fmt.Stringer interface.
func (r ReplaceResult) String() string {
	switch r {
	case Replaced:
		return "replaced"
	case Conflict:
		return "conflict"
	}
	return "rejected"
}

// Chain manages the ordered sequence of blocks starting at genesis.
type Chain struct {
	mu sync.RWMutex

	genesis   genesis.Genesis
	blocks    []Block
	evHandler func(v string, args ...any)
}

// NewChain constructs a chain holding only the genesis block.
func NewChain(gen genesis.Genesis, evHandler func(v string, args ...any)) *Chain {
	if evHandler == nil {
		evHandler = func(v string, args ...any) {}
	}

	return &Chain{
		genesis:   gen,
		blocks:    []Block{GenesisBlock(gen)},
		evHandler: evHandler,
	}
}

// Genesis returns the consensus values the chain validates against.
func (c *Chain) Genesis() genesis.Genesis {
	return c.genesis
}

// Blocks returns a copy of the current chain.
func (c *Chain) Blocks() []Block {
	c.mu.RLock()
	defer c.mu.RUnlock()

	blocks := make([]Block, len(c.blocks))
	copy(blocks, c.blocks)
	return blocks
}

// Length returns the number of blocks including genesis.
func (c *Chain) Length() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.blocks)
}

// LastBlock returns the tip of the chain.
func (c *Chain) LastBlock() Block {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.blocks[len(c.blocks)-1]
}

// BlockAt returns the block at the specified index.
func (c *Chain) BlockAt(index int) (Block, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if index < 0 || index >= len(c.blocks) {
		return Block{}, false
	}
	return c.blocks[index], true
}

// IsValid checks the candidate starts with our genesis block and every block
// links to and validates against its predecessors.
func (c *Chain) IsValid(candidate []Block) error {
	if len(candidate) == 0 {
		return invalid("empty chain")
	}

	if !IsGenesis(candidate[0], c.genesis) {
		return invalid("genesis block mismatch")
	}

	for i := 1; i < len(candidate); i++ {
		if err := ValidateBlock(candidate[i], candidate[:i], c.genesis, c.evHandler); err != nil {
			return fmt.Errorf("block[%d]: %w", i, err)
		}
	}

	return nil
}

// Append validates the block against the current tip and adds it.
func (c *Chain) Append(block Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ValidateBlock(block, c.blocks, c.genesis, c.evHandler); err != nil {
		return err
	}

	c.blocks = append(c.blocks, block)
	c.evHandler("database: Append: blk[%d]: hash[%s]", len(c.blocks)-1, block.Hash)

	return nil
}

// Replace applies the replacement policy for a chain received from a peer.
// A longer valid chain replaces ours. A valid chain of the same length with a
// different tip is reported as a conflict for the caller to resolve.
func (c *Chain) Replace(candidate []Block) (ReplaceResult, error) {
	local := c.Length()

	if len(candidate) < local {
		return Rejected, invalid("candidate length[%d] shorter than local[%d]", len(candidate), local)
	}

	if err := c.IsValid(candidate); err != nil {
		return Rejected, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// The chain may have moved while the candidate was validated.
	if len(candidate) < len(c.blocks) {
		return Rejected, invalid("candidate length[%d] shorter than local[%d]", len(candidate), len(c.blocks))
	}

	if len(candidate) > len(c.blocks) {
		blocks := make([]Block, len(candidate))
		copy(blocks, candidate)
		c.blocks = blocks

		c.evHandler("database: Replace: replaced: length[%d]", len(blocks))
		return Replaced, nil
	}

	tip := c.blocks[len(c.blocks)-1]
	if signature.Hash(tip) == signature.Hash(candidate[len(candidate)-1]) {
		return Rejected, nil
	}

	c.evHandler("database: Replace: conflict: length[%d]: local[%s]: candidate[%s]", len(c.blocks), tip.Hash, candidate[len(candidate)-1].Hash)
	return Conflict, nil
}

// ReplaceTip swaps the last block for one that validates against the same
// prefix.
func (c *Chain) ReplaceTip(block Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.blocks) < 2 {
		return invalid("genesis block can't be replaced")
	}

	prefix := c.blocks[:len(c.blocks)-1]
	if err := ValidateBlock(block, prefix, c.genesis, c.evHandler); err != nil {
		return err
	}

	c.blocks[len(c.blocks)-1] = block
	c.evHandler("database: ReplaceTip: blk[%d]: hash[%s]", len(c.blocks)-1, block.Hash)

	return nil
}
