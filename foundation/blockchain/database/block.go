package database

import (
	"context"
	"math/rand/v2"
	"runtime"
	"strings"
	"time"

	"github.com/ardanlabs/powchain/foundation/blockchain/genesis"
	"github.com/ardanlabs/powchain/foundation/blockchain/signature"
)

// maxSeenNonces bounds the memory used to remember tried nonces.
const maxSeenNonces = 1 << 20

// =============================================================================

// Block represents a group of transactions batched together.
type Block struct {
	Timestamp  int64  `json:"timestamp"`  // Unix milliseconds when the nonce was found.
	LastHash   string `json:"lastHash"`   // Hash of the previous block in the chain.
	Hash       string `json:"hash"`       // Hash of this block's content.
	Data       []Tx   `json:"data"`       // Transactions including exactly one reward.
	Nonce      uint64 `json:"nonce"`      // Value identified to solve the hash solution.
	Difficulty uint   `json:"difficulty"` // Number of 0's needed to solve the hash solution.
}

// GenesisBlock returns the fixed first block every node starts from.
func GenesisBlock(gen genesis.Genesis) Block {
	return Block{
		Timestamp:  gen.Timestamp,
		LastHash:   genesis.LastHash,
		Hash:       genesis.Hash,
		Data:       []Tx{},
		Nonce:      0,
		Difficulty: gen.Difficulty,
	}
}

// IsGenesis reports whether the block matches the genesis block exactly.
func IsGenesis(b Block, gen genesis.Genesis) bool {
	g := GenesisBlock(gen)

	return b.Timestamp == g.Timestamp &&
		b.LastHash == g.LastHash &&
		b.Hash == g.Hash &&
		b.Nonce == g.Nonce &&
		b.Difficulty == g.Difficulty &&
		len(b.Data) == 0
}

// BlockHash returns the hash over the content of a block.
func BlockHash(timestamp int64, lastHash string, data []Tx, nonce uint64, difficulty uint) string {
	content := struct {
		Timestamp  int64  `json:"timestamp"`
		LastHash   string `json:"lastHash"`
		Data       []Tx   `json:"data"`
		Nonce      uint64 `json:"nonce"`
		Difficulty uint   `json:"difficulty"`
	}{
		Timestamp:  timestamp,
		LastHash:   lastHash,
		Data:       data,
		Nonce:      nonce,
		Difficulty: difficulty,
	}

	return signature.Hash(content)
}

// ComputeHash recomputes the hash of the block from its content.
func (b Block) ComputeHash() string {
	return BlockHash(b.Timestamp, b.LastHash, b.Data, b.Nonce, b.Difficulty)
}

// AdjustDifficulty raises the difficulty when the previous block was found
// faster than the mine rate and lowers it otherwise. It never drops below 1.
func AdjustDifficulty(lastBlock Block, now int64, mineRate int64) uint {
	if lastBlock.Timestamp+mineRate > now {
		return lastBlock.Difficulty + 1
	}

	if lastBlock.Difficulty <= 1 {
		return 1
	}

	return lastBlock.Difficulty - 1
}

// IsHashSolved checks the hash starts with difficulty zero characters.
func IsHashSolved(difficulty uint, hash string) bool {
	if uint(len(hash)) < difficulty {
		return false
	}

	return strings.Count(hash[:difficulty], "0") == int(difficulty)
}

// =============================================================================

// POWArgs represents the set of arguments required to run POW.
type POWArgs struct {
	LastBlock Block
	Data      []Tx
	MineRate  int64
	EvHandler func(v string, args ...any)
}

// POW constructs a new Block and performs the work to find a nonce that
// solves the cryptographic POW puzzle. Nonces are sampled at random and the
// timestamp and difficulty are recomputed on every attempt. The context is
// checked once per attempt.
func POW(ctx context.Context, args POWArgs) (Block, error) {
	ev := args.EvHandler
	if ev == nil {
		ev = func(v string, args ...any) {}
	}

	ev("worker: PerformPOW: MINING: started: txs[%d]", len(args.Data))
	defer ev("worker: PerformPOW: MINING: completed")

	for _, tx := range args.Data {
		ev("worker: PerformPOW: MINING: tx[%s]", tx)
	}

	seen := make(map[uint64]struct{})

	var attempts uint64
	for {
		attempts++
		if attempts%1_000_000 == 0 {
			ev("worker: PerformPOW: MINING: attempts[%d]", attempts)
		}

		// Did we get cancelled while trying to solve the problem.
		if ctx.Err() != nil {
			ev("worker: PerformPOW: MINING: CANCELLED")
			return Block{}, ctx.Err()
		}

		nonce := rand.Uint64()
		if _, exists := seen[nonce]; exists {
			continue
		}
		if len(seen) >= maxSeenNonces {
			clear(seen)
		}
		seen[nonce] = struct{}{}

		timestamp := time.Now().UnixMilli()
		difficulty := AdjustDifficulty(args.LastBlock, timestamp, args.MineRate)
		hash := BlockHash(timestamp, args.LastBlock.Hash, args.Data, nonce, difficulty)

		if IsHashSolved(difficulty, hash) {
			ev("worker: PerformPOW: MINING: SOLVED: prevBlk[%s]: newBlk[%s]: attempts[%d]", args.LastBlock.Hash, hash, attempts)

			nb := Block{
				Timestamp:  timestamp,
				LastHash:   args.LastBlock.Hash,
				Hash:       hash,
				Data:       args.Data,
				Nonce:      nonce,
				Difficulty: difficulty,
			}
			return nb, nil
		}

		runtime.Gosched()
	}
}

// =============================================================================

// ValidateBlock takes a block and validates it to be appended to the prefix.
func ValidateBlock(b Block, prefix []Block, gen genesis.Genesis, evHandler func(v string, args ...any)) error {
	if evHandler == nil {
		evHandler = func(v string, args ...any) {}
	}

	if len(prefix) == 0 {
		return invalid("block has no predecessor")
	}
	prev := prefix[len(prefix)-1]

	evHandler("database: ValidateBlock: validate: blk[%d]: check: links to previous hash", len(prefix))
	if b.LastHash != prev.Hash {
		return invalid("last hash[%s] does not match previous hash[%s]", b.LastHash, prev.Hash)
	}

	evHandler("database: ValidateBlock: validate: blk[%d]: check: hash has been computed correctly", len(prefix))
	if hash := b.ComputeHash(); b.Hash != hash {
		return invalid("block hash[%s] does not match computed hash[%s]", b.Hash, hash)
	}

	evHandler("database: ValidateBlock: validate: blk[%d]: check: hash has been solved", len(prefix))
	if !IsHashSolved(b.Difficulty, b.Hash) {
		return invalid("block hash[%s] not solved for difficulty[%d]", b.Hash, b.Difficulty)
	}

	evHandler("database: ValidateBlock: validate: blk[%d]: check: difficulty follows previous difficulty[%d]", len(prefix), prev.Difficulty)
	up := AdjustDifficulty(prev, prev.Timestamp-1, gen.MineRate)
	down := AdjustDifficulty(prev, prev.Timestamp+gen.MineRate, gen.MineRate)
	if b.Difficulty != up && b.Difficulty != down {
		return invalid("difficulty[%d] can't follow difficulty[%d]", b.Difficulty, prev.Difficulty)
	}

	evHandler("database: ValidateBlock: validate: blk[%d]: check: transactions are valid", len(prefix))
	return ValidateBlockData(b.Data, prefix, gen)
}

// ValidateBlockData checks the transactions of a block mined on top of the
// prefix. Exactly one reward is required and the signed transactions must
// be individually valid and spendable in sequence.
func ValidateBlockData(data []Tx, prefix []Block, gen genesis.Genesis) error {
	if data == nil {
		return invalid("block data must be a list")
	}

	var rewards []Tx
	var signed []Tx
	for _, tx := range data {
		switch {
		case tx.Input == nil:
			return invalid("transaction[%s] has no input", tx.ID)
		case tx.IsReward():
			rewards = append(rewards, tx)
		default:
			signed = append(signed, tx)
		}
	}

	if len(rewards) != 1 {
		return invalid("block must have exactly one reward, got %d", len(rewards))
	}

	for _, tx := range signed {
		if err := tx.Validate(); err != nil {
			return err
		}
	}

	if err := VerifyRewardTx(rewards[0], signed, len(prefix), gen); err != nil {
		return err
	}

	kept, _ := ValidateSequence(signed, prefix, gen.InitialBalance)
	if len(kept) != len(signed) {
		return invalid("block spends more than sender balances allow")
	}

	return nil
}
