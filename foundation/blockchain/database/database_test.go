package database_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/genesis"
	"github.com/ardanlabs/powchain/foundation/blockchain/signature"
	"github.com/shopspring/decimal"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

// =============================================================================

func Test_Transaction(t *testing.T) {
	sender := newKeyPair(t)
	recipient := newKeyPair(t)
	balance := decimal.NewFromInt(500)

	t.Log("Given the need to build and validate transactions.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen creating a transaction within the balance.", testID)
		{
			tx, err := database.NewTx(sender, balance, recipient.Address(), dec("50"), dec("1.5"))
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to create a transaction: %s", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to create a transaction.", success, testID)

			if !tx.AmountTo(sender.Address()).Equal(dec("448.5")) {
				t.Fatalf("\t%s\tTest %d:\tShould leave change of 448.5, got %s.", failed, testID, tx.AmountTo(sender.Address()))
			}
			if !tx.AmountTo(recipient.Address()).Equal(dec("50")) || !tx.Fee().Equal(dec("1.5")) {
				t.Fatalf("\t%s\tTest %d:\tShould credit the recipient and the fee output.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould produce change, recipient and fee outputs.", success, testID)

			if err := tx.Validate(); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould validate: %s", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould validate.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen the amount and fee exceed the balance.", testID)
		{
			_, err := database.NewTx(sender, balance, recipient.Address(), dec("500"), dec("0.01"))
			if !errors.Is(err, database.ErrInsufficientBalance) {
				t.Fatalf("\t%s\tTest %d:\tShould get ErrInsufficientBalance: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould get ErrInsufficientBalance.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen amending a pending transaction.", testID)
		{
			third := newKeyPair(t)

			tx, err := database.NewTx(sender, balance, recipient.Address(), dec("50"), dec("1"))
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to create a transaction: %s", failed, testID, err)
			}

			if err := tx.Update(sender, third.Address(), dec("20"), dec("2")); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to update the transaction: %s", failed, testID, err)
			}

			if !tx.AmountTo(sender.Address()).Equal(dec("427")) {
				t.Fatalf("\t%s\tTest %d:\tShould reduce the change to 427, got %s.", failed, testID, tx.AmountTo(sender.Address()))
			}
			if !tx.AmountTo(third.Address()).Equal(dec("20")) || !tx.Fee().Equal(dec("3")) {
				t.Fatalf("\t%s\tTest %d:\tShould add the recipient and increment the fee.", failed, testID)
			}
			if err := tx.Validate(); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould still validate: %s", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould amend and re-sign the transaction.", success, testID)

			if err := tx.Update(sender, third.Address(), dec("427"), dec("1")); !errors.Is(err, database.ErrInsufficientBalance) {
				t.Fatalf("\t%s\tTest %d:\tShould not be able to spend more than the change: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould not be able to spend more than the change.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen the input amount does not match the outputs.", testID)
		{
			tx, err := database.NewTx(sender, balance, recipient.Address(), dec("50"), dec("1"))
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to create a transaction: %s", failed, testID, err)
			}

			// The signature covers the outputs only, so it stays correct.
			tx.Input.Amount = dec("1000")
			if !signature.VerifySignature(tx.Input.Address, tx.Input.Signature, signature.Digest(tx.Outputs)) {
				t.Fatalf("\t%s\tTest %d:\tShould still carry a correct signature.", failed, testID)
			}

			if err := tx.Validate(); !errors.Is(err, database.ErrValidation) {
				t.Fatalf("\t%s\tTest %d:\tShould fail validation: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould fail validation with a correct signature.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen an output was tampered with.", testID)
		{
			tx, err := database.NewTx(sender, balance, recipient.Address(), dec("50"), dec("1"))
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to create a transaction: %s", failed, testID, err)
			}

			tx.Outputs[1].Amount = dec("60")
			tx.Outputs[0].Amount = dec("439")
			if err := tx.Validate(); !errors.Is(err, database.ErrValidation) {
				t.Fatalf("\t%s\tTest %d:\tShould fail signature verification: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould fail signature verification.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen the outputs carry sub-cent amounts that round to the input.", testID)
		{
			outputs := []database.Output{
				{Address: sender.Address(), Amount: dec("0.009")},
				{Address: recipient.Address(), Amount: dec("499.995")},
				{Address: database.MinerWallet, Amount: dec("0")},
			}

			sig, err := sender.Sign(signature.Digest(outputs))
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to sign the outputs: %s", failed, testID, err)
			}

			tx := database.Tx{
				ID: "sub-cent",
				Input: &database.Input{
					Timestamp: time.Now().UnixMilli(),
					Address:   sender.Address(),
					Amount:    balance,
					Signature: sig,
				},
				Outputs: outputs,
			}

			if err := tx.Validate(); !errors.Is(err, database.ErrValidation) {
				t.Fatalf("\t%s\tTest %d:\tShould reject outputs worth 500.004: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject outputs worth 500.004.", success, testID)

			gen := testGenesis()
			chain := database.NewChain(gen, nil)
			block := mineBlock(t, chain.Blocks(), gen, recipient.Address(), []database.Tx{tx})
			if err := chain.Append(block); err == nil {
				t.Fatalf("\t%s\tTest %d:\tShould not append a block carrying the transaction.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould not append a block carrying the transaction.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen sending to self or with bad amounts.", testID)
		{
			tt := []struct {
				name      string
				recipient string
				amount    string
				fee       string
			}{
				{"self", sender.Address(), "1", "0"},
				{"zero-amount", recipient.Address(), "0", "0"},
				{"negative-fee", recipient.Address(), "1", "-1"},
				{"too-precise", recipient.Address(), "1.001", "0"},
				{"reserved", database.MinerWallet, "1", "0"},
			}

			for _, tst := range tt {
				f := func(t *testing.T) {
					if _, err := database.NewTx(sender, balance, tst.recipient, dec(tst.amount), dec(tst.fee)); !errors.Is(err, database.ErrValidation) {
						t.Fatalf("\t%s\tTest %d:\tShould reject the transaction: %v", failed, testID, err)
					}
					t.Logf("\t%s\tTest %d:\tShould reject the transaction.", success, testID)
				}
				t.Run(tst.name, f)
			}
		}
	}
}

func Test_RewardTransaction(t *testing.T) {
	gen := testGenesis()
	sender := newKeyPair(t)
	miner := newKeyPair(t)

	tx1, err := database.NewTx(sender, dec("500"), newKeyPair(t).Address(), dec("10"), dec("2"))
	if err != nil {
		t.Fatalf("Should be able to create a transaction: %s", err)
	}

	reward := database.NewRewardTx(miner.Address(), []database.Tx{tx1}, 1, gen)
	if !reward.IsReward() || reward.Input.Address != database.BlockchainWallet {
		t.Fatalf("Should build an unsigned reward from the blockchain wallet.")
	}

	if !reward.Outputs[0].Amount.Equal(dec("52")) {
		t.Fatalf("Should pay the subsidy plus fees, got %s.", reward.Outputs[0].Amount)
	}

	if err := database.VerifyRewardTx(reward, []database.Tx{tx1}, 1, gen); err != nil {
		t.Fatalf("Should verify the reward: %s", err)
	}

	if err := database.VerifyRewardTx(reward, nil, 1, gen); err == nil {
		t.Fatalf("Should not verify the reward without the fees it claims.")
	}
}

func Test_Difficulty(t *testing.T) {
	last := database.Block{Timestamp: 10_000, Difficulty: 3}

	type table struct {
		name string
		last database.Block
		now  int64
		exp  uint
	}

	tt := []table{
		{name: "fast", last: last, now: 10_500, exp: 4},
		{name: "slow", last: last, now: 20_000, exp: 2},
		{name: "floor", last: database.Block{Timestamp: 0, Difficulty: 1}, now: 20_000, exp: 1},
	}

	t.Log("Given the need to adjust the difficulty.")
	{
		for testID, tst := range tt {
			f := func(t *testing.T) {
				got := database.AdjustDifficulty(tst.last, tst.now, 1000)
				if got != tst.exp {
					t.Fatalf("\t%s\tTest %d:\tShould get difficulty %d, got %d.", failed, testID, tst.exp, got)
				}
				t.Logf("\t%s\tTest %d:\tShould get difficulty %d.", success, testID, tst.exp)
			}
			t.Run(tst.name, f)
		}
	}

	if !database.IsHashSolved(2, "00ab") || database.IsHashSolved(3, "00ab") || database.IsHashSolved(5, "0000") {
		t.Fatalf("Should check the leading zero characters.")
	}
}

func Test_POW(t *testing.T) {
	t.Log("Given the need to mine a block.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen the difficulty is held at 3.", testID)
		{
			// The previous block is in the future so every attempt raises
			// its difficulty of 2 to 3.
			last := database.Block{Timestamp: time.Now().Add(time.Hour).UnixMilli(), Hash: "prev", Difficulty: 2}
			data := []database.Tx{database.NewRewardTx("miner", nil, 1, testGenesis())}

			block, err := database.POW(context.Background(), database.POWArgs{LastBlock: last, Data: data, MineRate: 1000})
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to mine a block: %s", failed, testID, err)
			}

			if block.Difficulty != 3 || !strings.HasPrefix(block.Hash, "000") {
				t.Fatalf("\t%s\tTest %d:\tShould get a hash with 3 leading zeros: %s", failed, testID, block.Hash)
			}
			if block.ComputeHash() != block.Hash || block.LastHash != "prev" {
				t.Fatalf("\t%s\tTest %d:\tShould get a consistent block.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould get a hash with 3 leading zeros.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen mining is cancelled.", testID)
		{
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			last := database.Block{Timestamp: time.Now().Add(time.Hour).UnixMilli(), Difficulty: 63}
			if _, err := database.POW(ctx, database.POWArgs{LastBlock: last, MineRate: 1000}); !errors.Is(err, context.Canceled) {
				t.Fatalf("\t%s\tTest %d:\tShould stop with a cancellation: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould stop with a cancellation.", success, testID)
		}
	}
}

func Test_Chain(t *testing.T) {
	gen := testGenesis()
	miner := newKeyPair(t)

	t.Log("Given the need to maintain a chain of blocks.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen mining a reward-only block on genesis.", testID)
		{
			chain := database.NewChain(gen, nil)
			if chain.Length() != 1 || !database.IsGenesis(chain.LastBlock(), gen) {
				t.Fatalf("\t%s\tTest %d:\tShould start with the genesis block.", failed, testID)
			}

			block := mineBlock(t, chain.Blocks(), gen, miner.Address(), nil)
			if err := chain.Append(block); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to append the block: %s", failed, testID, err)
			}

			if chain.Length() != 2 {
				t.Fatalf("\t%s\tTest %d:\tShould have a length of 2, got %d.", failed, testID, chain.Length())
			}
			if err := chain.IsValid(chain.Blocks()); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be a valid chain: %s", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould have a valid chain of length 2.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen a single field of a block is tampered with.", testID)
		{
			chain := database.NewChain(gen, nil)
			blocks := chain.Blocks()
			blocks = append(blocks, mineBlock(t, blocks, gen, miner.Address(), nil))
			blocks = append(blocks, mineBlock(t, blocks, gen, miner.Address(), nil))

			tt := []struct {
				name   string
				tamper func(b *database.Block)
			}{
				{"data", func(b *database.Block) { b.Data[0].Outputs[0].Amount = b.Data[0].Outputs[0].Amount.Add(dec("1")) }},
				{"hash", func(b *database.Block) { b.Hash = flip(b.Hash) }},
				{"lastHash", func(b *database.Block) { b.LastHash = flip(b.LastHash) }},
			}

			for _, tst := range tt {
				f := func(t *testing.T) {
					for idx := 1; idx < len(blocks); idx++ {
						candidate := cloneBlocks(blocks)
						tst.tamper(&candidate[idx])

						if err := chain.IsValid(candidate); err == nil {
							t.Fatalf("\t%s\tTest %d:\tShould reject a tampered %s at block %d.", failed, testID, tst.name, idx)
						}
					}
					t.Logf("\t%s\tTest %d:\tShould reject a tampered %s.", success, testID, tst.name)
				}
				t.Run(tst.name, f)
			}

			candidate := cloneBlocks(blocks)
			candidate[0].Nonce = 1
			if err := chain.IsValid(candidate); err == nil {
				t.Fatalf("\t%s\tTest %d:\tShould reject a different genesis block.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould reject a different genesis block.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen replacing the chain.", testID)
		{
			local := database.NewChain(gen, nil)
			if err := local.Append(mineBlock(t, local.Blocks(), gen, miner.Address(), nil)); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to append: %s", failed, testID, err)
			}

			shorter := database.NewChain(gen, nil).Blocks()
			if res, err := local.Replace(shorter); res != database.Rejected || err == nil {
				t.Fatalf("\t%s\tTest %d:\tShould reject a shorter chain: %s %v", failed, testID, res, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject a shorter chain.", success, testID)

			if res, err := local.Replace(local.Blocks()); res != database.Rejected || err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould ignore an identical chain: %s %v", failed, testID, res, err)
			}
			t.Logf("\t%s\tTest %d:\tShould ignore an identical chain.", success, testID)

			fork := database.NewChain(gen, nil).Blocks()
			fork = append(fork, mineBlock(t, fork, gen, newKeyPair(t).Address(), nil))
			if res, err := local.Replace(fork); res != database.Conflict || err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould report a conflict: %s %v", failed, testID, res, err)
			}
			t.Logf("\t%s\tTest %d:\tShould report a conflict for an equal length fork.", success, testID)

			invalidLonger := append(cloneBlocks(fork), mineBlock(t, fork, gen, miner.Address(), nil))
			invalidLonger[2].Hash = flip(invalidLonger[2].Hash)
			if res, err := local.Replace(invalidLonger); res != database.Rejected || err == nil {
				t.Fatalf("\t%s\tTest %d:\tShould reject an invalid longer chain: %s %v", failed, testID, res, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject an invalid longer chain.", success, testID)

			longer := append(cloneBlocks(fork), mineBlock(t, fork, gen, miner.Address(), nil))
			if res, err := local.Replace(longer); res != database.Replaced || err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould replace with a longer chain: %s %v", failed, testID, res, err)
			}
			if local.Length() != 3 || local.LastBlock().Hash != longer[2].Hash {
				t.Fatalf("\t%s\tTest %d:\tShould hold the longer chain.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould replace with a longer chain.", success, testID)

			tip := mineBlock(t, local.Blocks()[:2], gen, newKeyPair(t).Address(), nil)
			if err := local.ReplaceTip(tip); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould replace the tip: %s", failed, testID, err)
			}
			if local.Length() != 3 || local.LastBlock().Hash != tip.Hash {
				t.Fatalf("\t%s\tTest %d:\tShould hold the new tip.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould replace only the tip.", success, testID)
		}
	}
}

func Test_Balance(t *testing.T) {
	gen := testGenesis()
	miner := newKeyPair(t)
	recipient := newKeyPair(t)
	other := newKeyPair(t)

	t.Log("Given the need to calculate balances from the chain.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen a miner is rewarded and then spends.", testID)
		{
			chain := database.NewChain(gen, nil)

			if err := chain.Append(mineBlock(t, chain.Blocks(), gen, miner.Address(), nil)); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to append: %s", failed, testID, err)
			}

			balance := database.CalculateBalance(chain.Blocks(), miner.Address(), gen.InitialBalance)
			if !balance.Equal(dec("550")) {
				t.Fatalf("\t%s\tTest %d:\tShould have a balance of 550, got %s.", failed, testID, balance)
			}
			t.Logf("\t%s\tTest %d:\tShould credit the reward.", success, testID)

			tx, err := database.NewTx(miner, balance, recipient.Address(), dec("100"), dec("5"))
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to create a transaction: %s", failed, testID, err)
			}

			if err := chain.Append(mineBlock(t, chain.Blocks(), gen, other.Address(), []database.Tx{tx})); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to append: %s", failed, testID, err)
			}

			exp := map[string]string{
				miner.Address():     "445",
				recipient.Address(): "600",
				other.Address():     "555",
			}
			for address, amount := range exp {
				if got := database.CalculateBalance(chain.Blocks(), address, gen.InitialBalance); !got.Equal(dec(amount)) {
					t.Fatalf("\t%s\tTest %d:\tShould have a balance of %s, got %s.", failed, testID, amount, got)
				}
			}
			t.Logf("\t%s\tTest %d:\tShould anchor the sender at its change and credit the others.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen replaying a double spend.", testID)
		{
			chain := database.NewChain(gen, nil)
			sender := newKeyPair(t)

			tx1, err := database.NewTx(sender, gen.InitialBalance, recipient.Address(), dec("400"), dec("0"))
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to create a transaction: %s", failed, testID, err)
			}
			time.Sleep(2 * time.Millisecond)
			tx2, err := database.NewTx(sender, gen.InitialBalance, other.Address(), dec("400"), dec("0"))
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to create a transaction: %s", failed, testID, err)
			}

			kept, dropped := database.ValidateSequence([]database.Tx{tx2, tx1}, chain.Blocks(), gen.InitialBalance)
			if len(kept) != 1 || dropped != 1 || kept[0].ID != tx1.ID {
				t.Fatalf("\t%s\tTest %d:\tShould keep only the earliest spend: kept[%d] dropped[%d]", failed, testID, len(kept), dropped)
			}
			t.Logf("\t%s\tTest %d:\tShould keep only the earliest spend.", success, testID)

			reward := database.NewRewardTx(miner.Address(), []database.Tx{tx1, tx2}, 1, gen)
			data := []database.Tx{tx1, tx2, reward}
			if err := database.ValidateBlockData(data, chain.Blocks(), gen); !errors.Is(err, database.ErrValidation) {
				t.Fatalf("\t%s\tTest %d:\tShould reject a block carrying the double spend: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject a block carrying the double spend.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen a block has no reward or two rewards.", testID)
		{
			chain := database.NewChain(gen, nil)

			if err := database.ValidateBlockData([]database.Tx{}, chain.Blocks(), gen); err == nil {
				t.Fatalf("\t%s\tTest %d:\tShould reject a block without a reward.", failed, testID)
			}

			r1 := database.NewRewardTx(miner.Address(), nil, 1, gen)
			r2 := database.NewRewardTx(other.Address(), nil, 1, gen)
			if err := database.ValidateBlockData([]database.Tx{r1, r2}, chain.Blocks(), gen); err == nil {
				t.Fatalf("\t%s\tTest %d:\tShould reject a block with two rewards.", failed, testID)
			}

			r3 := database.NewRewardTx(miner.Address(), nil, 7, gen)
			r3.Outputs[0].Amount = dec("51")
			if err := database.ValidateBlockData([]database.Tx{r3}, chain.Blocks(), gen); err == nil {
				t.Fatalf("\t%s\tTest %d:\tShould reject an inflated reward.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould require exactly one correct reward.", success, testID)
		}
	}
}

// =============================================================================

func testGenesis() genesis.Genesis {
	gen := genesis.Default()
	gen.Difficulty = 1
	gen.MineRate = 1
	return gen
}

func newKeyPair(t *testing.T) signature.KeyPair {
	kp, err := signature.GenKeyPair("", "")
	if err != nil {
		t.Fatalf("Should be able to generate a key pair: %s", err)
	}
	return kp
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func mineBlock(t *testing.T, blocks []database.Block, gen genesis.Genesis, miner string, txs []database.Tx) database.Block {
	reward := database.NewRewardTx(miner, txs, len(blocks), gen)
	data := append(slices.Clone(txs), reward)

	block, err := database.POW(context.Background(), database.POWArgs{
		LastBlock: blocks[len(blocks)-1],
		Data:      data,
		MineRate:  gen.MineRate,
	})
	if err != nil {
		t.Fatalf("Should be able to mine a block: %s", err)
	}

	return block
}

func cloneBlocks(blocks []database.Block) []database.Block {
	out := make([]database.Block, len(blocks))
	for i, b := range blocks {
		b.Data = slices.Clone(b.Data)
		for j, tx := range b.Data {
			tx.Outputs = slices.Clone(tx.Outputs)
			b.Data[j] = tx
		}
		out[i] = b
	}
	return out
}

func flip(s string) string {
	if s == "" {
		return "x"
	}
	c := 'a'
	if s[0] == 'a' {
		c = 'b'
	}
	return string(c) + s[1:]
}
