package mempool_test

import (
	"testing"
	"time"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/genesis"
	"github.com/ardanlabs/powchain/foundation/blockchain/mempool"
	"github.com/ardanlabs/powchain/foundation/blockchain/signature"
	"github.com/shopspring/decimal"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func sign(t *testing.T, amount string, fee string) database.Tx {
	kp, err := signature.GenKeyPair("", "")
	if err != nil {
		t.Fatalf("Should be able to generate a key pair: %s", err)
	}

	to, err := signature.GenKeyPair("", "")
	if err != nil {
		t.Fatalf("Should be able to generate a key pair: %s", err)
	}

	tx, err := database.NewTx(kp, decimal.NewFromInt(500), to.Address(), decimal.RequireFromString(amount), decimal.RequireFromString(fee))
	if err != nil {
		t.Fatalf("Should be able to sign transaction: %s", err)
	}

	return tx
}

func TestCRUD(t *testing.T) {
	t.Log("Given the need to validate mempool api.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen handling a set of transaction.", testID)
		{
			mp, err := mempool.New()
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to construct the mempool: %s", failed, testID, err)
			}

			a := sign(t, "10", "5")
			b := sign(t, "10", "1")

			for _, tx := range []database.Tx{a, b} {
				changed, err := mp.Upsert(tx)
				if err != nil || !changed {
					t.Fatalf("\t%s\tTest %d:\tShould be able to add new transaction: %v", failed, testID, err)
				}
			}
			t.Logf("\t%s\tTest %d:\tShould be able to add new transactions.", success, testID)

			best := mp.SelectForBlock(decimal.Zero, 1<<20)
			if len(best) != 2 || best[0].ID != a.ID || best[1].ID != b.ID {
				t.Fatalf("\t%s\tTest %d:\tShould select [A, B] with the higher fee first.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould select [A, B] with the higher fee first.", success, testID)

			if changed, err := mp.Upsert(a); changed || err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould report no change for an identical resubmission.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould report no change for an identical resubmission.", success, testID)

			replacement := sign(t, "20", "2")
			replacement.ID = a.ID
			if changed, err := mp.Upsert(replacement); !changed || err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould replace a transaction by id: %v", failed, testID, err)
			}
			if mp.Count() != 2 || mp.Copy()[0].Input.Address != replacement.Input.Address {
				t.Fatalf("\t%s\tTest %d:\tShould keep the position of the replaced transaction.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould replace a transaction by id.", success, testID)

			if _, exists := mp.FromAddress(b.Input.Address); !exists {
				t.Fatalf("\t%s\tTest %d:\tShould find the pending transaction of a sender.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould find the pending transaction of a sender.", success, testID)

			mp.Truncate()
			if mp.Count() != 0 || len(mp.Copy()) != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould be able to clear the pool.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to clear the pool.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen handling an invalid transaction.", testID)
		{
			mp, err := mempool.New()
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to construct the mempool: %s", failed, testID, err)
			}

			tx := sign(t, "10", "1")
			tx.Input.Amount = decimal.NewFromInt(1000)

			if changed, err := mp.Upsert(tx); changed || err == nil {
				t.Fatalf("\t%s\tTest %d:\tShould refuse the transaction.", failed, testID)
			}
			if mp.Count() != 0 || mp.Stats().Rejected != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould count the refusal without storing it.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould count the refusal without storing it.", success, testID)
		}
	}
}

func TestChainInteraction(t *testing.T) {
	gen := genesis.Default()
	chain := database.NewChain(gen, nil)

	kp, err := signature.GenKeyPair("", "")
	if err != nil {
		t.Fatalf("Should be able to generate a key pair: %s", err)
	}

	first, err := database.NewTx(kp, gen.InitialBalance, "recipient-1", decimal.NewFromInt(300), decimal.Zero)
	if err != nil {
		t.Fatalf("Should be able to create a transaction: %s", err)
	}
	time.Sleep(2 * time.Millisecond)
	second, err := database.NewTx(kp, gen.InitialBalance, "recipient-2", decimal.NewFromInt(300), decimal.Zero)
	if err != nil {
		t.Fatalf("Should be able to create a transaction: %s", err)
	}

	mp, err := mempool.New()
	if err != nil {
		t.Fatalf("Should be able to construct the mempool: %s", err)
	}
	mp.Upsert(first)
	mp.Upsert(second)

	kept := mp.ValidateSequence(mp.Copy(), chain.Blocks(), gen.InitialBalance)
	if len(kept) != 1 || kept[0].ID != first.ID {
		t.Fatalf("Should drop the overdrawing transaction, kept %d.", len(kept))
	}
	if mp.Stats().Dropped != 1 {
		t.Fatalf("Should count the dropped transaction, got %d.", mp.Stats().Dropped)
	}

	blocks := chain.Blocks()
	blocks = append(blocks, database.Block{Data: []database.Tx{first}})
	if removed := mp.RemoveConfirmed(blocks); removed != 1 {
		t.Fatalf("Should remove the confirmed transaction, removed %d.", removed)
	}
	if _, exists := mp.Get(first.ID); exists || mp.Count() != 1 {
		t.Fatalf("Should only keep the unconfirmed transaction.")
	}

	// The second spend was signed over 500 but the chain now leaves 200.
	other := sign(t, "10", "1")
	mp.Upsert(other)

	if pruned := mp.PruneInvalid(blocks, gen.InitialBalance); pruned != 1 {
		t.Fatalf("Should prune the transaction the new chain can't cover, pruned %d.", pruned)
	}
	if _, exists := mp.Get(second.ID); exists {
		t.Fatalf("Should not keep the overdrawing transaction.")
	}
	if _, exists := mp.Get(other.ID); !exists || mp.Count() != 1 {
		t.Fatalf("Should keep the transaction that is still spendable.")
	}
	if mp.Stats().Dropped != 2 {
		t.Fatalf("Should count the pruned transaction, got %d.", mp.Stats().Dropped)
	}
}
