package worker_test

import (
	"context"
	"testing"
	"time"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/genesis"
	"github.com/ardanlabs/powchain/foundation/blockchain/signature"
	"github.com/ardanlabs/powchain/foundation/blockchain/state"
	"github.com/ardanlabs/powchain/foundation/blockchain/wallet"
	"github.com/ardanlabs/powchain/foundation/blockchain/worker"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func Test_TwoNodes(t *testing.T) {
	t.Log("Given the need for two nodes to share mined blocks.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen one node mines and the other dials it.", testID)
		{
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			gen := genesis.Default()
			gen.Difficulty = 1
			gen.MineRate = 1

			miner := startNode(t, ctx, gen)
			follower := startNode(t, ctx, gen)

			if err := miner.Submit(ctx, state.StartNetwork{Host: "127.0.0.1"}); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to start the miner network : %s", failed, testID, err)
			}
			address := waitServer(t, miner)
			t.Logf("\t%s\tTest %d:\tShould start the miner network at %s.", success, testID, address)

			if err := follower.Submit(ctx, state.StartNetwork{Host: "127.0.0.1", Peers: []string{address}}); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to start the follower network : %s", failed, testID, err)
			}
			waitServer(t, follower)
			t.Logf("\t%s\tTest %d:\tShould start the follower network.", success, testID)

			if err := miner.Submit(ctx, state.StartMining{}); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to start mining : %s", failed, testID, err)
			}

			deadline := time.After(10 * time.Second)
			for {
				select {
				case chain := <-follower.Notifications().Chain:
					if len(chain) < 2 {
						continue
					}
					t.Logf("\t%s\tTest %d:\tShould receive the mined chain : length[%d].", success, testID, len(chain))
					return

				case <-deadline:
					t.Fatalf("\t%s\tTest %d:\tShould receive the mined chain within 10s.", failed, testID)
				}
			}
		}
	}
}

func Test_ForkConvergence(t *testing.T) {
	t.Log("Given the need for nodes on different forks to settle on one chain.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen a node that mined offline joins a node holding a shorter fork.", testID)
		{
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			gen := genesis.Default()
			gen.Difficulty = 1
			gen.MineRate = 1

			long := startNode(t, ctx, gen)
			short := startNode(t, ctx, gen)

			// The short node holds one block of its own on top of genesis.
			parent := database.NewChain(gen, nil).LastBlock()
			fork, err := database.POW(ctx, database.POWArgs{
				LastBlock: parent,
				Data:      []database.Tx{database.NewRewardTx(short.Address(), nil, 1, gen)},
				MineRate:  gen.MineRate,
			})
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to mine the fork block : %s", failed, testID, err)
			}
			if err := short.Submit(ctx, state.NewBlock{Block: fork}); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to submit the fork block : %s", failed, testID, err)
			}
			chain := waitChain(t, short, func(chain []database.Block) bool { return len(chain) == 2 })
			shortTip, shortLen := chain[1].Hash, len(chain)
			t.Logf("\t%s\tTest %d:\tShould hold a fork of length 2.", success, testID)

			if err := long.Submit(ctx, state.StartMining{}); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to start mining : %s", failed, testID, err)
			}
			chain = waitChain(t, long, func(chain []database.Block) bool { return len(chain) >= 4 })
			longTip := chain[len(chain)-1].Hash
			if err := long.Submit(ctx, state.StopMining{}); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to stop mining : %s", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould mine a longer chain offline.", success, testID)

			if err := long.Submit(ctx, state.StartNetwork{Host: "127.0.0.1"}); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to start the network : %s", failed, testID, err)
			}
			address := waitServer(t, long)

			if err := short.Submit(ctx, state.StartNetwork{Host: "127.0.0.1", Peers: []string{address}}); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to start the network : %s", failed, testID, err)
			}
			waitServer(t, short)
			t.Logf("\t%s\tTest %d:\tShould connect the two nodes.", success, testID)

			deadline := time.After(15 * time.Second)
			for longTip != shortTip {
				select {
				case chain := <-long.Notifications().Chain:
					longTip = chain[len(chain)-1].Hash

				case chain := <-short.Notifications().Chain:
					shortTip = chain[len(chain)-1].Hash
					shortLen = len(chain)

				case <-deadline:
					t.Fatalf("\t%s\tTest %d:\tShould converge within 15s : long[%s] short[%s]", failed, testID, longTip, shortTip)
				}
			}

			if shortLen < 4 {
				t.Fatalf("\t%s\tTest %d:\tShould adopt the longer chain : got length %d", failed, testID, shortLen)
			}
			t.Logf("\t%s\tTest %d:\tShould settle on the same tip : %s", success, testID, shortTip)
		}
	}
}

func Test_DialFailure(t *testing.T) {
	t.Log("Given the need to give up on unreachable peers.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen the only peer can't be reached.", testID)
		{
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			gen := genesis.Default()
			st := startNode(t, ctx, gen)

			if err := st.Submit(ctx, state.StartNetwork{Host: "127.0.0.1", Peers: []string{"ws://127.0.0.1:1"}}); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to start the network : %s", failed, testID, err)
			}

			deadline := time.After(10 * time.Second)
			for {
				select {
				case alert := <-st.Notifications().Alerts:
					if alert.Severity != state.SeverityWarning {
						continue
					}
					t.Logf("\t%s\tTest %d:\tShould warn about the unreachable peer : %s", success, testID, alert.Message)
					return

				case <-deadline:
					t.Fatalf("\t%s\tTest %d:\tShould warn about the unreachable peer within 10s.", failed, testID)
				}
			}
		}
	}
}

// =============================================================================

func startNode(t *testing.T, ctx context.Context, gen genesis.Genesis) *state.State {
	kp, err := signature.GenKeyPair("", "")
	if err != nil {
		t.Fatalf("Should be able to generate a key pair: %s", err)
	}

	st, err := state.New(state.Config{
		Genesis:      gen,
		Wallet:       wallet.New(kp, gen),
		MaxInbounds:  4,
		MaxOutbounds: 4,
	})
	if err != nil {
		t.Fatalf("Should be able to construct the state: %s", err)
	}

	worker.Run(st, nil, worker.WithReconnect(2, 50*time.Millisecond))

	done := make(chan struct{})
	go func() {
		defer close(done)
		st.Run(ctx)
	}()

	t.Cleanup(func() {
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			t.Errorf("Should be able to stop the node.")
		}
	})

	return st
}

func waitServer(t *testing.T, st *state.State) string {
	select {
	case ev := <-st.Notifications().Server:
		if !ev.Started {
			t.Fatalf("Should report the server started.")
		}
		return ev.Address

	case <-time.After(5 * time.Second):
		t.Fatalf("Should report the server within 5s.")
	}

	return ""
}

func waitChain(t *testing.T, st *state.State, done func(chain []database.Block) bool) []database.Block {
	deadline := time.After(10 * time.Second)
	for {
		select {
		case chain := <-st.Notifications().Chain:
			if done(chain) {
				return chain
			}

		case <-deadline:
			t.Fatalf("Should reach the expected chain within 10s.")
		}
	}
}
