package genesis_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ardanlabs/powchain/foundation/blockchain/genesis"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func Test_MiningReward(t *testing.T) {
	type table struct {
		name   string
		length int
		reward string
	}

	tt := []table{
		{name: "first", length: 1, reward: "50"},
		{name: "before-decay", length: 119, reward: "50"},
		{name: "first-decay", length: 120, reward: "45"},
		{name: "second-decay", length: 240, reward: "40.5"},
		{name: "third-decay", length: 360, reward: "36.45"},
		{name: "rounded-down", length: 480, reward: "32.8"},
	}

	gen := genesis.Default()

	t.Log("Given the need to compute a decaying mining reward.")
	{
		for testID, tst := range tt {
			f := func(t *testing.T) {
				t.Logf("\tTest %d:\tWhen handling a chain of length %d.", testID, tst.length)
				{
					got := gen.MiningRewardAt(tst.length)
					if got.String() != tst.reward {
						t.Logf("\t%s\tTest %d:\tgot: %s", failed, testID, got)
						t.Logf("\t%s\tTest %d:\texp: %s", failed, testID, tst.reward)
						t.Fatalf("\t%s\tTest %d:\tShould get back the right reward.", failed, testID)
					}
					t.Logf("\t%s\tTest %d:\tShould get back the right reward.", success, testID)
				}
			}

			t.Run(tst.name, f)
		}
	}
}

func Test_Load(t *testing.T) {
	t.Log("Given the need to load a genesis file.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen overriding a subset of the values.", testID)
		{
			path := filepath.Join(t.TempDir(), "genesis.json")
			if err := os.WriteFile(path, []byte(`{"difficulty":1,"mine_rate":5,"mining_reward":"10.5"}`), 0600); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to write the file: %s", failed, testID, err)
			}

			gen, err := genesis.Load(path)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to load the file: %s", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to load the file.", success, testID)

			if gen.Difficulty != 1 || gen.MineRate != 5 || gen.MiningReward.String() != "10.5" {
				t.Fatalf("\t%s\tTest %d:\tShould see the overridden values: %+v", failed, testID, gen)
			}
			if gen.RewardInterval != genesis.Default().RewardInterval {
				t.Fatalf("\t%s\tTest %d:\tShould keep the default reward interval.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould merge the file with the defaults.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen the file carries an invalid difficulty.", testID)
		{
			path := filepath.Join(t.TempDir(), "genesis.json")
			if err := os.WriteFile(path, []byte(`{"difficulty":0}`), 0600); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to write the file: %s", failed, testID, err)
			}

			if _, err := genesis.Load(path); err == nil {
				t.Fatalf("\t%s\tTest %d:\tShould reject a zero difficulty.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould reject a zero difficulty.", success, testID)
		}
	}
}
