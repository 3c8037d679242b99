package cmd

import (
	"fmt"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/signature"
	"github.com/ardanlabs/powchain/foundation/nameservice"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	to     string
	amount string
	fee    string
)

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Sign a transaction locally and submit it to the node",
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := decimal.NewFromString(amount)
		if err != nil {
			return fmt.Errorf("parsing amount: %w", err)
		}

		tip, err := decimal.NewFromString(fee)
		if err != nil {
			return fmt.Errorf("parsing fee: %w", err)
		}

		kp, err := loadKeyPair()
		if err != nil {
			return err
		}

		ns, err := nameservice.New(walletPath)
		if err != nil {
			return err
		}
		to = ns.Resolve(to)

		tx, err := buildTx(kp, value, tip)
		if err != nil {
			return err
		}

		if err := postJSON(fmt.Sprintf("%s/v1/tx/add", privateURL), tx, nil); err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), tx)
		return nil
	},
}

// buildTx amends our pending transaction when the pool has one, otherwise
// it spends from the confirmed balance.
func buildTx(kp signature.KeyPair, value decimal.Decimal, tip decimal.Decimal) (database.Tx, error) {
	var pool []database.Tx
	if err := getJSON(fmt.Sprintf("%s/v1/pool", publicURL), &pool); err != nil {
		return database.Tx{}, err
	}

	for _, tx := range pool {
		if tx.Input != nil && tx.Input.Address == kp.Address() {
			if err := tx.Update(kp, to, value, tip); err != nil {
				return database.Tx{}, err
			}
			return tx, nil
		}
	}

	var bal balance
	if err := getJSON(fmt.Sprintf("%s/v1/balance/%s", publicURL, kp.Address()), &bal); err != nil {
		return database.Tx{}, err
	}

	return database.NewTx(kp, bal.Confirmed, to, value, tip)
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVarP(&to, "to", "t", "", "Address or wallet name of the recipient.")
	sendCmd.MarkFlagRequired("to")
	sendCmd.Flags().StringVarP(&amount, "amount", "a", "0", "Amount to send.")
	sendCmd.Flags().StringVarP(&fee, "fee", "f", "0", "Fee paid to the miner.")
}
