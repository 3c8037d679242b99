package cmd

import (
	"fmt"

	"github.com/ardanlabs/powchain/foundation/nameservice"
	"github.com/spf13/cobra"
)

// balanceCmd represents the balance command
var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Print your balance.",
	RunE: func(cmd *cobra.Command, args []string) error {
		kp, err := loadKeyPair()
		if err != nil {
			return err
		}

		var bal balance
		if err := getJSON(fmt.Sprintf("%s/v1/balance/%s", publicURL, kp.Address()), &bal); err != nil {
			return err
		}

		ns, err := nameservice.New(walletPath)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "For Account:", ns.Lookup(bal.Address))
		fmt.Fprintln(out, "Confirmed:", bal.Confirmed)
		fmt.Fprintln(out, "Pending:", bal.Pending)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(balanceCmd)
}
