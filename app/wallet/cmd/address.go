package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// addressCmd represents the address command
var addressCmd = &cobra.Command{
	Use:   "address",
	Short: "Print address for the specific wallet",
	RunE: func(cmd *cobra.Command, args []string) error {
		kp, err := loadKeyPair()
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), kp.Address())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(addressCmd)
}
