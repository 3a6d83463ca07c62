package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"healthcoach/core/wallet"
)

var addressCmd = &cobra.Command{
	Use:   "address",
	Short: "Print the identity of the configured signing key",
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := loadWallet()
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(cmd.OutOrStdout(), map[string]string{"address": w.Address().Hex()})
		}
		fmt.Fprintln(cmd.OutOrStdout(), w.Address().Hex())
		return nil
	},
}

var walletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Signing key operations",
}

var walletNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Generate a new secp256k1 signing key",
	Example: `  healthcoach-cli wallet new
  export ` + wallet.SignerKeyEnv + `=<private key>`,
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := wallet.GenerateWallet()
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(cmd.OutOrStdout(), map[string]string{"address": w.Address().Hex(), "privateKey": w.HexKey()})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Address:     %s\n", w.Address().Hex())
		fmt.Fprintf(cmd.OutOrStdout(), "Private Key: %s\n", w.HexKey())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(addressCmd)
	rootCmd.AddCommand(walletCmd)
	walletCmd.AddCommand(walletNewCmd)
}
