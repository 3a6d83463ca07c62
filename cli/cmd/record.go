package cmd

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"healthcoach/core/health"
	"healthcoach/core/wallet"
)

var recordUser string

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Show the encrypted record stored for an identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			w        *wallet.Wallet
			identity common.Address
			err      error
		)
		if recordUser != "" {
			if identity, err = parseIdentity(recordUser); err != nil {
				return err
			}
		} else {
			if w, err = loadWallet(); err != nil {
				return errors.Join(err, errors.New("pass --user to read without a key"))
			}
			identity = w.Address()
		}
		c, err := newCoach(cmd.Context(), newClient(), w)
		if err != nil {
			return err
		}
		rec, err := c.FetchRecord(cmd.Context(), identity)
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(cmd.OutOrStdout(), rec)
		}
		out := cmd.OutOrStdout()
		if !rec.Exists() {
			fmt.Fprintf(out, "No record for %s\n", identity.Hex())
			return nil
		}
		fmt.Fprintf(out, "Identity:  %s\n", identity.Hex())
		fmt.Fprintf(out, "UpdatedAt: %d\n", rec.UpdatedAt)
		for f := health.Field(0); f < health.NumFields; f++ {
			fmt.Fprintf(out, "%-10s %s\n", f.String()+":", rec.Handle(f))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(recordCmd)
	recordCmd.Flags().StringVar(&recordUser, "user", "", "Identity to look up (default: the signer)")
}
