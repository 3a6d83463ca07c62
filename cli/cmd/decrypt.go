package cmd

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"healthcoach/core/health"
	"healthcoach/core/insights"
)

var decryptUser string

type decryptOutput struct {
	Identity common.Address    `json:"identity"`
	Metrics  health.Decrypted  `json:"metrics"`
	Insights insights.Insights `json:"insights"`
}

var decryptCmd = &cobra.Command{
	Use:   "decrypt",
	Short: "Decrypt your record under a freshly signed grant and show insights",
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := loadWallet()
		if err != nil {
			return err
		}
		identity := w.Address()
		if decryptUser != "" {
			if identity, err = parseIdentity(decryptUser); err != nil {
				return err
			}
		}
		c, err := newCoach(cmd.Context(), newClient(), w)
		if err != nil {
			return err
		}
		d, in, err := c.RequestDecryption(cmd.Context(), identity)
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(cmd.OutOrStdout(), decryptOutput{Identity: identity, Metrics: d, Insights: in})
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Identity:   %s\n", identity.Hex())
		fmt.Fprintf(out, "Updated:    %s\n", time.Unix(int64(d.UpdatedAt), 0).UTC().Format(time.RFC3339))
		fmt.Fprintf(out, "Height:     %d cm\n", d.Height)
		fmt.Fprintf(out, "Weight:     %d kg\n", d.Weight)
		fmt.Fprintf(out, "Age:        %d\n", d.Age)
		fmt.Fprintf(out, "Gender:     %s\n", in.Gender)
		fmt.Fprintf(out, "Pressure:   %d/%d mmHg\n", d.Systolic, d.Diastolic)
		fmt.Fprintf(out, "BMI:        %.1f (%s)\n", in.BMI, in.BMICategory)
		fmt.Fprintf(out, "            %s\n", in.BMIAdvice)
		fmt.Fprintf(out, "BP:         %s\n", in.PressureCategory)
		fmt.Fprintf(out, "            %s\n", in.PressureAdvice)
		return nil
	},
}

func parseIdentity(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid identity %q", s)
	}
	return common.HexToAddress(s), nil
}

func init() {
	rootCmd.AddCommand(decryptCmd)
	decryptCmd.Flags().StringVar(&decryptUser, "user", "", "Identity whose record to decrypt (default: the signer)")
}
