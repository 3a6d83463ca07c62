package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"healthcoach/core/health"
)

var submitMetrics health.Metrics

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Encrypt and store health metrics as your record",
	Long: `Validates the metrics, encrypts them through the node's scheme service and
writes them as the signer's record, replacing any previous one.`,
	Example: `  healthcoach-cli submit --height 180 --weight 75 --age 30 --gender 1 --systolic 120 --diastolic 80`,
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := loadWallet()
		if err != nil {
			return err
		}
		client := newClient()
		c, err := newCoach(cmd.Context(), client, w)
		if err != nil {
			return err
		}
		r, err := c.SubmitRecord(cmd.Context(), submitMetrics)
		if err != nil {
			return fmt.Errorf("submission failed: %w", err)
		}
		if jsonOutput() {
			return printJSON(cmd.OutOrStdout(), r)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Record stored for %s\n", w.Address().Hex())
		fmt.Fprintf(cmd.OutOrStdout(), "Transaction: %s (block %d)\n", r.TxID, r.BlockHeight)
		fmt.Fprintf(cmd.OutOrStdout(), "Updated at:  %d\n", r.UpdatedAt)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(submitCmd)
	f := submitCmd.Flags()
	f.Int64Var(&submitMetrics.Height, "height", 0, "Height in cm (required)")
	f.Int64Var(&submitMetrics.Weight, "weight", 0, "Weight in kg (required)")
	f.Int64Var(&submitMetrics.Age, "age", 0, "Age in years (required)")
	f.Int64Var(&submitMetrics.Gender, "gender", 0, "Gender: 1 male, 2 female (required)")
	f.Int64Var(&submitMetrics.Systolic, "systolic", 0, "Systolic pressure in mmHg (required)")
	f.Int64Var(&submitMetrics.Diastolic, "diastolic", 0, "Diastolic pressure in mmHg (required)")
	for _, name := range []string{"height", "weight", "age", "gender", "systolic", "diastolic"} {
		_ = submitCmd.MarkFlagRequired(name)
	}
}
