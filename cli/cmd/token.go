package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"healthcoach/core/auth"
)

var tokenOpts struct {
	secret  string
	subject string
	ttl     time.Duration
	roles   []string
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for a node's write endpoints",
	Long: `Signs an HS256 token with the node's HEALTHCOACH_API_JWT_SECRET. Pass the
result to other commands with --token or HEALTHCOACH_API_TOKEN.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := tokenOpts.secret
		if secret == "" {
			secret = opts.cfg.JWTSecret
		}
		v, err := auth.NewTokenVerifier(secret, auth.Issuer, nil)
		if err != nil {
			return err
		}
		subject := tokenOpts.subject
		if subject == "" {
			w, err := loadWallet()
			if err != nil {
				return fmt.Errorf("no --subject and no signing key: %w", err)
			}
			subject = w.Address().Hex()
		}
		token, err := v.Issue(subject, tokenOpts.ttl, tokenOpts.roles...)
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(cmd.OutOrStdout(), map[string]string{"token": token, "subject": subject})
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	f := tokenCmd.Flags()
	f.StringVar(&tokenOpts.secret, "secret", "", "Shared secret (default $HEALTHCOACH_API_JWT_SECRET)")
	f.StringVar(&tokenOpts.subject, "subject", "", "Token subject (default: the signer's address)")
	f.DurationVar(&tokenOpts.ttl, "ttl", time.Hour, "Token lifetime")
	f.StringSliceVar(&tokenOpts.roles, "role", nil, "Role claim, repeatable")
}
