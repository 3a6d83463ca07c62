// Package cmd is the healthcoach-cli command tree.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"healthcoach/cli/api"
	"healthcoach/core/coach"
	"healthcoach/core/config"
	"healthcoach/core/decrypt"
	"healthcoach/core/logging"
	"healthcoach/core/wallet"
)

type rootOptions struct {
	envFile  string
	nodeURL  string
	token    string
	key      string
	output   string
	logLevel string

	cfg    *config.Config
	logger *zap.Logger
}

var opts rootOptions

var rootCmd = &cobra.Command{
	Use:           "healthcoach-cli",
	Short:         "HealthCoach confidential health record client",
	Long:          "Store encrypted health metrics on a HealthCoach node and decrypt them again under a signed, time-bounded grant.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(opts.envFile)
		if err != nil {
			return err
		}
		opts.cfg = cfg
		if opts.nodeURL == "" {
			opts.nodeURL = cfg.NodeURL
		}
		opts.logger, err = logging.New(logging.Options{Level: opts.logLevel, Console: true})
		return err
	},
}

// Execute runs the command tree. Interrupts cancel in-flight requests.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.envFile, "env-file", ".env", "Env file to load before reading HEALTHCOACH_* variables")
	pf.StringVar(&opts.nodeURL, "node", "", "Node API URL (default $HEALTHCOACH_NODE_URL)")
	pf.StringVar(&opts.token, "token", os.Getenv("HEALTHCOACH_API_TOKEN"), "Bearer token for write endpoints")
	pf.StringVar(&opts.key, "key", "", "Hex secp256k1 private key (default $"+wallet.SignerKeyEnv+")")
	pf.StringVarP(&opts.output, "output", "o", "plain", "Output format: plain|json")
	pf.StringVar(&opts.logLevel, "log-level", "warn", "Client log level")
}

func newClient() *api.Client {
	return api.NewClient(opts.nodeURL, opts.token)
}

// loadWallet returns the signer from --key, falling back to the environment.
func loadWallet() (*wallet.Wallet, error) {
	var loader wallet.WalletLoader = &wallet.EnvWalletLoader{}
	if opts.key != "" {
		loader = &wallet.StaticWalletLoader{HexKey: opts.key}
	}
	return loader.LoadWallet()
}

// newCoach connects to the node and builds the client facade. w may be nil for
// read-only commands.
func newCoach(ctx context.Context, client *api.Client, w *wallet.Wallet) (*coach.Coach, error) {
	info, err := client.Network(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", opts.nodeURL, err)
	}
	cfg := coach.Config{
		Contract:  info.ContractAddress,
		Domain:    decrypt.Domain{ChainID: info.ChainID, VerifyingContract: info.DecryptionAddress},
		GrantDays: opts.cfg.GrantDays,
		Logger:    opts.logger,
	}
	if w == nil {
		return coach.New(cfg, client, client, client, nil), nil
	}
	return coach.New(cfg, client, client, client, w), nil
}

func jsonOutput() bool {
	return opts.output == "json"
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
