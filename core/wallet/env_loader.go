package wallet

import (
	"errors"
	"os"
)

const SignerKeyEnv = "HEALTHCOACH_SIGNER_PRIVKEY"

type EnvWalletLoader struct{}

func (l *EnvWalletLoader) LoadWallet() (*Wallet, error) {
	privKey := os.Getenv(SignerKeyEnv)
	if privKey == "" {
		return nil, errors.Join(ErrNoSigner, errors.New(SignerKeyEnv+" not set in environment"))
	}
	return WalletFromHex(privKey)
}

// StaticWalletLoader hands out a fixed key, typically one passed on the command line.
type StaticWalletLoader struct {
	HexKey string
}

func (l *StaticWalletLoader) LoadWallet() (*Wallet, error) {
	if l.HexKey == "" {
		return nil, ErrNoSigner
	}
	return WalletFromHex(l.HexKey)
}
