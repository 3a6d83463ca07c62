// Package wallet holds the user's secp256k1 signing key and the typed-data
// signing used to authorise record writes and decryption grants.
package wallet

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// ErrNoSigner is returned when no signing capability is available.
var ErrNoSigner = errors.New("NoSigner")

// Signer is the user's connected signer: an address plus the ability to sign
// 32-byte digests.
type Signer interface {
	Address() common.Address
	SignHash(hash []byte) ([]byte, error)
}

// TypedDataSigner signs EIP-712 typed data.
type TypedDataSigner interface {
	Signer
	SignTypedData(data apitypes.TypedData) ([]byte, error)
}

type Wallet struct {
	PrivateKey *ecdsa.PrivateKey
	address    common.Address
}

type WalletLoader interface {
	LoadWallet() (*Wallet, error)
}

func NewWallet(key *ecdsa.PrivateKey) *Wallet {
	return &Wallet{PrivateKey: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

func GenerateWallet() (*Wallet, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return NewWallet(key), nil
}

// WalletFromHex parses a hex private key, with or without 0x.
func WalletFromHex(s string) (*Wallet, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	key, err := crypto.HexToECDSA(s)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return NewWallet(key), nil
}

func (w *Wallet) Address() common.Address {
	return w.address
}

// HexKey returns the 0x-prefixed private key.
func (w *Wallet) HexKey() string {
	return hexutil.Encode(crypto.FromECDSA(w.PrivateKey))
}

// SignHash signs a 32-byte digest. V is 0 or 1.
func (w *Wallet) SignHash(hash []byte) ([]byte, error) {
	if w == nil || w.PrivateKey == nil {
		return nil, ErrNoSigner
	}
	return crypto.Sign(hash, w.PrivateKey)
}

// SignTypedData returns a 65-byte EIP-712 signature with V in {27, 28}, the
// form wallets hand back to applications.
func (w *Wallet) SignTypedData(data apitypes.TypedData) ([]byte, error) {
	if w == nil || w.PrivateKey == nil {
		return nil, ErrNoSigner
	}
	digest, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return nil, fmt.Errorf("hash typed data: %w", err)
	}
	sig, err := crypto.Sign(digest, w.PrivateKey)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// RecoverTypedDataSigner returns the address that produced sig over data.
// Both 0/1 and 27/28 recovery ids are accepted.
func RecoverTypedDataSigner(data apitypes.TypedData, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature length %d", len(sig))
	}
	digest, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return common.Address{}, fmt.Errorf("hash typed data: %w", err)
	}
	return RecoverHash(digest, sig)
}

// RecoverHash returns the signer of a 32-byte digest.
func RecoverHash(digest, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature length %d", len(sig))
	}
	normalized := append([]byte(nil), sig...)
	if normalized[crypto.RecoveryIDOffset] >= 27 {
		normalized[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(digest, normalized)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}
