package fhe

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

// ErrUnknownHandle is returned by a KeyManager for handles it never issued.
var ErrUnknownHandle = errors.New("unknown ciphertext handle")

// EncryptRequest asks the scheme service to encrypt Values for User, destined
// for Contract. Values are encrypted in order.
type EncryptRequest struct {
	Values   []uint32
	User     common.Address
	Contract common.Address
}

// Scheme is the encryption scheme's parameter service as seen by clients.
// Encrypt performs a network round-trip in remote implementations.
type Scheme interface {
	Encrypt(ctx context.Context, req EncryptRequest) (InputBatch, error)
}

// KeyManager holds the scheme's private material. Only the decryption oracle
// talks to it.
type KeyManager interface {
	Reveal(ctx context.Context, h Handle) (uint32, error)
}
