// Package fhe holds the ciphertext handle and input proof types shared by the
// ledger, the client and the decryption oracle, plus the contract of the
// encryption scheme service.
package fhe

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	HandleLength = 32

	// TypeUint32 tags handles that reference an encrypted 32-bit unsigned integer.
	TypeUint32 byte = 4

	HandleVersion byte = 0
)

// Handle is an opaque reference to one encrypted value. It carries no plaintext.
//
// Layout: bytes 0..20 hash prefix, 21 index in the input batch, 22..29 chain id,
// 30 value type, 31 version.
type Handle [HandleLength]byte

// ParseHandle decodes a 0x-prefixed hex handle.
func ParseHandle(s string) (Handle, error) {
	var h Handle
	raw, err := hexutil.Decode(s)
	if err != nil {
		return h, fmt.Errorf("parse handle: %w", err)
	}
	if len(raw) != HandleLength {
		return h, fmt.Errorf("parse handle: want %d bytes, got %d", HandleLength, len(raw))
	}
	copy(h[:], raw)
	return h, nil
}

func (h Handle) String() string {
	return hexutil.Encode(h[:])
}

func (h Handle) IsZero() bool {
	return h == Handle{}
}

// Index is the position of the value inside the batch it was encrypted with.
func (h Handle) Index() int {
	return int(h[21])
}

func (h Handle) ChainID() uint64 {
	return binary.BigEndian.Uint64(h[22:30])
}

func (h Handle) Type() byte {
	return h[30]
}

func (h Handle) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Handle) UnmarshalText(text []byte) error {
	parsed, err := ParseHandle(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// deriveHandle binds a sealed ciphertext to its position, submitter, destination
// contract and chain.
func deriveHandle(sealed []byte, index int, user, contract common.Address, chainID uint64) Handle {
	var chain [8]byte
	binary.BigEndian.PutUint64(chain[:], chainID)
	digest := crypto.Keccak256(sealed, []byte{byte(index)}, user.Bytes(), contract.Bytes(), chain[:])

	var h Handle
	copy(h[:21], digest[:21])
	h[21] = byte(index)
	copy(h[22:30], chain[:])
	h[30] = TypeUint32
	h[31] = HandleVersion
	return h
}
