package mempool

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"healthcoach/core/fhe"
	"healthcoach/core/storage"
	"healthcoach/core/wallet"
	"healthcoach/types/ids"
)

// MethodSubmitHealthData replaces the sender's health record.
const MethodSubmitHealthData = "submitHealthData"

var (
	ErrBadSignature  = errors.New("transaction signature does not match sender")
	ErrUnknownMethod = errors.New("unknown transaction method")
	// ErrAlreadyIncluded rejects a resend of a transaction that is in a block.
	ErrAlreadyIncluded = errors.New("transaction already included in a block")
	// ErrStaleNonce rejects a transaction whose nonce is not above the last
	// nonce applied for its sender. Nonces start at 1.
	ErrStaleNonce = errors.New("transaction nonce already used by sender")
)

// Transaction is a signed ledger write. The sender is the identity the write
// is applied under.
type Transaction struct {
	Method    string         `json:"method"`
	From      common.Address `json:"from"`
	Handles   []fhe.Handle   `json:"handles"`
	Proof     hexutil.Bytes  `json:"proof"`
	Nonce     uint64         `json:"nonce"`
	Signature hexutil.Bytes  `json:"signature,omitempty"`
}

type unsignedTx struct {
	Method  string
	From    common.Address
	Handles []fhe.Handle
	Proof   []byte
	Nonce   uint64
}

// SigningHash is the digest the sender signs. It covers every field except
// the signature.
func (tx *Transaction) SigningHash() ([]byte, error) {
	data, err := storage.Marshal(unsignedTx{
		Method:  tx.Method,
		From:    tx.From,
		Handles: tx.Handles,
		Proof:   tx.Proof,
		Nonce:   tx.Nonce,
	})
	if err != nil {
		return nil, err
	}
	return crypto.Keccak256(data), nil
}

// ID identifies the transaction. It is derived from the signed content so
// resubmitting the same transaction is detected as a duplicate.
func (tx *Transaction) ID() ids.ID {
	hash, err := tx.SigningHash()
	if err != nil {
		return ids.Empty
	}
	var id ids.ID
	copy(id[:], hash)
	return id
}

// Sign fills From and Signature using signer.
func (tx *Transaction) Sign(signer wallet.Signer) error {
	if signer == nil {
		return wallet.ErrNoSigner
	}
	tx.From = signer.Address()
	hash, err := tx.SigningHash()
	if err != nil {
		return err
	}
	sig, err := signer.SignHash(hash)
	if err != nil {
		return fmt.Errorf("sign transaction: %w", err)
	}
	tx.Signature = sig
	return nil
}

// Verify checks that Signature was produced by From.
func (tx *Transaction) Verify() error {
	hash, err := tx.SigningHash()
	if err != nil {
		return err
	}
	signer, err := wallet.RecoverHash(hash, tx.Signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if signer != tx.From {
		return ErrBadSignature
	}
	return nil
}
