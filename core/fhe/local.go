package fhe

import (
	"context"
	"crypto/ecdsa"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"healthcoach/core/storage"
)

const ciphertextPrefix = "ct:"

// LocalConfig configures the in-process scheme service.
type LocalConfig struct {
	ChainID        uint64
	NetworkKey     []byte
	CoprocessorKey *ecdsa.PrivateKey
}

// storedCiphertext is what the scheme keeps per handle.
type storedCiphertext struct {
	Index    uint8
	User     common.Address
	Contract common.Address
	Sealed   []byte
}

// LocalScheme runs the encryption scheme service and key manager inside the node
// process. Ciphertexts are sealed under the network key and kept by handle in
// storage; input proofs are signed with the coprocessor key.
type LocalScheme struct {
	chainID uint64
	sealer  *sealer
	key     *ecdsa.PrivateKey
	store   storage.StateBackend
	logger  *zap.Logger
	mu      sync.Mutex
}

func NewLocalScheme(cfg LocalConfig, store storage.StateBackend, logger *zap.Logger) (*LocalScheme, error) {
	if cfg.CoprocessorKey == nil {
		return nil, errors.New("coprocessor key is required")
	}
	if store == nil {
		return nil, errors.New("ciphertext store is required")
	}
	s, err := newSealer(cfg.NetworkKey)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalScheme{
		chainID: cfg.ChainID,
		sealer:  s,
		key:     cfg.CoprocessorKey,
		store:   store,
		logger:  logger,
	}, nil
}

// Address is the coprocessor signer that input proofs must recover to.
func (s *LocalScheme) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

// Verifier returns a proof verifier that trusts this scheme's signer.
func (s *LocalScheme) Verifier() *ProofVerifier {
	return &ProofVerifier{ChainID: s.chainID, Signers: []common.Address{s.Address()}}
}

func (s *LocalScheme) Encrypt(ctx context.Context, req EncryptRequest) (InputBatch, error) {
	if err := ctx.Err(); err != nil {
		return InputBatch{}, err
	}
	if len(req.Values) == 0 || len(req.Values) > MaxBatch {
		return InputBatch{}, fmt.Errorf("encrypt: batch of %d values", len(req.Values))
	}

	batch := storage.NewBatch()
	handles := make([]Handle, len(req.Values))
	for i, v := range req.Values {
		var plain [4]byte
		binary.BigEndian.PutUint32(plain[:], v)
		sealed, err := s.sealer.seal(plain[:], sealAAD(i, req.User, req.Contract))
		if err != nil {
			return InputBatch{}, fmt.Errorf("encrypt value %d: %w", i, err)
		}
		handles[i] = deriveHandle(sealed, i, req.User, req.Contract, s.chainID)
		ct := storedCiphertext{Index: uint8(i), User: req.User, Contract: req.Contract, Sealed: sealed}
		if err := storage.PutValue(batch, ciphertextPrefix+handles[i].String(), ct); err != nil {
			return InputBatch{}, err
		}
	}

	sig, err := crypto.Sign(proofDigest(handles, req.User, req.Contract, s.chainID), s.key)
	if err != nil {
		return InputBatch{}, fmt.Errorf("sign input proof: %w", err)
	}
	proof, err := EncodeProof(handles, [][]byte{sig})
	if err != nil {
		return InputBatch{}, err
	}

	s.mu.Lock()
	err = s.store.Write(batch)
	s.mu.Unlock()
	if err != nil {
		return InputBatch{}, fmt.Errorf("persist ciphertexts: %w", err)
	}
	s.logger.Debug("encrypted input batch",
		zap.Int("values", len(handles)),
		zap.String("user", req.User.Hex()),
		zap.String("contract", req.Contract.Hex()))
	return InputBatch{Handles: handles, Proof: proof}, nil
}

// Reveal opens the ciphertext referenced by h. Callers are responsible for
// access control.
func (s *LocalScheme) Reveal(ctx context.Context, h Handle) (uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var ct storedCiphertext
	if err := storage.GetValue(s.store, ciphertextPrefix+h.String(), &ct); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, fmt.Errorf("%w: %s", ErrUnknownHandle, h)
		}
		return 0, err
	}
	plain, err := s.sealer.open(ct.Sealed, sealAAD(int(ct.Index), ct.User, ct.Contract))
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", h, err)
	}
	if len(plain) != 4 {
		return 0, fmt.Errorf("open %s: plaintext length %d", h, len(plain))
	}
	return binary.BigEndian.Uint32(plain), nil
}

func sealAAD(index int, user, contract common.Address) []byte {
	aad := make([]byte, 0, 1+2*common.AddressLength)
	aad = append(aad, byte(index))
	aad = append(aad, user.Bytes()...)
	return append(aad, contract.Bytes()...)
}
