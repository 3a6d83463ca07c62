package fhe

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// MaxBatch is the largest number of handles a single input proof can carry.
const MaxBatch = 255

const signatureLength = crypto.SignatureLength

var proofDomain = []byte("HealthCoachInputVerification")

// ErrProofInvalid is returned when an input proof does not attest that the
// submitted handles were encrypted by the claimed identity for the claimed contract.
var ErrProofInvalid = errors.New("ProofInvalid")

// InputBatch is an ordered batch of handles together with the single proof
// that binds the whole batch. Both must be submitted in one ledger write.
type InputBatch struct {
	Handles []Handle
	Proof   []byte
}

// proofDigest is the 32-byte message the scheme's signers attest to.
func proofDigest(handles []Handle, user, contract common.Address, chainID uint64) []byte {
	parts := make([][]byte, 0, len(handles)+4)
	parts = append(parts, proofDomain)
	for i := range handles {
		parts = append(parts, handles[i][:])
	}
	var chain [8]byte
	binary.BigEndian.PutUint64(chain[:], chainID)
	parts = append(parts, user.Bytes(), contract.Bytes(), chain[:])
	return crypto.Keccak256(parts...)
}

// EncodeProof serialises handles and signatures as
// numHandles(1) | numSigners(1) | handles(32*n) | signatures(65*k).
func EncodeProof(handles []Handle, signatures [][]byte) ([]byte, error) {
	if len(handles) == 0 || len(handles) > MaxBatch {
		return nil, fmt.Errorf("encode proof: %d handles", len(handles))
	}
	if len(signatures) == 0 || len(signatures) > 255 {
		return nil, fmt.Errorf("encode proof: %d signatures", len(signatures))
	}
	out := make([]byte, 0, 2+len(handles)*HandleLength+len(signatures)*signatureLength)
	out = append(out, byte(len(handles)), byte(len(signatures)))
	for i := range handles {
		out = append(out, handles[i][:]...)
	}
	for _, sig := range signatures {
		if len(sig) != signatureLength {
			return nil, fmt.Errorf("encode proof: signature length %d", len(sig))
		}
		out = append(out, sig...)
	}
	return out, nil
}

// DecodeProof is the inverse of EncodeProof.
func DecodeProof(proof []byte) ([]Handle, [][]byte, error) {
	if len(proof) < 2 {
		return nil, nil, errors.New("proof too short")
	}
	n, k := int(proof[0]), int(proof[1])
	if n == 0 || k == 0 {
		return nil, nil, errors.New("proof carries no handles or signatures")
	}
	if want := 2 + n*HandleLength + k*signatureLength; len(proof) != want {
		return nil, nil, fmt.Errorf("proof length %d, want %d", len(proof), want)
	}
	handles := make([]Handle, n)
	off := 2
	for i := range handles {
		copy(handles[i][:], proof[off:off+HandleLength])
		off += HandleLength
	}
	sigs := make([][]byte, k)
	for i := range sigs {
		sigs[i] = append([]byte(nil), proof[off:off+signatureLength]...)
		off += signatureLength
	}
	return handles, sigs, nil
}

// ProofVerifier checks input proofs against the set of trusted scheme signers.
type ProofVerifier struct {
	ChainID uint64
	Signers []common.Address
}

// Verify returns nil only when proof lists exactly handles, in order, and every
// signature recovers to a distinct trusted signer over (handles, user, contract, chain).
func (v *ProofVerifier) Verify(proof []byte, handles []Handle, user, contract common.Address) error {
	if len(v.Signers) == 0 {
		return fmt.Errorf("%w: no trusted signers configured", ErrProofInvalid)
	}
	proved, sigs, err := DecodeProof(proof)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProofInvalid, err)
	}
	if len(proved) != len(handles) {
		return fmt.Errorf("%w: proof covers %d handles, %d submitted", ErrProofInvalid, len(proved), len(handles))
	}
	for i := range handles {
		if proved[i] != handles[i] {
			return fmt.Errorf("%w: handle %d does not match proof", ErrProofInvalid, i)
		}
	}

	digest := proofDigest(handles, user, contract, v.ChainID)
	seen := make(map[common.Address]bool, len(sigs))
	for i, sig := range sigs {
		pub, err := crypto.SigToPub(digest, normalizeV(sig))
		if err != nil {
			return fmt.Errorf("%w: signature %d: %v", ErrProofInvalid, i, err)
		}
		signer := crypto.PubkeyToAddress(*pub)
		if !v.trusted(signer) || seen[signer] {
			return fmt.Errorf("%w: signature %d from untrusted signer %s", ErrProofInvalid, i, signer.Hex())
		}
		seen[signer] = true
	}
	return nil
}

func (v *ProofVerifier) trusted(addr common.Address) bool {
	for _, s := range v.Signers {
		if s == addr {
			return true
		}
	}
	return false
}

// normalizeV maps the 27/28 recovery id used by wallets onto the 0/1 form
// expected by go-ethereum.
func normalizeV(sig []byte) []byte {
	if len(sig) == signatureLength && sig[64] >= 27 {
		out := append([]byte(nil), sig...)
		out[64] -= 27
		return out
	}
	return sig
}
