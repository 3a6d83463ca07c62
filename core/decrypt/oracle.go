package decrypt

import (
	"context"
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"healthcoach/core/fhe"
)

type HandleContractPair struct {
	Handle          fhe.Handle     `json:"handle"`
	ContractAddress common.Address `json:"contractAddress"`
}

// Request is what a session sends to the decryption oracle.
type Request struct {
	HandleContractPairs []HandleContractPair `json:"handleContractPairs"`
	PublicKey           hexutil.Bytes        `json:"publicKey"`
	Signature           hexutil.Bytes        `json:"signature"`
	ContractAddresses   []common.Address     `json:"contractAddresses"`
	UserAddress         common.Address       `json:"userAddress"`
	StartTimestamp      uint64               `json:"startTimestamp,string"`
	DurationDays        uint64               `json:"durationDays,string"`
}

// Response maps each requested handle to its value. The value is left raw so
// the session can decide whether it is acceptable.
type Response map[fhe.Handle]json.RawMessage

// Oracle validates grants and returns values for authorised handles.
type Oracle interface {
	UserDecrypt(ctx context.Context, req Request) (Response, error)
}

// SealedValue is the re-encrypted form the oracle returns: a 32-byte big-endian
// plaintext sealed to the session public key.
type SealedValue struct {
	Ciphertext hexutil.Bytes `json:"ciphertext"`
}
