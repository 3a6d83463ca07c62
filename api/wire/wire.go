// Package wire holds the JSON bodies exchanged between the node API and its
// clients.
package wire

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"healthcoach/core/fhe"
	"healthcoach/types/ids"
)

const (
	APIVersion = "v1"
	APIPrefix  = "/api/" + APIVersion
)

// NetworkInfo tells a client which chain, contracts and coprocessor signers
// the node works with.
type NetworkInfo struct {
	ChainID            uint64           `json:"chainId"`
	ContractAddress    common.Address   `json:"contractAddress"`
	DecryptionAddress  common.Address   `json:"decryptionAddress"`
	CoprocessorSigners []common.Address `json:"coprocessorSigners"`
}

type ExistsResponse struct {
	Exists bool `json:"exists"`
}

type TxResponse struct {
	TxID ids.ID `json:"txID"`
}

type EncryptRequest struct {
	Values          []uint32       `json:"values"`
	UserAddress     common.Address `json:"userAddress"`
	ContractAddress common.Address `json:"contractAddress"`
}

type EncryptResponse struct {
	Handles    []fhe.Handle  `json:"handles"`
	InputProof hexutil.Bytes `json:"inputProof"`
}

// ErrorResponse is the body of every non-2xx API response. Reason carries a
// stable code where one exists (ProofInvalid, OracleRejected, ...).
type ErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// Reason codes carried by ErrorResponse.
const (
	ReasonBadRequest     = "BadRequest"
	ReasonBadSignature   = "BadSignature"
	ReasonUnknownMethod  = "UnknownMethod"
	ReasonDuplicate      = "Duplicate"
	ReasonIncluded       = "AlreadyIncluded"
	ReasonStaleNonce     = "StaleNonce"
	ReasonPoolFull       = "PoolFull"
	ReasonNotFound       = "NotFound"
	ReasonOracleRejected = "OracleRejected"
	ReasonRateLimited    = "RateLimited"
	ReasonInternal       = "Internal"
)
