package block

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"healthcoach/core/mempool"
	"healthcoach/core/records"
	"healthcoach/types/ids"
)

const (
	StatusConfirmed = "confirmed"
	StatusFailed    = "failed"
	// StatusPending is only reported for queued transactions; it is never stored.
	StatusPending = "pending"
)

// Reason codes carried by failed receipts.
const (
	ReasonMalformedInput   = "MalformedInput"
	ReasonProofInvalid     = "ProofInvalid"
	ReasonInvalidTimestamp = "InvalidTimestamp"
	ReasonBadSignature     = "BadSignature"
	ReasonUnknownMethod    = "UnknownMethod"
	ReasonStaleNonce       = "StaleNonce"
	ReasonInternal         = "Internal"
)

// Receipt is the outcome of one transaction.
type Receipt struct {
	TxID        ids.ID         `json:"txID"`
	BlockHeight uint64         `json:"blockHeight"`
	BlockID     ids.ID         `json:"blockHash"`
	Status      string         `json:"status"`
	Reason      string         `json:"reason,omitempty"`
	From        common.Address `json:"from"`
	UpdatedAt   uint64         `json:"updatedAt,omitempty"` // Ledger time of the write when confirmed
}

func (r Receipt) Confirmed() bool {
	return r.Status == StatusConfirmed
}

// Err turns a failed receipt back into the error the write was rejected with.
// Confirmed and pending receipts yield nil.
func (r Receipt) Err() error {
	if r.Status != StatusFailed {
		return nil
	}
	switch r.Reason {
	case ReasonMalformedInput:
		return records.ErrMalformedInput
	case ReasonProofInvalid:
		return records.ErrProofInvalid
	case ReasonInvalidTimestamp:
		return records.ErrInvalidTimestamp
	case ReasonBadSignature:
		return mempool.ErrBadSignature
	case ReasonUnknownMethod:
		return mempool.ErrUnknownMethod
	case ReasonStaleNonce:
		return mempool.ErrStaleNonce
	default:
		return fmt.Errorf("transaction %s failed: %s", r.TxID, r.Reason)
	}
}
