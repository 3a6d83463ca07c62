// Package records implements the on-ledger health record store: one record of
// six encrypted metric handles per identity, plus the ACL grants that let the
// owner decrypt them.
package records

import (
	"errors"

	"healthcoach/core/fhe"
	"healthcoach/core/health"
)

var (
	ErrMalformedInput   = errors.New("MalformedInput")
	ErrProofInvalid     = errors.New("ProofInvalid")
	ErrInvalidTimestamp = errors.New("InvalidTimestamp")
)

// HealthRecord is what the ledger stores per identity. The zero value means
// "no record" and is what reads of an unknown identity return.
type HealthRecord struct {
	Handles   [health.NumFields]fhe.Handle `json:"handles"`
	UpdatedAt uint64                       `json:"updatedAt"`
}

// Exists reports whether the record was ever written. Ledger time is never
// zero for an applied write.
func (r HealthRecord) Exists() bool {
	return r.UpdatedAt > 0
}

func (r HealthRecord) Handle(f health.Field) fhe.Handle {
	return r.Handles[f]
}
