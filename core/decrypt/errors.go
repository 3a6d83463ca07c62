package decrypt

import (
	"errors"
	"fmt"

	"healthcoach/core/wallet"
)

// Reason is why a session ended in Failed.
type Reason string

const (
	ReasonNoSigner             Reason = "NoSigner"
	ReasonOracleRejected       Reason = "OracleRejected"
	ReasonMissingValue         Reason = "MissingValue"
	ReasonUnsupportedValueType Reason = "UnsupportedValueType"
)

var (
	ErrNoSigner             = wallet.ErrNoSigner
	ErrOracleRejected       = errors.New("OracleRejected")
	ErrMissingValue         = errors.New("MissingValue")
	ErrUnsupportedValueType = errors.New("UnsupportedValueType")

	// ErrSessionUsed is returned when a session that already finished is asked
	// to decrypt again.
	ErrSessionUsed = errors.New("decryption session already used")
	// ErrSessionBusy is returned while the session's only request is in flight.
	ErrSessionBusy = errors.New("decryption session has a request in flight")
	// ErrNoRecord is returned when the record to decrypt was never written.
	ErrNoRecord = errors.New("no health record for identity")
)

func (r Reason) sentinel() error {
	switch r {
	case ReasonNoSigner:
		return ErrNoSigner
	case ReasonOracleRejected:
		return ErrOracleRejected
	case ReasonMissingValue:
		return ErrMissingValue
	case ReasonUnsupportedValueType:
		return ErrUnsupportedValueType
	}
	return nil
}

// Failure is the error a session returns when it ends in Failed. It matches
// the sentinel for its Reason and the underlying cause with errors.Is.
type Failure struct {
	Reason Reason
	Err    error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("decryption failed: %s", f.Reason)
	}
	return fmt.Sprintf("decryption failed: %s: %v", f.Reason, f.Err)
}

func (f *Failure) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := f.Reason.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if f.Err != nil {
		errs = append(errs, f.Err)
	}
	return errs
}

// ReasonOf returns the failure reason carried by err, if any.
func ReasonOf(err error) (Reason, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f.Reason, true
	}
	return "", false
}
