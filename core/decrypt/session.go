// Package decrypt implements the owner-authorised decryption protocol. A
// Session walks Idle → GrantRequested → GrantSigned → Fulfilled, or ends in
// Failed with a Reason; it runs at most once.
package decrypt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"healthcoach/core/audit"
	"healthcoach/core/health"
	"healthcoach/core/records"
	"healthcoach/core/wallet"
)

type State int

const (
	StateIdle State = iota
	StateGrantRequested
	StateGrantSigned
	StateFulfilled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateGrantRequested:
		return "GrantRequested"
	case StateGrantSigned:
		return "GrantSigned"
	case StateFulfilled:
		return "Fulfilled"
	case StateFailed:
		return "Failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type SessionConfig struct {
	Domain Domain
	// Contract is the record store contract; it is the grant's only scope.
	Contract     common.Address
	DurationDays uint64
	Now          func() time.Time
	Logger       *zap.Logger
	Audit        audit.AuditLogger
}

type Session struct {
	id     string
	cfg    SessionConfig
	signer wallet.TypedDataSigner
	oracle Oracle
	logger *zap.Logger
	audit  audit.AuditLogger

	mu       sync.Mutex
	state    State
	reason   Reason
	inFlight bool
}

// NewSession prepares a session. signer may be nil, in which case Decrypt
// fails with NoSigner.
func NewSession(cfg SessionConfig, signer wallet.TypedDataSigner, oracle Oracle) *Session {
	if cfg.DurationDays == 0 {
		cfg.DurationDays = DefaultDurationDays
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	id := uuid.NewString()
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		id:     id,
		cfg:    cfg,
		signer: signer,
		oracle: oracle,
		logger: logger.With(zap.String("session", id)),
		audit:  audit.OrNop(cfg.Audit),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// FailureReason is set once the session is Failed.
func (s *Session) FailureReason() Reason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Decrypt recovers the plaintext of rec, which must be identity's record as
// read from the ledger. Either all six values are returned or none are.
func (s *Session) Decrypt(ctx context.Context, identity common.Address, rec records.HealthRecord) (health.Decrypted, error) {
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return health.Decrypted{}, ErrSessionBusy
	}
	if s.state != StateIdle {
		s.mu.Unlock()
		return health.Decrypted{}, ErrSessionUsed
	}
	if !rec.Exists() {
		s.mu.Unlock()
		return health.Decrypted{}, ErrNoRecord
	}
	s.inFlight = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
	}()

	kp, err := GenerateKeypair()
	if err != nil {
		return health.Decrypted{}, s.fail(ReasonNoSigner, fmt.Errorf("generate session keypair: %w", err))
	}
	defer kp.Destroy()

	grant := &Grant{
		PublicKey:      kp.PublicKey(),
		Contracts:      []common.Address{s.cfg.Contract},
		StartTimestamp: uint64(s.cfg.Now().Unix()),
		DurationDays:   s.cfg.DurationDays,
	}
	defer grant.Destroy()
	s.transition(StateGrantRequested)

	if s.signer == nil {
		return health.Decrypted{}, s.fail(ReasonNoSigner, nil)
	}
	if s.signer.Address() != identity {
		return health.Decrypted{}, s.fail(ReasonNoSigner, fmt.Errorf("connected signer %s does not own %s", s.signer.Address().Hex(), identity.Hex()))
	}
	sig, err := s.signer.SignTypedData(grant.TypedData(s.cfg.Domain))
	if err != nil {
		return health.Decrypted{}, s.fail(ReasonNoSigner, err)
	}
	grant.Signature = sig
	s.transition(StateGrantSigned)

	req := Request{
		HandleContractPairs: make([]HandleContractPair, len(rec.Handles)),
		PublicKey:           grant.PublicKey,
		Signature:           grant.Signature,
		ContractAddresses:   grant.Contracts,
		UserAddress:         identity,
		StartTimestamp:      grant.StartTimestamp,
		DurationDays:        grant.DurationDays,
	}
	for i, h := range rec.Handles {
		req.HandleContractPairs[i] = HandleContractPair{Handle: h, ContractAddress: s.cfg.Contract}
	}

	resp, err := s.oracle.UserDecrypt(ctx, req)
	if err != nil {
		return health.Decrypted{}, s.fail(ReasonOracleRejected, err)
	}

	var values [health.NumFields]int64
	for i, h := range rec.Handles {
		raw, ok := resp[h]
		if !ok {
			return health.Decrypted{}, s.fail(ReasonMissingValue, fmt.Errorf("no value for %s handle", health.Field(i)))
		}
		v, err := decodeValue(raw, kp)
		if err != nil {
			reason := ReasonUnsupportedValueType
			if errors.Is(err, ErrMissingValue) {
				reason = ReasonMissingValue
			}
			return health.Decrypted{}, s.fail(reason, fmt.Errorf("%s: %w", health.Field(i), err))
		}
		values[i] = int64(v)
	}

	s.transition(StateFulfilled)
	return health.Decrypted{Metrics: health.MetricsFromValues(values), UpdatedAt: rec.UpdatedAt}, nil
}

func (s *Session) transition(to State) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()
	s.logger.Debug("session transition", zap.Stringer("from", from), zap.Stringer("to", to))
	s.audit.LogEvent(audit.AuditEvent{
		Timestamp: time.Now(),
		EventType: audit.EventDecryptionSession,
		EntityID:  s.id,
		Result:    audit.ResultSuccess,
		Metadata:  map[string]string{"from": from.String(), "to": to.String()},
	})
}

func (s *Session) fail(reason Reason, cause error) error {
	s.mu.Lock()
	from := s.state
	s.state = StateFailed
	s.reason = reason
	s.mu.Unlock()

	f := &Failure{Reason: reason, Err: cause}
	s.logger.Warn("decryption session failed", zap.String("reason", string(reason)), zap.Error(cause))
	s.audit.LogEvent(audit.AuditEvent{
		Timestamp: time.Now(),
		EventType: audit.EventDecryptionSession,
		EntityID:  s.id,
		Result:    audit.ResultFailure,
		Reason:    string(reason),
		Metadata:  map[string]string{"from": from.String(), "to": StateFailed.String()},
	})
	return f
}
