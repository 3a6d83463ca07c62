package records

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"healthcoach/core/acl"
	"healthcoach/core/audit"
	"healthcoach/core/fhe"
	"healthcoach/core/health"
	"healthcoach/core/notify"
	"healthcoach/core/storage"
)

const recordPrefix = "record:"

// ProofChecker validates an input proof for a batch of handles.
type ProofChecker interface {
	Verify(proof []byte, handles []fhe.Handle, user, contract common.Address) error
}

type StoreConfig struct {
	Contract common.Address
	Backend  storage.StateBackend
	ACL      *acl.ACL
	Verifier ProofChecker
	Events   notify.Publisher
	Logger   *zap.Logger
	Audit    audit.AuditLogger
}

// Store owns the identity -> record mapping. Writes are serialised and applied
// as one atomic batch together with their ACL grants.
type Store struct {
	contract common.Address
	backend  storage.StateBackend
	acl      *acl.ACL
	verifier ProofChecker
	events   notify.Publisher
	logger   *zap.Logger
	audit    audit.AuditLogger

	mu sync.Mutex
}

func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Backend == nil {
		return nil, errors.New("records: backend is required")
	}
	if cfg.Verifier == nil {
		return nil, errors.New("records: proof verifier is required")
	}
	a := cfg.ACL
	if a == nil {
		a = acl.New(cfg.Backend)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		contract: cfg.Contract,
		backend:  cfg.Backend,
		acl:      a,
		verifier: cfg.Verifier,
		events:   cfg.Events,
		logger:   logger,
		audit:    audit.OrNop(cfg.Audit),
	}, nil
}

// Contract is the address the store runs under. Input proofs must name it.
func (s *Store) Contract() common.Address {
	return s.contract
}

func (s *Store) ACL() *acl.ACL {
	return s.acl
}

// Submit replaces identity's record with handles, stamped with ledger time at.
// Nothing is written unless every check passes.
func (s *Store) Submit(identity common.Address, handles []fhe.Handle, proof []byte, at uint64) error {
	batch := storage.NewBatch()
	w, err := s.Stage(batch, identity, handles, proof, at)
	if err != nil {
		return err
	}
	s.mu.Lock()
	err = s.backend.Write(batch)
	s.mu.Unlock()
	if err != nil {
		s.auditWrite(w, fmt.Errorf("write record: %w", err))
		return fmt.Errorf("write record: %w", err)
	}
	s.Committed(w)
	return nil
}

// StagedWrite is a checked record write waiting in a caller's batch.
type StagedWrite struct {
	Identity  common.Address
	UpdatedAt uint64
}

// Stage checks a write and adds the record and its ACL grants to batch. The
// caller commits the batch and then calls Committed; a batch that is never
// written leaves the store untouched. Rejections are audited here.
func (s *Store) Stage(batch *storage.Batch, identity common.Address, handles []fhe.Handle, proof []byte, at uint64) (StagedWrite, error) {
	w := StagedWrite{Identity: identity, UpdatedAt: at}
	if err := s.stage(batch, identity, handles, proof, at); err != nil {
		s.auditWrite(w, err)
		return w, err
	}
	return w, nil
}

// Committed announces a staged write once its batch is durable.
func (s *Store) Committed(w StagedWrite) {
	s.auditWrite(w, nil)
	s.logger.Info("health record stored",
		zap.String("identity", w.Identity.Hex()),
		zap.Uint64("updated_at", w.UpdatedAt))
	if s.events != nil {
		s.events.PublishHealthDataUpdated(notify.HealthDataUpdated{Identity: w.Identity, UpdatedAt: w.UpdatedAt})
	}
}

func (s *Store) auditWrite(w StagedWrite, err error) {
	ev := audit.AuditEvent{
		EventType: audit.EventRecordSubmission,
		EntityID:  w.Identity.Hex(),
		Result:    audit.ResultSuccess,
		Metadata:  map[string]string{"updated_at": strconv.FormatUint(w.UpdatedAt, 10)},
	}
	if err != nil {
		ev.Result = audit.ResultFailure
		ev.Reason = err.Error()
	}
	s.audit.LogEvent(ev)
}

func (s *Store) stage(batch *storage.Batch, identity common.Address, handles []fhe.Handle, proof []byte, at uint64) error {
	if identity == (common.Address{}) {
		return fmt.Errorf("%w: empty identity", ErrMalformedInput)
	}
	if len(handles) != health.NumFields {
		return fmt.Errorf("%w: want %d handles, got %d", ErrMalformedInput, health.NumFields, len(handles))
	}
	if len(proof) == 0 {
		return fmt.Errorf("%w: empty proof", ErrMalformedInput)
	}
	for i, h := range handles {
		if h.IsZero() {
			return fmt.Errorf("%w: handle %d is empty", ErrMalformedInput, i)
		}
	}
	if at == 0 {
		return ErrInvalidTimestamp
	}
	if err := s.verifier.Verify(proof, handles, identity, s.contract); err != nil {
		return fmt.Errorf("%w: %v", ErrProofInvalid, err)
	}

	var rec HealthRecord
	copy(rec.Handles[:], handles)
	rec.UpdatedAt = at
	if err := storage.PutValue(batch, recordKey(identity), rec); err != nil {
		return err
	}
	for _, h := range rec.Handles {
		s.acl.Allow(batch, h, identity)
		s.acl.Allow(batch, h, s.contract)
	}
	return nil
}

// HasRecord reports whether identity has ever written a record. Storage errors
// read as false.
func (s *Store) HasRecord(identity common.Address) bool {
	rec, err := s.Get(identity)
	if err != nil {
		s.logger.Warn("record lookup failed", zap.String("identity", identity.Hex()), zap.Error(err))
		return false
	}
	return rec.Exists()
}

// Get returns identity's record. Unknown identities yield the zero record and
// a nil error; callers check Exists.
func (s *Store) Get(identity common.Address) (HealthRecord, error) {
	var rec HealthRecord
	err := storage.GetValue(s.backend, recordKey(identity), &rec)
	if errors.Is(err, storage.ErrNotFound) {
		return HealthRecord{}, nil
	}
	if err != nil {
		return HealthRecord{}, err
	}
	return rec, nil
}

func recordKey(identity common.Address) string {
	return recordPrefix + strings.ToLower(identity.Hex())
}
