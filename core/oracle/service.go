// Package oracle is the decryption oracle: it checks an owner-signed grant
// against the ledger's access list and re-encrypts the requested values to the
// grant's session key.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"healthcoach/core/audit"
	"healthcoach/core/decrypt"
	"healthcoach/core/fhe"
	"healthcoach/core/wallet"
)

// ErrRejected wraps every reason the oracle refuses a request.
var ErrRejected = errors.New("oracle rejected request")

const DefaultMaxHandles = 64

// AccessChecker answers whether who may decrypt h.
type AccessChecker interface {
	IsAllowed(h fhe.Handle, who common.Address) bool
}

type Config struct {
	Domain     decrypt.Domain
	Now        func() time.Time
	MaxHandles int
}

type Service struct {
	cfg    Config
	acl    AccessChecker
	keys   fhe.KeyManager
	logger *zap.Logger
	audit  audit.AuditLogger
}

func NewService(cfg Config, acl AccessChecker, keys fhe.KeyManager, logger *zap.Logger, auditLog audit.AuditLogger) *Service {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxHandles <= 0 {
		cfg.MaxHandles = DefaultMaxHandles
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{cfg: cfg, acl: acl, keys: keys, logger: logger, audit: audit.OrNop(auditLog)}
}

// UserDecrypt returns, for every requested handle, its value sealed to
// req.PublicKey. Nothing is returned unless every check passes for every handle.
func (s *Service) UserDecrypt(ctx context.Context, req decrypt.Request) (decrypt.Response, error) {
	resp, err := s.userDecrypt(ctx, req)
	ev := audit.AuditEvent{
		Timestamp: time.Now(),
		EventType: audit.EventDecryptionGrant,
		EntityID:  req.UserAddress.Hex(),
		Result:    audit.ResultSuccess,
		Metadata: map[string]string{
			"handles":        strconv.Itoa(len(req.HandleContractPairs)),
			"startTimestamp": strconv.FormatUint(req.StartTimestamp, 10),
			"durationDays":   strconv.FormatUint(req.DurationDays, 10),
		},
	}
	if err != nil {
		ev.Result = audit.ResultFailure
		ev.Reason = err.Error()
		s.logger.Warn("user decrypt rejected", zap.String("user", req.UserAddress.Hex()), zap.Error(err))
	} else {
		s.logger.Info("user decrypt granted", zap.String("user", req.UserAddress.Hex()), zap.Int("handles", len(resp)))
	}
	s.audit.LogEvent(ev)
	return resp, err
}

func (s *Service) userDecrypt(ctx context.Context, req decrypt.Request) (decrypt.Response, error) {
	if len(req.HandleContractPairs) == 0 {
		return nil, reject("no handles requested")
	}
	if len(req.HandleContractPairs) > s.cfg.MaxHandles {
		return nil, reject("too many handles: %d", len(req.HandleContractPairs))
	}
	if len(req.ContractAddresses) == 0 {
		return nil, reject("grant has no contract scope")
	}
	if req.DurationDays == 0 || req.DurationDays > decrypt.MaxDurationDays {
		return nil, reject("duration of %d days outside 1..%d", req.DurationDays, decrypt.MaxDurationDays)
	}
	now := uint64(s.cfg.Now().Unix())
	if !decrypt.WindowValid(req.StartTimestamp, req.DurationDays, now) {
		return nil, reject("grant not valid at %d", now)
	}
	if _, err := crypto.UnmarshalPubkey(req.PublicKey); err != nil {
		return nil, reject("bad session public key: %v", err)
	}

	typed := decrypt.GrantTypedData(s.cfg.Domain, req.PublicKey, req.ContractAddresses, req.StartTimestamp, req.DurationDays)
	signer, err := wallet.RecoverTypedDataSigner(typed, req.Signature)
	if err != nil {
		return nil, reject("bad grant signature: %v", err)
	}
	if signer != req.UserAddress {
		return nil, reject("grant signed by %s, not %s", signer.Hex(), req.UserAddress.Hex())
	}

	scope := make(map[common.Address]bool, len(req.ContractAddresses))
	for _, c := range req.ContractAddresses {
		scope[c] = true
	}
	for _, p := range req.HandleContractPairs {
		if !scope[p.ContractAddress] {
			return nil, reject("contract %s outside grant scope", p.ContractAddress.Hex())
		}
		if !s.acl.IsAllowed(p.Handle, req.UserAddress) {
			return nil, reject("user not allowed on handle %s", p.Handle)
		}
		if !s.acl.IsAllowed(p.Handle, p.ContractAddress) {
			return nil, reject("contract not allowed on handle %s", p.Handle)
		}
	}

	resp := make(decrypt.Response, len(req.HandleContractPairs))
	for _, p := range req.HandleContractPairs {
		if _, done := resp[p.Handle]; done {
			continue
		}
		v, err := s.keys.Reveal(ctx, p.Handle)
		if err != nil {
			if errors.Is(err, fhe.ErrUnknownHandle) {
				return nil, reject("unknown handle %s", p.Handle)
			}
			return nil, fmt.Errorf("reveal %s: %w", p.Handle, err)
		}
		plain := math.U256Bytes(new(big.Int).SetUint64(uint64(v)))
		sealed, err := decrypt.SealTo(req.PublicKey, plain)
		if err != nil {
			return nil, fmt.Errorf("seal %s: %w", p.Handle, err)
		}
		raw, err := json.Marshal(decrypt.SealedValue{Ciphertext: sealed})
		if err != nil {
			return nil, err
		}
		resp[p.Handle] = raw
	}
	return resp, nil
}

func reject(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrRejected, fmt.Sprintf(format, args...))
}
