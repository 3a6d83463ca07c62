// Package coach is the client-side facade: fetch a record, submit a record and
// request decryption, wiring the ledger, the encryption pipeline and the
// decryption protocol together.
package coach

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"healthcoach/core/audit"
	"healthcoach/core/block"
	"healthcoach/core/decrypt"
	"healthcoach/core/encrypt"
	"healthcoach/core/fhe"
	"healthcoach/core/health"
	"healthcoach/core/insights"
	"healthcoach/core/mempool"
	"healthcoach/core/records"
	"healthcoach/core/validation"
	"healthcoach/core/wallet"
	"healthcoach/types/ids"
)

// Ledger is the client's view of the node. Both the in-process chain.Node and
// the HTTP client implement it.
type Ledger interface {
	SendTransaction(ctx context.Context, tx mempool.Transaction) (ids.ID, error)
	WaitForReceipt(ctx context.Context, id ids.ID) (block.Receipt, error)
	HasHealthRecord(ctx context.Context, identity common.Address) (bool, error)
	GetEncryptedHealthData(ctx context.Context, identity common.Address) (records.HealthRecord, error)
}

type Config struct {
	Contract  common.Address
	Domain    decrypt.Domain
	GrantDays uint64
	Now       func() time.Time
	Logger    *zap.Logger
	Audit     audit.AuditLogger
}

type Coach struct {
	cfg      Config
	ledger   Ledger
	pipeline *encrypt.Pipeline
	oracle   decrypt.Oracle
	signer   wallet.TypedDataSigner
	logger   *zap.Logger
}

// New builds a client. signer may be nil for read-only use.
func New(cfg Config, ledger Ledger, scheme fhe.Scheme, oracle decrypt.Oracle, signer wallet.TypedDataSigner) *Coach {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Coach{
		cfg:      cfg,
		ledger:   ledger,
		pipeline: encrypt.NewPipeline(scheme, cfg.Logger),
		oracle:   oracle,
		signer:   signer,
		logger:   cfg.Logger,
	}
}

// Address is the connected signer's identity.
func (c *Coach) Address() (common.Address, error) {
	if c.signer == nil {
		return common.Address{}, wallet.ErrNoSigner
	}
	return c.signer.Address(), nil
}

func (c *Coach) HasRecord(ctx context.Context, identity common.Address) (bool, error) {
	return c.ledger.HasHealthRecord(ctx, identity)
}

// FetchRecord reads identity's encrypted record. A missing record is the zero
// record, not an error.
func (c *Coach) FetchRecord(ctx context.Context, identity common.Address) (records.HealthRecord, error) {
	return c.ledger.GetEncryptedHealthData(ctx, identity)
}

// SubmitRecord validates, encrypts and writes m as the signer's record, then
// waits for the write to be included.
func (c *Coach) SubmitRecord(ctx context.Context, m health.Metrics) (block.Receipt, error) {
	if c.signer == nil {
		return block.Receipt{}, wallet.ErrNoSigner
	}
	if err := validation.ValidateMetrics(m); err != nil {
		return block.Receipt{}, err
	}
	user := c.signer.Address()

	in, err := c.pipeline.EncryptBatch(ctx, m.Values(), user, c.cfg.Contract)
	if err != nil {
		return block.Receipt{}, err
	}

	tx := mempool.Transaction{
		Method:  mempool.MethodSubmitHealthData,
		Handles: in.Handles,
		Proof:   in.Proof,
		Nonce:   uint64(c.cfg.Now().UnixNano()),
	}
	if err := tx.Sign(c.signer); err != nil {
		return block.Receipt{}, err
	}
	id, err := c.ledger.SendTransaction(ctx, tx)
	if err != nil {
		return block.Receipt{}, fmt.Errorf("send transaction: %w", err)
	}
	c.logger.Info("health record submitted", zap.String("tx", id.String()), zap.String("identity", user.Hex()))

	r, err := c.ledger.WaitForReceipt(ctx, id)
	if err != nil {
		return block.Receipt{}, fmt.Errorf("wait for %s: %w", id, err)
	}
	return r, r.Err()
}

// NewSession starts a fresh single-use decryption session.
func (c *Coach) NewSession() *decrypt.Session {
	return decrypt.NewSession(decrypt.SessionConfig{
		Domain:       c.cfg.Domain,
		Contract:     c.cfg.Contract,
		DurationDays: c.cfg.GrantDays,
		Now:          c.cfg.Now,
		Logger:       c.logger,
		Audit:        c.cfg.Audit,
	}, c.signer, c.oracle)
}

// RequestDecryption fetches identity's record and decrypts it in a new session.
func (c *Coach) RequestDecryption(ctx context.Context, identity common.Address) (health.Decrypted, insights.Insights, error) {
	rec, err := c.FetchRecord(ctx, identity)
	if err != nil {
		return health.Decrypted{}, insights.Insights{}, err
	}
	d, err := c.NewSession().Decrypt(ctx, identity, rec)
	if err != nil {
		return health.Decrypted{}, insights.Insights{}, err
	}
	return d, insights.Derive(d.Metrics), nil
}
