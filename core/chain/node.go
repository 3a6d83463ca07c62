// Package chain runs the single-producer ledger: it orders signed transactions
// from the mempool into blocks, applies them to the record store at the block's
// ledger time and keeps one receipt per transaction.
package chain

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"healthcoach/core/block"
	"healthcoach/core/mempool"
	"healthcoach/core/records"
	"healthcoach/core/storage"
	"healthcoach/types/ids"
)

const (
	headKey       = "chain:head"
	blockPrefix   = "chain:block:"
	receiptPrefix = "chain:receipt:"
	noncePrefix   = "chain:nonce:"
)

var ErrNoReceipt = errors.New("receipt not found")

type Config struct {
	BlockTime     time.Duration
	MaxPending    int
	MaxTxPerBlock int
	Now           func() time.Time
}

func (c *Config) withDefaults() {
	if c.BlockTime <= 0 {
		c.BlockTime = time.Second
	}
	if c.MaxPending <= 0 {
		c.MaxPending = 10000
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

type Node struct {
	cfg     Config
	store   *records.Store
	backend storage.StateBackend
	pool    *mempool.Mempool
	logger  *zap.Logger

	produceMu sync.Mutex
	running   atomic.Bool

	mu      sync.Mutex
	head    *block.Block
	waiters map[ids.ID][]chan block.Receipt
	applied uint64
	failed  uint64
}

// NewNode opens the ledger on backend, resuming from the persisted head when
// there is one.
func NewNode(store *records.Store, backend storage.StateBackend, cfg Config, logger *zap.Logger) (*Node, error) {
	if store == nil || backend == nil {
		return nil, errors.New("chain: record store and backend are required")
	}
	cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &Node{
		cfg:     cfg,
		store:   store,
		backend: backend,
		pool:    mempool.NewMempool(cfg.MaxPending),
		logger:  logger,
		waiters: make(map[ids.ID][]chan block.Receipt),
	}
	head, err := n.loadHead()
	if err != nil {
		return nil, err
	}
	n.head = head
	logger.Info("ledger opened", zap.Uint64("height", head.Height), zap.String("head", head.BlockID.String()))
	return n, nil
}

func (n *Node) loadHead() (*block.Block, error) {
	var height uint64
	err := storage.GetValue(n.backend, headKey, &height)
	if errors.Is(err, storage.ErrNotFound) {
		g := block.Genesis()
		batch := storage.NewBatch()
		if err := putBlock(batch, g); err != nil {
			return nil, err
		}
		if err := n.backend.Write(batch); err != nil {
			return nil, fmt.Errorf("write genesis: %w", err)
		}
		return g, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load head: %w", err)
	}
	return n.BlockAt(height)
}

// Contract is the address of the record store the ledger applies writes to.
func (n *Node) Contract() common.Address {
	return n.store.Contract()
}

// SendTransaction queues a signed transaction. Signature, method and replay
// checks run up front so obviously bad writes never reach a block; the block
// producer repeats them against the state it applies to.
func (n *Node) SendTransaction(ctx context.Context, tx mempool.Transaction) (ids.ID, error) {
	if err := ctx.Err(); err != nil {
		return ids.Empty, err
	}
	if tx.Method != mempool.MethodSubmitHealthData {
		return ids.Empty, fmt.Errorf("%w: %q", mempool.ErrUnknownMethod, tx.Method)
	}
	if err := tx.Verify(); err != nil {
		return ids.Empty, err
	}
	id := tx.ID()
	included, err := n.included(id)
	if err != nil {
		return id, err
	}
	if included {
		return id, fmt.Errorf("%w: %s", mempool.ErrAlreadyIncluded, id)
	}
	last, err := n.lastNonce(tx.From)
	if err != nil {
		return id, err
	}
	if tx.Nonce <= last {
		return id, fmt.Errorf("%w: nonce %d, last applied %d", mempool.ErrStaleNonce, tx.Nonce, last)
	}
	id, err = n.pool.AddTx(tx)
	if err != nil {
		return id, err
	}
	n.logger.Debug("transaction queued", zap.String("tx", id.String()), zap.String("from", tx.From.Hex()))
	return id, nil
}

// Run produces a block every BlockTime until ctx is cancelled.
func (n *Node) Run(ctx context.Context) error {
	ticker := time.NewTicker(n.cfg.BlockTime)
	defer ticker.Stop()
	n.running.Store(true)
	defer n.running.Store(false)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := n.ProduceBlock(ctx); err != nil {
				n.logger.Error("block production failed", zap.Error(err))
			}
		}
	}
}

// ProduceBlock drains the mempool into a new block. It returns nil when there
// is nothing to include. Records, ACL grants, sender nonces, the block and its
// receipts are committed in one batch; if that write fails nothing changes and
// the transactions go back to the mempool.
func (n *Node) ProduceBlock(ctx context.Context) (*block.Block, error) {
	n.produceMu.Lock()
	defer n.produceMu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	txs, err := n.dropIncluded(n.pool.Drain(n.cfg.MaxTxPerBlock))
	if err != nil || len(txs) == 0 {
		return nil, err
	}

	parent := n.Head()
	ts := uint64(n.cfg.Now().Unix())
	if ts <= parent.Timestamp {
		ts = parent.Timestamp + 1
	}

	txIDs := make([]ids.ID, len(txs))
	for i := range txs {
		txIDs[i] = txs[i].ID()
	}
	b := block.New(parent, ts, txIDs)

	batch := storage.NewBatch()
	nonces := make(map[common.Address]uint64)
	receipts := make([]block.Receipt, len(txs))
	var staged []records.StagedWrite
	var failed uint64
	for i := range txs {
		r, w := n.apply(batch, nonces, b, txIDs[i], txs[i])
		receipts[i] = r
		if w != nil {
			staged = append(staged, *w)
		}
		if !r.Confirmed() {
			failed++
		}
	}

	if err := n.stageBlock(batch, b, receipts, nonces); err != nil {
		n.pool.Requeue(txs)
		return nil, err
	}
	if err := n.backend.Write(batch); err != nil {
		n.pool.Requeue(txs)
		return nil, fmt.Errorf("persist block %d: %w", b.Height, err)
	}
	for _, w := range staged {
		n.store.Committed(w)
	}

	n.mu.Lock()
	n.head = b
	n.applied += uint64(len(txs)) - failed
	n.failed += failed
	for _, r := range receipts {
		for _, ch := range n.waiters[r.TxID] {
			ch <- r
		}
		delete(n.waiters, r.TxID)
	}
	n.mu.Unlock()

	n.logger.Info("block produced",
		zap.Uint64("height", b.Height),
		zap.Uint64("ledger_time", b.Timestamp),
		zap.Int("txs", len(txs)),
		zap.Uint64("failed", failed))
	return b, nil
}

// dropIncluded removes transactions that already have a receipt. They can be
// queued again while the block that includes them is being committed.
func (n *Node) dropIncluded(txs []mempool.Transaction) ([]mempool.Transaction, error) {
	kept := make([]mempool.Transaction, 0, len(txs))
	for i, tx := range txs {
		id := tx.ID()
		included, err := n.included(id)
		if err != nil {
			n.pool.Requeue(append(kept, txs[i:]...))
			return nil, err
		}
		if included {
			n.logger.Warn("dropping transaction already in a block", zap.String("tx", id.String()))
			continue
		}
		kept = append(kept, tx)
	}
	return kept, nil
}

func (n *Node) stageBlock(batch *storage.Batch, b *block.Block, receipts []block.Receipt, nonces map[common.Address]uint64) error {
	if err := putBlock(batch, b); err != nil {
		return err
	}
	for _, r := range receipts {
		if err := storage.PutValue(batch, receiptPrefix+r.TxID.String(), r); err != nil {
			return err
		}
	}
	for from, nonce := range nonces {
		if err := storage.PutValue(batch, nonceKey(from), nonce); err != nil {
			return err
		}
	}
	return nil
}

// apply checks tx against the state as of this block and stages its effects
// into batch. nonces carries the senders' nonces advanced earlier in the block.
// A correctly signed transaction with a fresh nonce uses up that nonce even
// when the write itself is rejected.
func (n *Node) apply(batch *storage.Batch, nonces map[common.Address]uint64, b *block.Block, id ids.ID, tx mempool.Transaction) (block.Receipt, *records.StagedWrite) {
	r := block.Receipt{TxID: id, BlockHeight: b.Height, BlockID: b.BlockID, From: tx.From, Status: block.StatusFailed}
	if err := tx.Verify(); err != nil {
		r.Reason = block.ReasonBadSignature
		return r, nil
	}
	if tx.Method != mempool.MethodSubmitHealthData {
		r.Reason = block.ReasonUnknownMethod
		return r, nil
	}
	last, ok := nonces[tx.From]
	if !ok {
		var err error
		if last, err = n.lastNonce(tx.From); err != nil {
			n.logger.Error("load sender nonce", zap.String("tx", id.String()), zap.Error(err))
			r.Reason = block.ReasonInternal
			return r, nil
		}
	}
	if tx.Nonce <= last {
		r.Reason = block.ReasonStaleNonce
		return r, nil
	}
	nonces[tx.From] = tx.Nonce

	w, err := n.store.Stage(batch, tx.From, tx.Handles, tx.Proof, b.Timestamp)
	switch {
	case err == nil:
		r.Status = block.StatusConfirmed
		r.UpdatedAt = b.Timestamp
		return r, &w
	case errors.Is(err, records.ErrMalformedInput):
		r.Reason = block.ReasonMalformedInput
	case errors.Is(err, records.ErrProofInvalid):
		r.Reason = block.ReasonProofInvalid
	case errors.Is(err, records.ErrInvalidTimestamp):
		r.Reason = block.ReasonInvalidTimestamp
	default:
		n.logger.Error("apply transaction", zap.String("tx", id.String()), zap.Error(err))
		r.Reason = block.ReasonInternal
	}
	return r, nil
}

func (n *Node) included(id ids.ID) (bool, error) {
	return n.backend.Has(receiptPrefix + id.String())
}

// lastNonce is the highest nonce applied for from, 0 when it never wrote.
func (n *Node) lastNonce(from common.Address) (uint64, error) {
	var nonce uint64
	err := storage.GetValue(n.backend, nonceKey(from), &nonce)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	return nonce, err
}

// Receipt returns the stored receipt for id.
func (n *Node) Receipt(id ids.ID) (block.Receipt, error) {
	var r block.Receipt
	err := storage.GetValue(n.backend, receiptPrefix+id.String(), &r)
	if errors.Is(err, storage.ErrNotFound) {
		return r, ErrNoReceipt
	}
	return r, err
}

// WaitForReceipt blocks until id is included in a block or ctx is done.
func (n *Node) WaitForReceipt(ctx context.Context, id ids.ID) (block.Receipt, error) {
	ch := make(chan block.Receipt, 1)
	n.mu.Lock()
	r, err := n.Receipt(id)
	if err == nil {
		n.mu.Unlock()
		return r, nil
	}
	if !errors.Is(err, ErrNoReceipt) {
		n.mu.Unlock()
		return r, err
	}
	n.waiters[id] = append(n.waiters[id], ch)
	n.mu.Unlock()

	select {
	case r := <-ch:
		return r, nil
	case <-ctx.Done():
		n.mu.Lock()
		list := n.waiters[id]
		for i, c := range list {
			if c == ch {
				n.waiters[id] = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(n.waiters[id]) == 0 {
			delete(n.waiters, id)
		}
		n.mu.Unlock()
		return block.Receipt{}, ctx.Err()
	}
}

func (n *Node) HasHealthRecord(ctx context.Context, identity common.Address) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return n.store.HasRecord(identity), nil
}

func (n *Node) GetEncryptedHealthData(ctx context.Context, identity common.Address) (records.HealthRecord, error) {
	if err := ctx.Err(); err != nil {
		return records.HealthRecord{}, err
	}
	return n.store.Get(identity)
}

func (n *Node) Head() *block.Block {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.head
}

func (n *Node) Height() uint64 {
	return n.Head().Height
}

// Running reports whether the block producer loop is active.
func (n *Node) Running() bool {
	return n.running.Load()
}

// BlockTime is the configured block production interval.
func (n *Node) BlockTime() time.Duration {
	return n.cfg.BlockTime
}

func (n *Node) Pending() int {
	return n.pool.Len()
}

// IsPending reports whether id is queued for the next block.
func (n *Node) IsPending(id ids.ID) bool {
	_, ok := n.pool.GetTx(id)
	return ok
}

// Stats returns the number of confirmed and failed transactions since start.
func (n *Node) Stats() (applied, failed uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.applied, n.failed
}

func (n *Node) BlockAt(height uint64) (*block.Block, error) {
	var b block.Block
	if err := storage.GetValue(n.backend, blockKey(height), &b); err != nil {
		return nil, fmt.Errorf("load block %d: %w", height, err)
	}
	return &b, nil
}

func putBlock(batch *storage.Batch, b *block.Block) error {
	if err := storage.PutValue(batch, blockKey(b.Height), b); err != nil {
		return err
	}
	return storage.PutValue(batch, headKey, b.Height)
}

func nonceKey(from common.Address) string {
	return noncePrefix + strings.ToLower(from.Hex())
}

func blockKey(height uint64) string {
	return blockPrefix + strconv.FormatUint(height, 10)
}
