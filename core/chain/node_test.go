package chain

import (
	"context"
	"crypto/rand"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthcoach/core/block"
	"healthcoach/core/fhe"
	"healthcoach/core/mempool"
	"healthcoach/core/notify"
	"healthcoach/core/records"
	"healthcoach/core/storage"
	"healthcoach/core/wallet"
)

var contract = common.HexToAddress("0xC0FFEE0000000000000000000000000000000003")

type harness struct {
	node    *Node
	scheme  *fhe.LocalScheme
	backend *flakyBackend
	events  *eventLog
	clock   *fakeClock
}

// flakyBackend fails batch writes while failWrites is set.
type flakyBackend struct {
	*storage.Storage
	failWrites atomic.Bool
}

func (b *flakyBackend) Write(batch *storage.Batch) error {
	if b.failWrites.Load() {
		return errors.New("disk full")
	}
	return b.Storage.Write(batch)
}

type eventLog struct {
	mu     sync.Mutex
	events []notify.HealthDataUpdated
}

func (l *eventLog) PublishHealthDataUpdated(ev notify.HealthDataUpdated) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mem, err := storage.NewMemStorage()
	require.NoError(t, err)
	t.Cleanup(func() { mem.Close() })
	backend := &flakyBackend{Storage: mem}

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	netKey := make([]byte, fhe.NetworkKeyLength)
	_, err = rand.Read(netKey)
	require.NoError(t, err)
	scheme, err := fhe.NewLocalScheme(fhe.LocalConfig{ChainID: 1, NetworkKey: netKey, CoprocessorKey: key}, backend, nil)
	require.NoError(t, err)

	events := &eventLog{}
	store, err := records.NewStore(records.StoreConfig{Contract: contract, Backend: backend, Verifier: scheme.Verifier(), Events: events})
	require.NoError(t, err)

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	node, err := NewNode(store, backend, Config{BlockTime: time.Hour, Now: clock.Now}, nil)
	require.NoError(t, err)
	return &harness{node: node, scheme: scheme, backend: backend, events: events, clock: clock}
}

func (h *harness) submitTx(t *testing.T, w *wallet.Wallet, nonce uint64, values ...uint32) mempool.Transaction {
	t.Helper()
	in, err := h.scheme.Encrypt(context.Background(), fhe.EncryptRequest{Values: values, User: w.Address(), Contract: contract})
	require.NoError(t, err)
	tx := mempool.Transaction{Method: mempool.MethodSubmitHealthData, Handles: in.Handles, Proof: in.Proof, Nonce: nonce}
	require.NoError(t, tx.Sign(w))
	return tx
}

func TestProduceBlockAppliesWritesInOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w, err := wallet.GenerateWallet()
	require.NoError(t, err)

	first := h.submitTx(t, w, 1, 180, 75, 30, 1, 120, 80)
	second := h.submitTx(t, w, 2, 170, 70, 31, 1, 118, 79)
	id1, err := h.node.SendTransaction(ctx, first)
	require.NoError(t, err)
	id2, err := h.node.SendTransaction(ctx, second)
	require.NoError(t, err)

	b, err := h.node.ProduceBlock(ctx)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, uint64(1), b.Height)
	assert.Equal(t, uint64(1_700_000_000), b.Timestamp)

	r1, err := h.node.Receipt(id1)
	require.NoError(t, err)
	r2, err := h.node.Receipt(id2)
	require.NoError(t, err)
	assert.True(t, r1.Confirmed())
	assert.True(t, r2.Confirmed())

	rec, err := h.node.GetEncryptedHealthData(ctx, w.Address())
	require.NoError(t, err)
	assert.Equal(t, second.Handles, rec.Handles[:], "last write in the block wins")
	assert.Equal(t, b.Timestamp, rec.UpdatedAt)

	applied, failed := h.node.Stats()
	assert.Equal(t, uint64(2), applied)
	assert.Equal(t, uint64(0), failed)
}

func TestLedgerTimeStrictlyIncreases(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w, err := wallet.GenerateWallet()
	require.NoError(t, err)

	var last uint64
	for i := uint64(1); i <= 3; i++ {
		_, err := h.node.SendTransaction(ctx, h.submitTx(t, w, i, 1, 2, 3, 1, 5, 6))
		require.NoError(t, err)
		b, err := h.node.ProduceBlock(ctx)
		require.NoError(t, err)
		assert.Greater(t, b.Timestamp, last)
		last = b.Timestamp
	}
	assert.Equal(t, uint64(3), h.node.Height())
}

func TestEmptyPoolProducesNoBlock(t *testing.T) {
	h := newHarness(t)
	b, err := h.node.ProduceBlock(context.Background())
	require.NoError(t, err)
	assert.Nil(t, b)
	assert.Equal(t, uint64(0), h.node.Height())
}

func TestFailedWriteGetsReceiptReason(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice, err := wallet.GenerateWallet()
	require.NoError(t, err)
	bob, err := wallet.GenerateWallet()
	require.NoError(t, err)

	// Bob replays Alice's encrypted batch under his own identity.
	stolen := h.submitTx(t, alice, 1, 1, 2, 3, 1, 5, 6)
	replay := mempool.Transaction{Method: stolen.Method, Handles: stolen.Handles, Proof: stolen.Proof, Nonce: 9}
	require.NoError(t, replay.Sign(bob))

	id, err := h.node.SendTransaction(ctx, replay)
	require.NoError(t, err)
	_, err = h.node.ProduceBlock(ctx)
	require.NoError(t, err)

	r, err := h.node.Receipt(id)
	require.NoError(t, err)
	assert.Equal(t, block.StatusFailed, r.Status)
	assert.Equal(t, block.ReasonProofInvalid, r.Reason)
	assert.ErrorIs(t, r.Err(), records.ErrProofInvalid)

	has, err := h.node.HasHealthRecord(ctx, bob.Address())
	require.NoError(t, err)
	assert.False(t, has)
}

func TestSendRejectsForgedSender(t *testing.T) {
	h := newHarness(t)
	alice, err := wallet.GenerateWallet()
	require.NoError(t, err)
	bob, err := wallet.GenerateWallet()
	require.NoError(t, err)

	tx := h.submitTx(t, alice, 1, 1, 2, 3, 1, 5, 6)
	tx.From = bob.Address()
	_, err = h.node.SendTransaction(context.Background(), tx)
	assert.ErrorIs(t, err, mempool.ErrBadSignature)

	tx = h.submitTx(t, alice, 2, 1, 2, 3, 1, 5, 6)
	tx.Method = "deleteEverything"
	_, err = h.node.SendTransaction(context.Background(), tx)
	assert.ErrorIs(t, err, mempool.ErrUnknownMethod)
}

func TestWaitForReceipt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w, err := wallet.GenerateWallet()
	require.NoError(t, err)

	id, err := h.node.SendTransaction(ctx, h.submitTx(t, w, 1, 1, 2, 3, 1, 5, 6))
	require.NoError(t, err)

	done := make(chan block.Receipt, 1)
	go func() {
		r, err := h.node.WaitForReceipt(ctx, id)
		assert.NoError(t, err)
		done <- r
	}()

	// Give the waiter a chance to register; a late waiter reads the stored receipt.
	time.Sleep(10 * time.Millisecond)
	_, err = h.node.ProduceBlock(ctx)
	require.NoError(t, err)

	select {
	case r := <-done:
		assert.True(t, r.Confirmed())
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never received the receipt")
	}

	timeout, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = h.node.WaitForReceipt(timeout, [32]byte{0xff})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNodeResumesFromPersistedHead(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w, err := wallet.GenerateWallet()
	require.NoError(t, err)
	_, err = h.node.SendTransaction(ctx, h.submitTx(t, w, 1, 1, 2, 3, 1, 5, 6))
	require.NoError(t, err)
	b, err := h.node.ProduceBlock(ctx)
	require.NoError(t, err)

	store, err := records.NewStore(records.StoreConfig{Contract: contract, Backend: h.backend, Verifier: h.scheme.Verifier()})
	require.NoError(t, err)
	reopened, err := NewNode(store, h.backend, Config{Now: h.clock.Now}, nil)
	require.NoError(t, err)
	assert.Equal(t, b.BlockID, reopened.Head().BlockID)
}

func TestVerifyChain(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w, err := wallet.GenerateWallet()
	require.NoError(t, err)
	for i := uint64(1); i <= 3; i++ {
		_, err := h.node.SendTransaction(ctx, h.submitTx(t, w, i, 1, 2, 3, 1, 5, 6))
		require.NoError(t, err)
		_, err = h.node.ProduceBlock(ctx)
		require.NoError(t, err)
	}

	var heights []uint64
	require.NoError(t, h.node.Scan(func(b *block.Block) error {
		heights = append(heights, b.Height)
		return nil
	}))
	assert.Equal(t, []uint64{0, 1, 2, 3}, heights)
	require.NoError(t, h.node.VerifyChain())

	// Rewrite block 2 with a forged ledger time.
	b, err := h.node.BlockAt(2)
	require.NoError(t, err)
	b.Timestamp++
	batch := storage.NewBatch()
	require.NoError(t, storage.PutValue(batch, blockKey(2), b))
	require.NoError(t, h.backend.Write(batch))
	assert.ErrorIs(t, h.node.VerifyChain(), ErrCorruptChain)
}

func TestIncludedTransactionCannotBeReplayed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w, err := wallet.GenerateWallet()
	require.NoError(t, err)

	old := h.submitTx(t, w, 1, 180, 75, 30, 1, 120, 80)
	oldID, err := h.node.SendTransaction(ctx, old)
	require.NoError(t, err)
	_, err = h.node.ProduceBlock(ctx)
	require.NoError(t, err)
	original, err := h.node.Receipt(oldID)
	require.NoError(t, err)

	newer := h.submitTx(t, w, 2, 181, 76, 31, 1, 121, 81)
	_, err = h.node.SendTransaction(ctx, newer)
	require.NoError(t, err)
	_, err = h.node.ProduceBlock(ctx)
	require.NoError(t, err)

	_, err = h.node.SendTransaction(ctx, old)
	assert.ErrorIs(t, err, mempool.ErrAlreadyIncluded)

	// Same content under a fresh id but a used nonce.
	reused := h.submitTx(t, w, 1, 180, 75, 30, 1, 120, 80)
	_, err = h.node.SendTransaction(ctx, reused)
	assert.ErrorIs(t, err, mempool.ErrStaleNonce)

	b, err := h.node.ProduceBlock(ctx)
	require.NoError(t, err)
	assert.Nil(t, b)

	rec, err := h.node.GetEncryptedHealthData(ctx, w.Address())
	require.NoError(t, err)
	assert.Equal(t, newer.Handles, rec.Handles[:])
	again, err := h.node.Receipt(oldID)
	require.NoError(t, err)
	assert.Equal(t, original, again)
}

func TestStaleNonceInBlockFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w, err := wallet.GenerateWallet()
	require.NoError(t, err)

	later := h.submitTx(t, w, 5, 180, 75, 30, 1, 120, 80)
	earlier := h.submitTx(t, w, 4, 170, 70, 30, 1, 110, 70)
	_, err = h.node.SendTransaction(ctx, later)
	require.NoError(t, err)
	id, err := h.node.SendTransaction(ctx, earlier)
	require.NoError(t, err)
	_, err = h.node.ProduceBlock(ctx)
	require.NoError(t, err)

	r, err := h.node.Receipt(id)
	require.NoError(t, err)
	assert.Equal(t, block.ReasonStaleNonce, r.Reason)
	assert.ErrorIs(t, r.Err(), mempool.ErrStaleNonce)

	rec, err := h.node.GetEncryptedHealthData(ctx, w.Address())
	require.NoError(t, err)
	assert.Equal(t, later.Handles, rec.Handles[:])
}

func TestFailedBlockWriteChangesNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w, err := wallet.GenerateWallet()
	require.NoError(t, err)

	id, err := h.node.SendTransaction(ctx, h.submitTx(t, w, 1, 180, 75, 30, 1, 120, 80))
	require.NoError(t, err)

	h.backend.failWrites.Store(true)
	_, err = h.node.ProduceBlock(ctx)
	require.Error(t, err)

	has, err := h.node.HasHealthRecord(ctx, w.Address())
	require.NoError(t, err)
	assert.False(t, has)
	_, err = h.node.Receipt(id)
	assert.ErrorIs(t, err, ErrNoReceipt)
	assert.Equal(t, uint64(0), h.node.Height())
	assert.Equal(t, 0, h.events.Len())
	assert.True(t, h.node.IsPending(id), "transaction goes back to the mempool")

	h.backend.failWrites.Store(false)
	b, err := h.node.ProduceBlock(ctx)
	require.NoError(t, err)
	require.NotNil(t, b)
	r, err := h.node.Receipt(id)
	require.NoError(t, err)
	assert.True(t, r.Confirmed())
	assert.Equal(t, 1, h.events.Len())
	require.NoError(t, h.node.VerifyChain())
}

func TestVerifyChainChecksReceipts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w, err := wallet.GenerateWallet()
	require.NoError(t, err)
	id, err := h.node.SendTransaction(ctx, h.submitTx(t, w, 1, 1, 2, 3, 1, 5, 6))
	require.NoError(t, err)
	_, err = h.node.ProduceBlock(ctx)
	require.NoError(t, err)
	require.NoError(t, h.node.VerifyChain())

	r, err := h.node.Receipt(id)
	require.NoError(t, err)
	r.TxID = [32]byte{0xee}
	batch := storage.NewBatch()
	require.NoError(t, storage.PutValue(batch, receiptPrefix+r.TxID.String(), r))
	require.NoError(t, h.backend.Write(batch))
	assert.ErrorIs(t, h.node.VerifyChain(), ErrCorruptChain)
}
