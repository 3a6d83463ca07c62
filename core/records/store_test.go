package records

import (
	"context"
	"crypto/rand"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthcoach/core/audit"
	"healthcoach/core/fhe"
	"healthcoach/core/notify"
	"healthcoach/core/storage"
)

var (
	alice    = common.HexToAddress("0xA11CE00000000000000000000000000000000001")
	bob      = common.HexToAddress("0xB0B0000000000000000000000000000000000002")
	contract = common.HexToAddress("0xC0FFEE0000000000000000000000000000000003")
)

type fixture struct {
	store  *Store
	scheme *fhe.LocalScheme
	bus    *notify.Bus
	audit  *audit.MemoryAuditLogger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	backend, err := storage.NewMemStorage()
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	netKey := make([]byte, fhe.NetworkKeyLength)
	_, err = rand.Read(netKey)
	require.NoError(t, err)
	scheme, err := fhe.NewLocalScheme(fhe.LocalConfig{ChainID: 1, NetworkKey: netKey, CoprocessorKey: key}, backend, nil)
	require.NoError(t, err)

	bus := notify.NewBus()
	mem := audit.NewMemoryAuditLogger()
	store, err := NewStore(StoreConfig{
		Contract: contract,
		Backend:  backend,
		Verifier: scheme.Verifier(),
		Events:   bus,
		Audit:    mem,
	})
	require.NoError(t, err)
	return &fixture{store: store, scheme: scheme, bus: bus, audit: mem}
}

func (f *fixture) encrypt(t *testing.T, user common.Address, values ...uint32) fhe.InputBatch {
	t.Helper()
	in, err := f.scheme.Encrypt(context.Background(), fhe.EncryptRequest{Values: values, User: user, Contract: contract})
	require.NoError(t, err)
	return in
}

func TestGetUnknownIdentityIsZero(t *testing.T) {
	f := newFixture(t)
	rec, err := f.store.Get(alice)
	require.NoError(t, err)
	assert.False(t, rec.Exists())
	assert.Equal(t, HealthRecord{}, rec)
	assert.False(t, f.store.HasRecord(alice))
}

func TestSubmitStoresRecordAndGrantsAccess(t *testing.T) {
	f := newFixture(t)
	var events []notify.HealthDataUpdated
	_, err := f.bus.OnHealthDataUpdated(func(ev notify.HealthDataUpdated) { events = append(events, ev) })
	require.NoError(t, err)

	in := f.encrypt(t, alice, 180, 75, 30, 1, 120, 80)
	require.NoError(t, f.store.Submit(alice, in.Handles, in.Proof, 100))

	assert.True(t, f.store.HasRecord(alice))
	rec, err := f.store.Get(alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), rec.UpdatedAt)
	assert.Equal(t, in.Handles, rec.Handles[:])

	for _, h := range rec.Handles {
		assert.True(t, f.store.ACL().IsAllowed(h, alice))
		assert.True(t, f.store.ACL().IsAllowed(h, contract))
		assert.False(t, f.store.ACL().IsAllowed(h, bob))
	}

	require.Len(t, events, 1)
	assert.Equal(t, notify.HealthDataUpdated{Identity: alice, UpdatedAt: 100}, events[0])
	assert.Len(t, f.audit.Filter(audit.EventRecordSubmission), 1)
	assert.False(t, f.store.HasRecord(bob))
}

func TestSubmitOverwritesPreviousRecord(t *testing.T) {
	f := newFixture(t)
	first := f.encrypt(t, alice, 180, 75, 30, 1, 120, 80)
	second := f.encrypt(t, alice, 181, 76, 31, 1, 121, 81)

	require.NoError(t, f.store.Submit(alice, first.Handles, first.Proof, 100))
	require.NoError(t, f.store.Submit(alice, second.Handles, second.Proof, 200))

	rec, err := f.store.Get(alice)
	require.NoError(t, err)
	assert.Equal(t, second.Handles, rec.Handles[:])
	assert.Equal(t, uint64(200), rec.UpdatedAt)
}

func TestSubmitRejections(t *testing.T) {
	f := newFixture(t)
	in := f.encrypt(t, alice, 1, 2, 3, 4, 5, 6)
	short := f.encrypt(t, alice, 1, 2, 3, 4, 5)
	bobs := f.encrypt(t, bob, 1, 2, 3, 4, 5, 6)

	cases := []struct {
		name    string
		who     common.Address
		handles []fhe.Handle
		proof   []byte
		at      uint64
		want    error
	}{
		{"five handles", alice, short.Handles, short.Proof, 1, ErrMalformedInput},
		{"empty proof", alice, in.Handles, nil, 1, ErrMalformedInput},
		{"zero handle", alice, append([]fhe.Handle{{}}, in.Handles[1:]...), in.Proof, 1, ErrMalformedInput},
		{"zero time", alice, in.Handles, in.Proof, 0, ErrInvalidTimestamp},
		{"proof for another identity", alice, bobs.Handles, bobs.Proof, 1, ErrProofInvalid},
		{"submitted under wrong identity", bob, in.Handles, in.Proof, 1, ErrProofInvalid},
		{"proof from another batch", alice, in.Handles, bobs.Proof, 1, ErrProofInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := f.store.Submit(tc.who, tc.handles, tc.proof, tc.at)
			assert.ErrorIs(t, err, tc.want)
			assert.False(t, f.store.HasRecord(tc.who))
		})
	}
	for _, ev := range f.audit.Filter(audit.EventRecordSubmission) {
		assert.Equal(t, audit.ResultFailure, ev.Result)
	}
}

func TestStagedWriteIsInvisibleUntilCommitted(t *testing.T) {
	f := newFixture(t)
	var events []notify.HealthDataUpdated
	_, err := f.bus.OnHealthDataUpdated(func(ev notify.HealthDataUpdated) { events = append(events, ev) })
	require.NoError(t, err)

	in := f.encrypt(t, alice, 180, 75, 30, 1, 120, 80)
	batch := storage.NewBatch()
	w, err := f.store.Stage(batch, alice, in.Handles, in.Proof, 100)
	require.NoError(t, err)
	assert.Positive(t, batch.Len())

	// Dropping the batch leaves no trace.
	assert.False(t, f.store.HasRecord(alice))
	assert.False(t, f.store.ACL().IsAllowed(in.Handles[0], alice))
	assert.Empty(t, events)
	assert.Empty(t, f.audit.Filter(audit.EventRecordSubmission))

	require.NoError(t, f.store.backend.Write(batch))
	f.store.Committed(w)
	rec, err := f.store.Get(alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), rec.UpdatedAt)
	require.Len(t, events, 1)
	assert.Equal(t, notify.HealthDataUpdated{Identity: alice, UpdatedAt: 100}, events[0])
}
