package fhe

import (
	"context"
	"crypto/rand"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthcoach/core/storage"
)

var (
	testUser     = common.HexToAddress("0x1000000000000000000000000000000000000001")
	testOther    = common.HexToAddress("0x2000000000000000000000000000000000000002")
	testContract = common.HexToAddress("0x3000000000000000000000000000000000000003")
)

func newTestScheme(t *testing.T) *LocalScheme {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	netKey := make([]byte, NetworkKeyLength)
	_, err = rand.Read(netKey)
	require.NoError(t, err)
	store, err := storage.NewMemStorage()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	s, err := NewLocalScheme(LocalConfig{ChainID: 31337, NetworkKey: netKey, CoprocessorKey: key}, store, nil)
	require.NoError(t, err)
	return s
}

func TestEncryptRevealRoundTrip(t *testing.T) {
	s := newTestScheme(t)
	ctx := context.Background()
	values := []uint32{180, 75, 30, 1, 120, 80}

	in, err := s.Encrypt(ctx, EncryptRequest{Values: values, User: testUser, Contract: testContract})
	require.NoError(t, err)
	require.Len(t, in.Handles, len(values))

	for i, h := range in.Handles {
		assert.Equal(t, i, h.Index())
		assert.Equal(t, TypeUint32, h.Type())
		assert.Equal(t, uint64(31337), h.ChainID())
		got, err := s.Reveal(ctx, h)
		require.NoError(t, err)
		assert.Equal(t, values[i], got)
	}
}

func TestEqualValuesProduceDistinctHandles(t *testing.T) {
	s := newTestScheme(t)
	a, err := s.Encrypt(context.Background(), EncryptRequest{Values: []uint32{7}, User: testUser, Contract: testContract})
	require.NoError(t, err)
	b, err := s.Encrypt(context.Background(), EncryptRequest{Values: []uint32{7}, User: testUser, Contract: testContract})
	require.NoError(t, err)
	assert.NotEqual(t, a.Handles[0], b.Handles[0])
}

func TestRevealUnknownHandle(t *testing.T) {
	s := newTestScheme(t)
	_, err := s.Reveal(context.Background(), Handle{1, 2, 3})
	assert.ErrorIs(t, err, ErrUnknownHandle)
}

func TestProofVerification(t *testing.T) {
	s := newTestScheme(t)
	in, err := s.Encrypt(context.Background(), EncryptRequest{Values: []uint32{1, 2, 3}, User: testUser, Contract: testContract})
	require.NoError(t, err)
	v := s.Verifier()

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, v.Verify(in.Proof, in.Handles, testUser, testContract))
	})
	t.Run("other identity", func(t *testing.T) {
		assert.ErrorIs(t, v.Verify(in.Proof, in.Handles, testOther, testContract), ErrProofInvalid)
	})
	t.Run("other contract", func(t *testing.T) {
		assert.ErrorIs(t, v.Verify(in.Proof, in.Handles, testUser, testOther), ErrProofInvalid)
	})
	t.Run("reordered handles", func(t *testing.T) {
		swapped := []Handle{in.Handles[1], in.Handles[0], in.Handles[2]}
		assert.ErrorIs(t, v.Verify(in.Proof, swapped, testUser, testContract), ErrProofInvalid)
	})
	t.Run("truncated proof", func(t *testing.T) {
		assert.ErrorIs(t, v.Verify(in.Proof[:len(in.Proof)-1], in.Handles, testUser, testContract), ErrProofInvalid)
	})
	t.Run("untrusted signer", func(t *testing.T) {
		other := newTestScheme(t)
		assert.ErrorIs(t, other.Verifier().Verify(in.Proof, in.Handles, testUser, testContract), ErrProofInvalid)
	})
}

func TestHandleText(t *testing.T) {
	s := newTestScheme(t)
	in, err := s.Encrypt(context.Background(), EncryptRequest{Values: []uint32{42}, User: testUser, Contract: testContract})
	require.NoError(t, err)

	text, err := in.Handles[0].MarshalText()
	require.NoError(t, err)
	var back Handle
	require.NoError(t, back.UnmarshalText(text))
	assert.Equal(t, in.Handles[0], back)

	_, err = ParseHandle("0x1234")
	assert.Error(t, err)
}
