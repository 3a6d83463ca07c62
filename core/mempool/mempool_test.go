package mempool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthcoach/core/fhe"
	"healthcoach/core/wallet"
)

func signedTx(t *testing.T, w *wallet.Wallet, nonce uint64) Transaction {
	t.Helper()
	tx := Transaction{
		Method:  MethodSubmitHealthData,
		Handles: []fhe.Handle{{1}, {2}},
		Proof:   []byte{0xde, 0xad},
		Nonce:   nonce,
	}
	require.NoError(t, tx.Sign(w))
	return tx
}

func TestSignVerify(t *testing.T) {
	w, err := wallet.GenerateWallet()
	require.NoError(t, err)
	tx := signedTx(t, w, 1)
	assert.Equal(t, w.Address(), tx.From)
	assert.NoError(t, tx.Verify())

	other, err := wallet.GenerateWallet()
	require.NoError(t, err)
	forged := tx
	forged.From = other.Address()
	assert.ErrorIs(t, forged.Verify(), ErrBadSignature)

	tampered := tx
	tampered.Handles = []fhe.Handle{{9}, {2}}
	assert.ErrorIs(t, tampered.Verify(), ErrBadSignature)
}

func TestAddDrainPreservesOrder(t *testing.T) {
	w, err := wallet.GenerateWallet()
	require.NoError(t, err)
	mp := NewMempool(10)

	var want []uint64
	for i := uint64(1); i <= 4; i++ {
		_, err := mp.AddTx(signedTx(t, w, i))
		require.NoError(t, err)
		want = append(want, i)
	}
	assert.Equal(t, 4, mp.Len())

	first := mp.Drain(3)
	rest := mp.Drain(0)
	var got []uint64
	for _, tx := range append(first, rest...) {
		got = append(got, tx.Nonce)
	}
	assert.Equal(t, want, got)
	assert.Equal(t, 0, mp.Len())
}

func TestAddRejectsDuplicatesAndOverflow(t *testing.T) {
	w, err := wallet.GenerateWallet()
	require.NoError(t, err)
	mp := NewMempool(2)

	tx := signedTx(t, w, 1)
	id, err := mp.AddTx(tx)
	require.NoError(t, err)
	_, err = mp.AddTx(tx)
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = mp.AddTx(signedTx(t, w, 2))
	require.NoError(t, err)
	_, err = mp.AddTx(signedTx(t, w, 3))
	assert.ErrorIs(t, err, ErrPoolFull)

	got, ok := mp.GetTx(id)
	require.True(t, ok)
	assert.Equal(t, tx.Nonce, got.Nonce)
	mp.Drain(0)
	_, ok = mp.GetTx(id)
	assert.False(t, ok)
}

func TestRequeueRestoresDrainedOrder(t *testing.T) {
	w, err := wallet.GenerateWallet()
	require.NoError(t, err)
	mp := NewMempool(2)

	for i := uint64(1); i <= 2; i++ {
		_, err := mp.AddTx(signedTx(t, w, i))
		require.NoError(t, err)
	}
	drained := mp.Drain(0)
	_, err = mp.AddTx(signedTx(t, w, 3))
	require.NoError(t, err)

	mp.Requeue(drained)
	mp.Requeue(drained[:1])
	assert.Equal(t, 3, mp.Len(), "requeue ignores capacity and pending duplicates")

	var got []uint64
	for _, tx := range mp.Drain(0) {
		got = append(got, tx.Nonce)
	}
	assert.Equal(t, []uint64{1, 2, 3}, got)
}
