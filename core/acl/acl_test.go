package acl

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthcoach/core/fhe"
	"healthcoach/core/storage"
)

func TestAllowIsScopedToHandleAndPrincipal(t *testing.T) {
	store, err := storage.NewMemStorage()
	require.NoError(t, err)
	defer store.Close()

	a := New(store)
	alice := common.HexToAddress("0xa1")
	bob := common.HexToAddress("0xb2")
	h1 := fhe.Handle{1}
	h2 := fhe.Handle{2}

	batch := storage.NewBatch()
	a.Allow(batch, h1, alice)
	assert.False(t, a.IsAllowed(h1, alice), "grant must not be visible before the batch is written")
	require.NoError(t, store.Write(batch))

	assert.True(t, a.IsAllowed(h1, alice))
	assert.False(t, a.IsAllowed(h1, bob))
	assert.False(t, a.IsAllowed(h2, alice))
}
