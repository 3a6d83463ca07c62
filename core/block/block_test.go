package block

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthcoach/types/ids"
)

func TestChildBlockLinksToParent(t *testing.T) {
	g := Genesis()
	assert.Equal(t, uint64(0), g.Height)

	txs := []ids.ID{ids.NewID([]byte("a")), ids.NewID([]byte("b"))}
	b := New(g, 10, txs)
	assert.Equal(t, uint64(1), b.Height)
	assert.Equal(t, g.BlockID, b.PrevHash)
	assert.Equal(t, b.ComputeID(), b.BlockID)
	assert.NotEqual(t, g.BlockID, b.BlockID)

	data, err := b.Serialize()
	require.NoError(t, err)
	back, err := Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, b.BlockID, back.BlockID)
	assert.Equal(t, txs, back.TxIDs)
}

func TestMerkleRoot(t *testing.T) {
	a, b, c := ids.NewID([]byte("a")), ids.NewID([]byte("b")), ids.NewID([]byte("c"))
	assert.Equal(t, ids.Empty, MerkleRoot(nil))
	assert.Equal(t, a, MerkleRoot([]ids.ID{a}))
	assert.NotEqual(t, MerkleRoot([]ids.ID{a, b}), MerkleRoot([]ids.ID{b, a}))
	assert.Equal(t, MerkleRoot([]ids.ID{a, b, c}), MerkleRoot([]ids.ID{a, b, c}))
	assert.NotEqual(t, MerkleRoot([]ids.ID{a, b}), MerkleRoot([]ids.ID{a, b, c}))
}
