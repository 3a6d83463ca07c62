package chain

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"healthcoach/core/block"
	"healthcoach/core/storage"
	"healthcoach/types/ids"
)

// ErrCorruptChain is returned when stored blocks do not link up.
var ErrCorruptChain = errors.New("chain: stored blocks are inconsistent")

// Scan calls fn for every stored block from genesis to the head, in height
// order, and stops at the first error.
func (n *Node) Scan(fn func(b *block.Block) error) error {
	head := n.Height()
	for h := uint64(0); h <= head; h++ {
		b, err := n.BlockAt(h)
		if err != nil {
			return err
		}
		if err := fn(b); err != nil {
			return err
		}
	}
	return nil
}

// VerifyChain checks every stored block's hash, Merkle root, parent link and
// ledger time against its predecessor, then checks that every stored receipt
// belongs to a transaction in the block it names.
func (n *Node) VerifyChain() error {
	var prev *block.Block
	included := make(map[ids.ID]ids.ID)
	err := n.Scan(func(b *block.Block) error {
		if b.ComputeID() != b.BlockID {
			return fmt.Errorf("%w: block %d hash mismatch", ErrCorruptChain, b.Height)
		}
		if block.MerkleRoot(b.TxIDs) != b.MerkleRoot {
			return fmt.Errorf("%w: block %d merkle root mismatch", ErrCorruptChain, b.Height)
		}
		if prev != nil {
			if b.PrevHash != prev.BlockID {
				return fmt.Errorf("%w: block %d does not link to block %d", ErrCorruptChain, b.Height, prev.Height)
			}
			if b.Timestamp <= prev.Timestamp {
				return fmt.Errorf("%w: block %d ledger time %d not after %d", ErrCorruptChain, b.Height, b.Timestamp, prev.Timestamp)
			}
		}
		for _, id := range b.TxIDs {
			included[id] = b.BlockID
		}
		prev = b
		return nil
	})
	if err != nil {
		return err
	}

	var receipts int
	err = n.backend.Iterate(receiptPrefix, func(key string, value []byte) error {
		var r block.Receipt
		if err := storage.Unmarshal(value, &r); err != nil {
			return fmt.Errorf("%w: receipt %s: %v", ErrCorruptChain, key, err)
		}
		if key != receiptPrefix+r.TxID.String() {
			return fmt.Errorf("%w: receipt %s is stored under %s", ErrCorruptChain, r.TxID, key)
		}
		blockID, ok := included[r.TxID]
		if !ok || blockID != r.BlockID {
			return fmt.Errorf("%w: receipt for %s names block %d which does not include it", ErrCorruptChain, r.TxID, r.BlockHeight)
		}
		receipts++
		return nil
	})
	if err != nil {
		return err
	}
	n.logger.Info("chain verified", zap.Uint64("height", n.Height()), zap.Int("receipts", receipts))
	return nil
}
