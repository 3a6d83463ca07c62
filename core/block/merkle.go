package block

import (
	"crypto/sha256"

	"healthcoach/types/ids"
)

// MerkleRoot computes the Merkle root of a list of ids.
// If the list is empty, returns the empty id.
func MerkleRoot(leaves []ids.ID) ids.ID {
	n := len(leaves)
	if n == 0 {
		return ids.Empty
	}
	level := append([]ids.ID(nil), leaves...)
	for n > 1 {
		next := make([]ids.ID, 0, (n+1)/2)
		for i := 0; i < n; i += 2 {
			right := level[i]
			if i+1 < n {
				right = level[i+1]
			}
			// Odd node: hash with itself
			h := sha256.New()
			h.Write(level[i][:])
			h.Write(right[:])
			var id ids.ID
			copy(id[:], h.Sum(nil))
			next = append(next, id)
		}
		level = next
		n = len(level)
	}
	return level[0]
}
