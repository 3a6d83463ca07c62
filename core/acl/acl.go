// Package acl records which principals may request decryption of a ciphertext handle.
package acl

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"healthcoach/core/fhe"
	"healthcoach/core/storage"
)

const keyPrefix = "acl:"

// ACL is backed by the ledger state so grants are written atomically with the
// record they belong to.
type ACL struct {
	backend storage.StateBackend
}

func New(backend storage.StateBackend) *ACL {
	return &ACL{backend: backend}
}

// Allow stages a grant for who on h into batch.
func (a *ACL) Allow(batch *storage.Batch, h fhe.Handle, who common.Address) {
	batch.Put(key(h, who), []byte{1})
}

// IsAllowed reports whether who was ever granted h. Storage errors deny.
func (a *ACL) IsAllowed(h fhe.Handle, who common.Address) bool {
	ok, err := a.backend.Has(key(h, who))
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return false
	}
	return ok
}

func key(h fhe.Handle, who common.Address) string {
	return keyPrefix + h.String() + ":" + strings.ToLower(who.Hex())
}
