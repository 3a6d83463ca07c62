package mempool

import (
	"errors"
	"sync"

	"healthcoach/types/ids"
)

var (
	ErrDuplicate = errors.New("transaction already pending")
	ErrPoolFull  = errors.New("mempool is full")
)

// Mempool holds pending transactions in arrival order until the block
// producer drains them.
type Mempool struct {
	mu     sync.Mutex
	txs    map[ids.ID]Transaction
	order  []ids.ID
	maxTxs int
}

// NewMempool returns a pool holding at most maxTxs transactions; maxTxs <= 0
// means unbounded.
func NewMempool(maxTxs int) *Mempool {
	return &Mempool{
		txs:    make(map[ids.ID]Transaction),
		order:  make([]ids.ID, 0),
		maxTxs: maxTxs,
	}
}

// AddTx queues tx and returns its ID. Pending writes are never evicted; a full
// pool rejects new ones instead.
func (mp *Mempool) AddTx(tx Transaction) (ids.ID, error) {
	id := tx.ID()
	mp.mu.Lock()
	defer mp.mu.Unlock()
	if _, exists := mp.txs[id]; exists {
		return id, ErrDuplicate
	}
	if mp.maxTxs > 0 && len(mp.txs) >= mp.maxTxs {
		return id, ErrPoolFull
	}
	mp.txs[id] = tx
	mp.order = append(mp.order, id)
	return id, nil
}

// GetTx returns the pending transaction with the given id.
func (mp *Mempool) GetTx(txID ids.ID) (Transaction, bool) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	tx, ok := mp.txs[txID]
	return tx, ok
}

// Requeue puts txs back at the head of the queue, in order, ahead of anything
// that arrived since they were drained. Capacity is not enforced so a drained
// block is never lost.
func (mp *Mempool) Requeue(txs []Transaction) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	front := make([]ids.ID, 0, len(txs))
	for _, tx := range txs {
		id := tx.ID()
		if _, exists := mp.txs[id]; exists {
			continue
		}
		mp.txs[id] = tx
		front = append(front, id)
	}
	mp.order = append(front, mp.order...)
}

// Drain removes and returns up to max transactions in arrival order. max <= 0
// drains everything.
func (mp *Mempool) Drain(max int) []Transaction {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	n := len(mp.order)
	if max > 0 && max < n {
		n = max
	}
	txs := make([]Transaction, 0, n)
	for _, id := range mp.order[:n] {
		txs = append(txs, mp.txs[id])
		delete(mp.txs, id)
	}
	mp.order = append([]ids.ID(nil), mp.order[n:]...)
	return txs
}

func (mp *Mempool) Len() int {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return len(mp.order)
}
