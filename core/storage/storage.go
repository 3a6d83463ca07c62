package storage

import (
	"errors"

	"github.com/syndtr/goleveldb/leveldb"
	lvstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("storage: key not found")

// StateBackend abstracts the persistent key-value store for ledger state.
type StateBackend interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	Has(key string) (bool, error)
	Write(batch *Batch) error
	Iterate(prefix string, fn func(key string, value []byte) error) error
}

// Batch collects writes that are applied atomically by StateBackend.Write.
type Batch struct {
	b leveldb.Batch
}

func NewBatch() *Batch {
	return &Batch{}
}

func (b *Batch) Put(key string, value []byte) {
	b.b.Put([]byte(key), value)
}

func (b *Batch) Delete(key string) {
	b.b.Delete([]byte(key))
}

// Len returns the number of staged operations.
func (b *Batch) Len() int {
	return b.b.Len()
}

type Storage struct {
	db *leveldb.DB
}

// NewStorage opens (or creates) a LevelDB database at path.
func NewStorage(path string) (*Storage, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &Storage{db: db}, nil
}

// NewMemStorage returns a Storage backed by an in-memory LevelDB instance.
func NewMemStorage() (*Storage, error) {
	db, err := leveldb.Open(lvstorage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return &Storage{db: db}, nil
}

// Get retrieves a value by key from LevelDB.
func (s *Storage) Get(key string) ([]byte, error) {
	v, err := s.db.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return v, err
}

// Put stores a key-value pair in LevelDB.
func (s *Storage) Put(key string, value []byte) error {
	return s.db.Put([]byte(key), value, nil)
}

func (s *Storage) Has(key string) (bool, error) {
	return s.db.Has([]byte(key), nil)
}

// Write applies all operations in batch atomically.
func (s *Storage) Write(batch *Batch) error {
	if batch == nil || batch.Len() == 0 {
		return nil
	}
	return s.db.Write(&batch.b, nil)
}

// Iterate calls fn for every key with the given prefix, in key order.
// Iteration stops at the first error returned by fn.
func (s *Storage) Iterate(prefix string, fn func(key string, value []byte) error) error {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()

	for iter.Next() {
		value := append([]byte(nil), iter.Value()...)
		if err := fn(string(iter.Key()), value); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (s *Storage) Close() error {
	return s.db.Close()
}
