package rawstore

import (
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/wasmstate/engine/metrics"
)

// PebbleStore is a disk-backed Store over a cockroachdb/pebble database.
// This is the concrete backing collaborator for persisted, multi-process
// deployments; MemoryDB remains the default for tests and single-process
// use where durability does not matter.
type PebbleStore struct {
	db *pebble.DB
}

// OpenPebbleStore opens (creating if necessary) a pebble database at dir.
func OpenPebbleStore(dir string) (*PebbleStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Has(key []byte) (bool, error) {
	_, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	closer.Close()
	return true, nil
}

func (s *PebbleStore) Get(key []byte) ([]byte, error) {
	start := time.Now()
	metrics.StoreGets.Inc()
	val, closer, err := s.db.Get(key)
	metrics.StoreLatency.Observe(float64(time.Since(start).Milliseconds()))
	if err == pebble.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		metrics.StoreGetErrors.Inc()
		return nil, err
	}
	out := make([]byte, len(val))
	copy(out, val)
	closer.Close()
	return out, nil
}

func (s *PebbleStore) Put(key, value []byte) error {
	return s.db.Set(key, value, pebble.Sync)
}

func (s *PebbleStore) Delete(key []byte) error {
	return s.db.Delete(key, pebble.Sync)
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}

func (s *PebbleStore) NewBatch() Batch {
	return &pebbleBatch{db: s.db, batch: s.db.NewBatch()}
}

type pebbleBatch struct {
	db    *pebble.DB
	batch *pebble.Batch
	size  int
}

func (b *pebbleBatch) Put(key, value []byte) error {
	b.size += len(key) + len(value)
	return b.batch.Set(key, value, nil)
}

func (b *pebbleBatch) Delete(key []byte) error {
	b.size += len(key)
	return b.batch.Delete(key, nil)
}

func (b *pebbleBatch) ValueSize() int { return b.size }

func (b *pebbleBatch) Write() error {
	return b.batch.Commit(pebble.Sync)
}

func (b *pebbleBatch) Reset() {
	b.batch.Reset()
	b.size = 0
}

func (s *PebbleStore) NewIterator(prefix []byte) Iterator {
	upper := upperBound(prefix)
	it, _ := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upper})
	it.First()
	return &pebbleIterator{it: it, started: false}
}

// upperBound computes the smallest byte string greater than every string
// sharing prefix, i.e. the exclusive upper bound for a prefix scan.
func upperBound(prefix []byte) []byte {
	out := make([]byte, len(prefix))
	copy(out, prefix)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] == 0xff {
			continue
		}
		out[i]++
		return out[:i+1]
	}
	return nil // prefix is all 0xff bytes (or empty): unbounded
}

type pebbleIterator struct {
	it      *pebble.Iterator
	started bool
}

func (it *pebbleIterator) Next() bool {
	if !it.started {
		it.started = true
		return it.it.Valid()
	}
	return it.it.Next()
}

func (it *pebbleIterator) Key() []byte {
	if !it.it.Valid() {
		return nil
	}
	return append([]byte{}, it.it.Key()...)
}

func (it *pebbleIterator) Value() []byte {
	if !it.it.Valid() {
		return nil
	}
	return append([]byte{}, it.it.Value()...)
}

func (it *pebbleIterator) Release() {
	it.it.Close()
}
