// Package store implements the four ordered-key secondary-index tables
// (candidates, objects, healpixels, timestamps), a typed codec wrapper
// around each, and the JSON manifest sidecar describing them.
//
// There is no embedded ordered key-value engine anywhere in the corpus —
// the teacher talks to files and its own compact custom indexes directly,
// since a static CAR archive never needs read-modify-write secondary
// indexes. badger/v4 is adopted here in its place; see DESIGN.md.
package store

import (
	"bytes"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/rpcpool/alertbase/internal/aerrors"
)

// table is an ordered key-value table over a single badger instance,
// parameterized by a key type with explicit encode/decode/less functions.
// Values are always raw bytes; callers that need a typed value layer (as
// for the multi-valued tables' varint-sequence lists) decode at a higher
// level, since append operates on pre-encoded element bytes rather than a
// whole decoded value.
type table[K any] struct {
	db        *badger.DB
	encodeKey func(K) []byte
	decodeKey func([]byte) (K, error)
	less      func(a, b K) bool
}

func newTable[K any](db *badger.DB, encodeKey func(K) []byte, decodeKey func([]byte) (K, error), less func(a, b K) bool) *table[K] {
	return &table[K]{db: db, encodeKey: encodeKey, decodeKey: decodeKey, less: less}
}

// get performs a point lookup; found is false if the key is absent.
func (t *table[K]) get(key K) (value []byte, found bool, err error) {
	err = t.db.View(func(txn *badger.Txn) error {
		item, getErr := txn.Get(t.encodeKey(key))
		if getErr == badger.ErrKeyNotFound {
			return nil
		}
		if getErr != nil {
			return getErr
		}
		found = true
		value, getErr = item.ValueCopy(nil)
		return getErr
	})
	if err != nil {
		return nil, false, fmt.Errorf("store: get: %w", aerrors.ErrIndexIO)
	}
	return value, found, nil
}

// put replaces any prior value at key.
func (t *table[K]) put(key K, value []byte) error {
	err := t.db.Update(func(txn *badger.Txn) error {
		return txn.Set(t.encodeKey(key), value)
	})
	if err != nil {
		return fmt.Errorf("store: put: %w", aerrors.ErrIndexIO)
	}
	return nil
}

// appendElement reads the current value at key (empty if absent),
// concatenates element, and writes the result back, inside a single
// badger transaction so the read-modify-write is atomic with respect to
// badger's own internal write serialization. Per the concurrency model,
// callers must still serialize append calls for the same table onto a
// single goroutine if multiple logical writers could race on the same
// key; badger's transaction isolation protects storage-level atomicity,
// not the higher-level single-writer discipline described in DESIGN.md.
func (t *table[K]) appendElement(key K, element []byte) error {
	encKey := t.encodeKey(key)
	err := t.db.Update(func(txn *badger.Txn) error {
		item, getErr := txn.Get(encKey)
		var prev []byte
		switch getErr {
		case nil:
			var copyErr error
			prev, copyErr = item.ValueCopy(nil)
			if copyErr != nil {
				return copyErr
			}
		case badger.ErrKeyNotFound:
			prev = nil
		default:
			return getErr
		}
		merged := make([]byte, 0, len(prev)+len(element))
		merged = append(merged, prev...)
		merged = append(merged, element...)
		return txn.Set(encKey, merged)
	})
	if err != nil {
		return fmt.Errorf("store: append: %w", aerrors.ErrIndexIO)
	}
	return nil
}

// rangeIterator yields (key, value) pairs in ascending key order over a
// half-open range, lazily, closing its underlying badger transaction when
// exhausted or explicitly closed.
type rangeIterator struct {
	txn     *badger.Txn
	it      *badger.Iterator
	endKey  []byte
	started bool
	closed  bool
}

// next advances the iterator. ok is false once the range is exhausted or
// the iterator has been closed.
func (ri *rangeIterator) next() (key, value []byte, ok bool, err error) {
	if ri.closed {
		return nil, nil, false, nil
	}
	if !ri.started {
		ri.started = true
	} else {
		ri.it.Next()
	}
	if !ri.it.Valid() {
		ri.close()
		return nil, nil, false, nil
	}
	item := ri.it.Item()
	k := item.KeyCopy(nil)
	if ri.endKey != nil && bytes.Compare(k, ri.endKey) >= 0 {
		ri.close()
		return nil, nil, false, nil
	}
	v, copyErr := item.ValueCopy(nil)
	if copyErr != nil {
		ri.close()
		return nil, nil, false, fmt.Errorf("store: range scan: %w", aerrors.ErrIndexIO)
	}
	return k, v, true, nil
}

func (ri *rangeIterator) close() {
	if ri.closed {
		return
	}
	ri.closed = true
	ri.it.Close()
	ri.txn.Discard()
}

// rangeScan returns a lazy iterator over [start, end).
func (t *table[K]) rangeScan(start, end K) *rangeIterator {
	txn := t.db.NewTransaction(false)
	opts := badger.DefaultIteratorOptions
	it := txn.NewIterator(opts)
	startKey := t.encodeKey(start)
	endKey := t.encodeKey(end)
	it.Seek(startKey)
	return &rangeIterator{txn: txn, it: it, endKey: endKey}
}

// count performs a full scan, returning the number of distinct keys.
func (t *table[K]) count() (uint64, error) {
	var n uint64
	err := t.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("store: count: %w", aerrors.ErrIndexIO)
	}
	return n, nil
}

// keyRangeStats performs a full scan, decoding every key to track the
// numeric/lexicographic min and max by the table's own ordering, which
// for the varint-keyed candidates table does not coincide with on-disk
// byte order.
func (t *table[K]) keyRangeStats() (count uint64, min, max K, err error) {
	var haveAny bool
	viewErr := t.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			k, decErr := t.decodeKey(it.Item().KeyCopy(nil))
			if decErr != nil {
				return decErr
			}
			count++
			if !haveAny || t.less(k, min) {
				min = k
			}
			if !haveAny || t.less(max, k) {
				max = k
			}
			haveAny = true
		}
		return nil
	})
	if viewErr != nil {
		var zero K
		return 0, zero, zero, fmt.Errorf("store: key range stats: %w", aerrors.ErrIndexIO)
	}
	return count, min, max, nil
}
