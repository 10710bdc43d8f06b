// Copyright 2024 The bitcraps Authors
// This file is part of the bitcraps library.

// Package storage provides the key-value and write-ahead-log persistence
// primitives shared by the ledger and consensus engine. The KV store wraps
// github.com/cockroachdb/pebble, an LSM engine, behind a narrow
// Database interface (Get/Put/Delete/Has/NewBatch/NewIter).
package storage

import (
	"errors"

	"github.com/cockroachdb/pebble"
)

// ErrNotFound mirrors pebble's not-found sentinel behind a package-stable
// error so callers don't need to import pebble directly.
var ErrNotFound = errors.New("storage: key not found")

// Database is the narrow KV contract the ledger and consensus checkpoint
// store depend on.
type Database interface {
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	NewBatch() Batch
	NewIter(prefix []byte) Iterator
	Close() error
}

// Batch groups writes for atomic application: either all deltas in the
// batch apply or none do.
type Batch interface {
	Put(key, value []byte) error
	Delete(key []byte) error
	Commit(sync bool) error
}

// Iterator walks keys sharing a prefix in ascending order.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Close() error
}

type pebbleDB struct {
	db *pebble.DB
}

// OpenPebble opens (creating if absent) a pebble database at dir.
func OpenPebble(dir string) (Database, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &pebbleDB{db: db}, nil
}

func (p *pebbleDB) Get(key []byte) ([]byte, error) {
	v, closer, err := p.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	out := append([]byte{}, v...)
	closer.Close()
	return out, nil
}

func (p *pebbleDB) Has(key []byte) (bool, error) {
	_, closer, err := p.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	closer.Close()
	return true, nil
}

func (p *pebbleDB) Put(key, value []byte) error {
	return p.db.Set(key, value, pebble.Sync)
}

func (p *pebbleDB) Delete(key []byte) error {
	return p.db.Delete(key, pebble.Sync)
}

func (p *pebbleDB) Close() error { return p.db.Close() }

func (p *pebbleDB) NewBatch() Batch {
	return &pebbleBatch{b: p.db.NewBatch()}
}

type pebbleBatch struct {
	b *pebble.Batch
}

func (b *pebbleBatch) Put(key, value []byte) error { return b.b.Set(key, value, nil) }
func (b *pebbleBatch) Delete(key []byte) error     { return b.b.Delete(key, nil) }
func (b *pebbleBatch) Commit(sync bool) error {
	opts := pebble.NoSync
	if sync {
		opts = pebble.Sync
	}
	return b.b.Commit(opts)
}

func (p *pebbleDB) NewIter(prefix []byte) Iterator {
	upper := upperBound(prefix)
	it, _ := p.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upper})
	return &pebbleIter{it: it, started: false}
}

func upperBound(prefix []byte) []byte {
	if len(prefix) == 0 {
		return nil
	}
	end := append([]byte{}, prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

type pebbleIter struct {
	it      *pebble.Iterator
	started bool
}

func (i *pebbleIter) Next() bool {
	if !i.started {
		i.started = true
		return i.it.First()
	}
	return i.it.Next()
}

func (i *pebbleIter) Key() []byte   { return append([]byte{}, i.it.Key()...) }
func (i *pebbleIter) Value() []byte { return append([]byte{}, i.it.Value()...) }
func (i *pebbleIter) Close() error  { return i.it.Close() }

// MemDB is an in-memory Database for tests, avoiding a pebble dependency in
// unit tests that don't exercise durability.
type MemDB struct {
	data map[string][]byte
}

func NewMemDB() *MemDB { return &MemDB{data: make(map[string][]byte)} }

func (m *MemDB) Get(key []byte) ([]byte, error) {
	v, ok := m.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte{}, v...), nil
}

func (m *MemDB) Has(key []byte) (bool, error) {
	_, ok := m.data[string(key)]
	return ok, nil
}

func (m *MemDB) Put(key, value []byte) error {
	m.data[string(key)] = append([]byte{}, value...)
	return nil
}

func (m *MemDB) Delete(key []byte) error {
	delete(m.data, string(key))
	return nil
}

func (m *MemDB) Close() error { return nil }

func (m *MemDB) NewBatch() Batch { return &memBatch{db: m} }

type memOp struct {
	del   bool
	key   []byte
	value []byte
}

type memBatch struct {
	db  *MemDB
	ops []memOp
}

func (b *memBatch) Put(key, value []byte) error {
	b.ops = append(b.ops, memOp{key: append([]byte{}, key...), value: append([]byte{}, value...)})
	return nil
}

func (b *memBatch) Delete(key []byte) error {
	b.ops = append(b.ops, memOp{del: true, key: append([]byte{}, key...)})
	return nil
}

func (b *memBatch) Commit(_ bool) error {
	for _, op := range b.ops {
		if op.del {
			delete(b.db.data, string(op.key))
		} else {
			b.db.data[string(op.key)] = op.value
		}
	}
	return nil
}

func (m *MemDB) NewIter(prefix []byte) Iterator {
	keys := make([]string, 0)
	for k := range m.data {
		if len(k) >= len(prefix) && k[:len(prefix)] == string(prefix) {
			keys = append(keys, k)
		}
	}
	sortStrings(keys)
	return &memIter{db: m, keys: keys, idx: -1}
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

type memIter struct {
	db   *MemDB
	keys []string
	idx  int
}

func (it *memIter) Next() bool {
	it.idx++
	return it.idx < len(it.keys)
}

func (it *memIter) Key() []byte   { return []byte(it.keys[it.idx]) }
func (it *memIter) Value() []byte { return it.db.data[it.keys[it.idx]] }
func (it *memIter) Close() error  { return nil }
