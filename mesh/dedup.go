// Copyright 2024 The bitcraps Authors
// This file is part of the bitcraps library.

package mesh

import (
	"container/list"
	"encoding/binary"
	"sync"

	"github.com/holiman/bloomfilter/v2"

	"github.com/bitcraps/bitcraps/common"
	bccrypto "github.com/bitcraps/bitcraps/crypto"
)

type dedupKey struct {
	sender common.ValidatorID
	nonce  uint64
}

func dedupHash(sender common.ValidatorID, nonce uint64) uint64 {
	var nb [8]byte
	binary.BigEndian.PutUint64(nb[:], nonce)
	h := bccrypto.Hash(sender.Bytes(), nb[:])
	return binary.BigEndian.Uint64(h[:8])
}

// Dedup rejects redelivered (sender, nonce) pairs: a bloomfilter pre-filter
// (github.com/holiman/bloomfilter/v2, cheap false-positive check) backstopped
// by an exact bounded LRU of (sender, nonce) pairs. The LRU itself is a
// plain container/list + map — no ecosystem LRU cache ships in the
// retrieved pack, and this is a handful of lines over the standard
// library's own list type (see DESIGN.md).
type Dedup struct {
	mu       sync.Mutex
	bloom    *bloomfilter.Filter
	capacity int
	order    *list.List
	entries  map[dedupKey]*list.Element

	dropped uint64
}

// NewDedup builds a Dedup with an LRU of the given capacity and a bloom
// filter sized for roughly 10x that many distinct entries.
func NewDedup(capacity int) *Dedup {
	bf, err := bloomfilter.New(uint64(capacity)*10*8, 4)
	if err != nil {
		// Size parameters above are static and always valid; New only
		// fails on a degenerate (zero) configuration.
		panic(err)
	}
	return &Dedup{
		bloom:    bf,
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[dedupKey]*list.Element),
	}
}

// Seen reports whether (sender, nonce) has already been recorded, without
// mutating state.
func (d *Dedup) Seen(sender common.ValidatorID, nonce uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seenLocked(sender, nonce)
}

func (d *Dedup) seenLocked(sender common.ValidatorID, nonce uint64) bool {
	if !d.bloom.Contains(dedupHash(sender, nonce)) {
		return false
	}
	_, ok := d.entries[dedupKey{sender, nonce}]
	return ok
}

// Record marks (sender, nonce) as seen, returning ErrDuplicateNonce if it
// was already recorded. Eviction of the oldest entry happens once capacity
// is exceeded.
func (d *Dedup) Record(sender common.ValidatorID, nonce uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.seenLocked(sender, nonce) {
		return ErrDuplicateNonce
	}
	key := dedupKey{sender, nonce}
	d.bloom.Add(dedupHash(sender, nonce))
	el := d.order.PushBack(key)
	d.entries[key] = el

	for d.order.Len() > d.capacity {
		oldest := d.order.Front()
		d.order.Remove(oldest)
		delete(d.entries, oldest.Value.(dedupKey))
		d.dropped++
	}
	return nil
}

// Dropped returns the count of LRU entries evicted to stay within capacity
// (distinct from rejected duplicates).
func (d *Dedup) Dropped() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}
