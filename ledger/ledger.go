// Copyright 2024 The bitcraps Authors
// This file is part of the bitcraps library.

// Package ledger implements the treasury-backed balance ledger: a
// sequence-ordered, atomically-applied balance map with WAL persistence,
// snapshot checkpointing and crash recovery. It is the single writer the
// consensus applier drives after a batch commits.
package ledger

import (
	"encoding/binary"
	"sort"
	"sync"

	"github.com/holiman/uint256"

	"github.com/bitcraps/bitcraps/common"
	"github.com/bitcraps/bitcraps/log"
	"github.com/bitcraps/bitcraps/merkle"
	"github.com/bitcraps/bitcraps/storage"
)

// Delta is a signed balance change against one account. A batch of deltas
// must net to zero across the whole batch when it does not touch the
// treasury, and must always leave every balance non-negative.
type Delta struct {
	Account common.Account
	Amount  int64
}

const balanceKeyPrefix = "bal/"

func balanceKey(a common.Account) []byte {
	return append([]byte(balanceKeyPrefix), a.Bytes()...)
}

// Ledger is the durable balance map. It is safe for concurrent reads; Apply
// calls are serialized by the caller (the consensus applier is the single
// writer).
type Ledger struct {
	mu       sync.RWMutex
	db       storage.Database
	wal      *storage.WAL
	walDir   string
	balances map[common.Account]uint64
	lastSeq  common.Sequence
	known    bool // lastSeq has been set at least once
}

// New creates a Ledger over db (balances + checkpoints) and wal (the
// sequence-ordered apply log, rooted at walDir). Treasury starts funded
// with initialTreasury.
func New(db storage.Database, wal *storage.WAL, walDir string, initialTreasury uint64) (*Ledger, error) {
	l := &Ledger{
		db:       db,
		wal:      wal,
		walDir:   walDir,
		balances: make(map[common.Account]uint64),
	}
	if err := l.Recover(); err != nil {
		return nil, err
	}
	if !l.known {
		l.balances[common.TreasuryAccount] = initialTreasury
		l.known = true
	}
	return l, nil
}

// Balance returns the current balance of account, 0 if never credited.
func (l *Ledger) Balance(account common.Account) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[account]
}

// LastSequence returns the highest sequence number successfully applied.
func (l *Ledger) LastSequence() common.Sequence {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastSeq
}

// Apply applies deltas atomically at sequence seq: either every delta lands
// or none do. seq must be exactly lastSeq+1; a fresh ledger (lastSeq 0)
// accepts only seq 1.
func (l *Ledger) Apply(seq common.Sequence, deltas []Delta) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.known && seq != l.lastSeq+1 {
		return ErrSeqOutOfOrder
	}

	next := make(map[common.Account]uint64, len(l.balances))
	for k, v := range l.balances {
		next[k] = v
	}
	for _, d := range deltas {
		bal := next[d.Account]
		if d.Amount < 0 {
			dec := uint64(-d.Amount)
			if dec > bal {
				return ErrInsufficientBalance
			}
			next[d.Account] = bal - dec
		} else {
			inc := uint64(d.Amount)
			// Add in 256-bit space so the overflow check can't itself wrap;
			// IsUint64 then confirms the sum still fits the ledger's native
			// balance width before it's cast back down.
			sum := new(uint256.Int).Add(uint256.NewInt(bal), uint256.NewInt(inc))
			if !sum.IsUint64() {
				return ErrOverflow
			}
			next[d.Account] = sum.Uint64()
		}
	}

	if _, _, err := l.wal.Append(encodeRecord(seq, deltas)); err != nil {
		return err
	}

	batch := l.db.NewBatch()
	for acct, bal := range next {
		if err := batch.Put(balanceKey(acct), encodeBalance(bal)); err != nil {
			return err
		}
	}
	if err := batch.Commit(true); err != nil {
		return err
	}

	l.balances = next
	l.lastSeq = seq
	l.known = true
	log.Debug("ledger applied batch", "seq", uint64(seq), "deltas", len(deltas))
	return nil
}

// Root returns the Merkle root over the canonical (account, balance)
// sequence, sorted by account bytes, account-root usage
// in quorum certificates.
func (l *Ledger) Root() common.Hash {
	l.mu.RLock()
	defer l.mu.RUnlock()
	accounts := make([]common.Account, 0, len(l.balances))
	for a := range l.balances {
		accounts = append(accounts, a)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return string(accounts[i].Bytes()) < string(accounts[j].Bytes())
	})
	leaves := make([][]byte, len(accounts))
	for i, a := range accounts {
		leaf := make([]byte, 0, 40)
		leaf = append(leaf, a.Bytes()...)
		leaf = append(leaf, encodeBalance(l.balances[a])...)
		leaves[i] = leaf
	}
	return merkle.Root(leaves)
}

func encodeBalance(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func decodeBalance(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

// encodeRecord frames a WAL record as: seq(8) | count(4) | count*(account(32) amount(8 signed)).
func encodeRecord(seq common.Sequence, deltas []Delta) []byte {
	buf := make([]byte, 12+len(deltas)*40)
	binary.BigEndian.PutUint64(buf[0:8], uint64(seq))
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(deltas)))
	off := 12
	for _, d := range deltas {
		copy(buf[off:off+32], d.Account.Bytes())
		binary.BigEndian.PutUint64(buf[off+32:off+40], uint64(d.Amount))
		off += 40
	}
	return buf
}

func decodeRecord(b []byte) (common.Sequence, []Delta, bool) {
	if len(b) < 12 {
		return 0, nil, false
	}
	seq := common.Sequence(binary.BigEndian.Uint64(b[0:8]))
	count := binary.BigEndian.Uint32(b[8:12])
	off := 12
	deltas := make([]Delta, 0, count)
	for i := uint32(0); i < count; i++ {
		if off+40 > len(b) {
			return 0, nil, false
		}
		var acct common.Account
		copy(acct[:], b[off:off+32])
		amount := int64(binary.BigEndian.Uint64(b[off+32 : off+40]))
		deltas = append(deltas, Delta{Account: acct, Amount: amount})
		off += 40
	}
	return seq, deltas, true
}
