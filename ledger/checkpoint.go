// Copyright 2024 The bitcraps Authors
// This file is part of the bitcraps library.

package ledger

import (
	"encoding/binary"

	"github.com/golang/snappy"

	"github.com/bitcraps/bitcraps/common"
	"github.com/bitcraps/bitcraps/log"
	"github.com/bitcraps/bitcraps/storage"
)

const checkpointKey = "ckpt/latest"

// Checkpoint snapshots the current balance map to db (snappy-compressed)
// and truncates the WAL up to the segment active at snapshot time, since a
// checkpointed sequence's WAL records are no longer needed for recovery.
func (l *Ledger) Checkpoint() error {
	l.mu.RLock()
	snapshot := encodeSnapshot(l.lastSeq, l.balances)
	keepFrom := l.wal.CurrentIndex()
	l.mu.RUnlock()

	compressed := snappy.Encode(nil, snapshot)
	if err := l.db.Put([]byte(checkpointKey), compressed); err != nil {
		return err
	}
	if err := storage.Truncate(l.walDir, keepFrom); err != nil {
		return err
	}
	log.Info("ledger checkpoint written", "seq", uint64(l.LastSequence()), "accounts", len(l.balances))
	return nil
}

// Recover restores state from the latest checkpoint (if any) and replays
// any WAL records with a sequence number beyond it, the crash-recovery path
// driven by ledger.New on startup.
func (l *Ledger) Recover() error {
	compressed, err := l.db.Get([]byte(checkpointKey))
	if err == nil {
		snapshot, derr := snappy.Decode(nil, compressed)
		if derr != nil {
			return ErrCorruptWAL
		}
		seq, balances, ok := decodeSnapshot(snapshot)
		if !ok {
			return ErrCorruptWAL
		}
		l.lastSeq = seq
		l.balances = balances
		l.known = true
	} else if err != storage.ErrNotFound {
		return err
	}

	return storage.Replay(l.walDir, func(payload []byte) error {
		seq, deltas, ok := decodeRecord(payload)
		if !ok {
			return ErrCorruptWAL
		}
		if l.known && seq <= l.lastSeq {
			return nil // already covered by the checkpoint
		}
		return l.applyLocked(seq, deltas)
	})
}

// applyLocked performs the balance mutation of Apply without re-appending
// to the WAL, used while replaying records that are already durable.
func (l *Ledger) applyLocked(seq common.Sequence, deltas []Delta) error {
	for _, d := range deltas {
		bal := l.balances[d.Account]
		if d.Amount < 0 {
			dec := uint64(-d.Amount)
			if dec > bal {
				return ErrInsufficientBalance
			}
			l.balances[d.Account] = bal - dec
		} else {
			inc := uint64(d.Amount)
			if bal+inc < bal {
				return ErrOverflow
			}
			l.balances[d.Account] = bal + inc
		}
	}
	l.lastSeq = seq
	l.known = true
	return nil
}

func encodeSnapshot(seq common.Sequence, balances map[common.Account]uint64) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint64(buf[0:8], uint64(seq))
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(balances)))
	for acct, bal := range balances {
		entry := make([]byte, 40)
		copy(entry[0:32], acct.Bytes())
		binary.BigEndian.PutUint64(entry[32:40], bal)
		buf = append(buf, entry...)
	}
	return buf
}

func decodeSnapshot(b []byte) (common.Sequence, map[common.Account]uint64, bool) {
	if len(b) < 12 {
		return 0, nil, false
	}
	seq := common.Sequence(binary.BigEndian.Uint64(b[0:8]))
	count := binary.BigEndian.Uint32(b[8:12])
	balances := make(map[common.Account]uint64, count)
	off := 12
	for i := uint32(0); i < count; i++ {
		if off+40 > len(b) {
			return 0, nil, false
		}
		var acct common.Account
		copy(acct[:], b[off:off+32])
		balances[acct] = decodeBalance(b[off+32 : off+40])
		off += 40
	}
	return seq, balances, true
}
