// Copyright 2024 The bitcraps Authors
// This file is part of the bitcraps library.

package main

import (
	"sync"
	"time"

	"github.com/bitcraps/bitcraps/common"
	"github.com/bitcraps/bitcraps/consensus"
	"github.com/bitcraps/bitcraps/gamestate"
	"github.com/bitcraps/bitcraps/log"
	"github.com/bitcraps/bitcraps/mesh"
)

// batchAccumulator implements gateway.BatchSubmitter by queueing ops until
// this validator is leader for the next sequence, then proposing them.
// Gateways submit to whichever validator they're connected to; a
// non-leader validator simply holds the ops until leadership rotates to it.
type batchAccumulator struct {
	mu      sync.Mutex
	pending []gamestate.Op
}

func (b *batchAccumulator) SubmitBatch(ops []gamestate.Op) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, ops...)
	return nil
}

func (b *batchAccumulator) drain(max int) []gamestate.Op {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		return nil
	}
	n := len(b.pending)
	if n > max {
		n = max
	}
	ops := b.pending[:n]
	b.pending = b.pending[n:]
	return ops
}

// leaderLoop polls at interval; whenever self is the view-0 leader for the
// sequence after the last committed one and has pending ops, it proposes
// that sequence and broadcasts.
func leaderLoop(stop <-chan struct{}, interval time.Duration, eng *consensus.Engine, acc *batchAccumulator, bc *broadcaster, batchSize int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			next := eng.LastCommittedSequence() + 1
			if !eng.IsLeader(next, 0) {
				continue
			}
			ops := acc.drain(batchSize)
			if len(ops) == 0 {
				continue
			}
			p, err := eng.Propose(next, ops)
			if err != nil {
				log.Warn("propose failed", "seq", uint64(next), "err", err)
				continue
			}
			bc.broadcast(mesh.KindPropose, encodeGob(p))
		}
	}
}

// timeoutLoop fires a ViewChange for the oldest uncommitted sequence if it
// hasn't committed within timeout, liveness.
func timeoutLoop(stop <-chan struct{}, timeout time.Duration, eng *consensus.Engine, bc *broadcaster) {
	ticker := time.NewTicker(timeout)
	defer ticker.Stop()
	var pending common.Sequence
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			next := eng.LastCommittedSequence() + 1
			if next != pending {
				pending = next
				continue
			}
			vc := eng.Timeout(next)
			bc.broadcast(mesh.KindViewChange, encodeGob(vc))
		}
	}
}
