// Copyright 2024 The bitcraps Authors
// This file is part of the bitcraps library.

package mesh

import (
	"sync"

	"github.com/bitcraps/bitcraps/common"
	bccrypto "github.com/bitcraps/bitcraps/crypto"
	"github.com/bitcraps/bitcraps/log"
)

// PublicKeyLookup resolves a validator's signing key for envelope
// verification. The dispatcher stays decoupled from consensus.ValidatorSet
// so the same substrate can carry gateway traffic with a different
// membership source.
type PublicKeyLookup func(common.ValidatorID) (bccrypto.PublicKey, bool)

// Handler processes one decoded, verified, deduplicated envelope.
type Handler func(sender common.ValidatorID, payload []byte) error

// Dispatcher implements typed dispatch: verify signature,
// reject duplicates, route by kind to the registered listener.
type Dispatcher struct {
	lookup PublicKeyLookup
	dedup  *Dedup
	queue  *Queue

	mu       sync.RWMutex
	handlers map[Kind]Handler

	mismatchedSig uint64
	duplicates    uint64
}

// NewDispatcher builds a Dispatcher backed by a dedup window of dedupCap
// entries and an inbound queue bounded at queueCap.
func NewDispatcher(lookup PublicKeyLookup, dedupCap, queueCap int) *Dispatcher {
	return &Dispatcher{
		lookup:   lookup,
		dedup:    NewDedup(dedupCap),
		queue:    NewQueue(queueCap),
		handlers: make(map[Kind]Handler),
	}
}

// OnKind registers the handler invoked for messages of kind.
func (d *Dispatcher) OnKind(kind Kind, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[kind] = h
}

// Ingest decodes and verifies a raw wire envelope and, if it survives
// signature and dedup checks, enqueues it for Drain to process. Ingest is
// the boundary where MessageError taxonomy applies: failures here never
// touch engine state.
func (d *Dispatcher) Ingest(raw []byte) error {
	env, err := Decode(raw)
	if err != nil {
		return err
	}
	pk, ok := d.lookup(env.Sender)
	if !ok || !env.Verify(pk) {
		d.mu.Lock()
		d.mismatchedSig++
		d.mu.Unlock()
		return ErrSigInvalid
	}
	if err := d.dedup.Record(env.Sender, env.Nonce); err != nil {
		d.mu.Lock()
		d.duplicates++
		d.mu.Unlock()
		return err
	}
	d.queue.Push(env)
	return nil
}

// Drain pops and processes every currently queued message, in
// priority-then-arrival order, returning the handler errors (and
// ErrUnknownKind for kinds with no handler) in processing order.
// Within a single (sender, kind) stream, messages are delivered in
// sender order.
func (d *Dispatcher) Drain() []error {
	var errs []error
	for {
		in := d.queue.Pop()
		if in == nil {
			return errs
		}
		d.mu.RLock()
		h, ok := d.handlers[in.Envelope.Kind]
		d.mu.RUnlock()
		if !ok {
			errs = append(errs, ErrUnknownKind)
			continue
		}
		if err := h(in.Envelope.Sender, in.Envelope.Payload); err != nil {
			log.Warn("mesh handler error", "kind", in.Envelope.Kind.String(), "sender", in.Envelope.Sender.Hex(), "err", err)
			errs = append(errs, err)
		}
	}
}

// Stats summarizes dispatcher-level counters for the operator console and
// metrics package.
type Stats struct {
	MismatchedSig uint64
	Duplicates    uint64
	QueueDepth    int
	QueueDropped  map[Kind]uint64
	DedupEvicted  uint64
}

// Stats snapshots the dispatcher's counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.RLock()
	mismatched, dup := d.mismatchedSig, d.duplicates
	d.mu.RUnlock()
	return Stats{
		MismatchedSig: mismatched,
		Duplicates:    dup,
		QueueDepth:    d.queue.Len(),
		QueueDropped:  d.queue.Dropped(),
		DedupEvicted:  d.dedup.Dropped(),
	}
}
