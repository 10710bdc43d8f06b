// Copyright 2024 The bitcraps Authors
// This file is part of the bitcraps library.

// Package consensus implements the pipelined PBFT-family replication engine:
// three-phase (Propose/Prepare/Commit) voting per sequence, quorum
// certificates, view-change on timeout, WAL-backed persistence and crash
// recovery, and a single-writer applier that drives the randomness engine,
// game state machine and ledger on commit.
package consensus

import (
	"golang.org/x/exp/slices"

	"github.com/bitcraps/bitcraps/common"
	bccrypto "github.com/bitcraps/bitcraps/crypto"
)

// Validator is one member of the active validator set.
type Validator struct {
	ID        common.ValidatorID
	PublicKey bccrypto.PublicKey
}

// ValidatorSet is the fixed, epoch-scoped committee used to select leaders
// and evaluate quorums (dynamic rotation is out of scope ).
type ValidatorSet struct {
	Epoch      common.Epoch
	Validators []Validator
	index      map[common.ValidatorID]int
}

// NewValidatorSet builds a set, indexed for O(1) membership and signature
// lookups.
func NewValidatorSet(epoch common.Epoch, validators []Validator) *ValidatorSet {
	idx := make(map[common.ValidatorID]int, len(validators))
	for i, v := range validators {
		idx[v.ID] = i
	}
	return &ValidatorSet{Epoch: epoch, Validators: append([]Validator{}, validators...), index: idx}
}

// N is the committee size.
func (vs *ValidatorSet) N() int { return len(vs.Validators) }

// IDs returns every committee member's ID in a stable, sorted order, for
// callers (reputation bookkeeping, operator tooling) that need the full
// roster rather than a single lookup.
func (vs *ValidatorSet) IDs() []common.ValidatorID {
	ids := make([]common.ValidatorID, len(vs.Validators))
	for i, v := range vs.Validators {
		ids[i] = v.ID
	}
	slices.SortFunc(ids, func(a, b common.ValidatorID) bool { return a.Hex() < b.Hex() })
	return ids
}

// Quorum returns q = ceil(2n/3).
func (vs *ValidatorSet) Quorum() int { return common.Quorum(vs.N()) }

// F returns the Byzantine fault tolerance f = floor((n-1)/3).
func (vs *ValidatorSet) F() int { return common.ByzantineFaultTolerance(vs.N()) }

// Leader returns the leader validator for view, selected by view mod n.
func (vs *ValidatorSet) Leader(view common.View) Validator {
	return vs.Validators[uint64(view)%uint64(vs.N())]
}

// PublicKey looks up a validator's public key by ID.
func (vs *ValidatorSet) PublicKey(id common.ValidatorID) (bccrypto.PublicKey, bool) {
	i, ok := vs.index[id]
	if !ok {
		return nil, false
	}
	return vs.Validators[i].PublicKey, true
}

// Contains reports committee membership.
func (vs *ValidatorSet) Contains(id common.ValidatorID) bool {
	_, ok := vs.index[id]
	return ok
}
