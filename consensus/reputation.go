// Copyright 2024 The bitcraps Authors
// This file is part of the bitcraps library.

package consensus

import (
	"sort"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/bitcraps/bitcraps/common"
)

// Reputation is a per-validator operational health score derived from vote
// timeliness and randomness-reveal participation. It never feeds back into
// consensus safety rules; slashable evidence for equivocation is tracked
// separately as signed conflicting messages, not through this score.
type Reputation struct {
	VoteScore   float64 // decays when missing from a round's CommitQC signers, recovers when present
	RevealScore float64 // decays on missed randomness reveals, recovers on timely ones
	Overall     float64
	RoundsSeen  uint64
}

const (
	repInitial    = 100.0
	repVotePen    = 5.0
	repVoteGain   = 1.0
	repRevealPen  = 10.0
	repRevealGain = 2.0
)

func clampScore(v float64) float64 {
	if v > 100 {
		return 100
	}
	if v < 0 {
		return 0
	}
	return v
}

// ReputationManager tracks Reputation per validator across committed
// sequences: a vote-timeliness and reveal-participation health signal kept
// entirely separate from quorum/safety decisions.
type ReputationManager struct {
	mu     sync.RWMutex
	scores map[common.ValidatorID]*Reputation
}

// NewReputationManager returns an empty manager.
func NewReputationManager() *ReputationManager {
	return &ReputationManager{scores: make(map[common.ValidatorID]*Reputation)}
}

func (rm *ReputationManager) getOrInit(id common.ValidatorID) *Reputation {
	rep, ok := rm.scores[id]
	if !ok {
		rep = &Reputation{VoteScore: repInitial, RevealScore: repInitial, Overall: repInitial}
		rm.scores[id] = rep
	}
	return rep
}

// RecordRound updates every validator's score for one committed sequence:
// signers voted the committing QC in time; missingReveals did not reveal
// their randomness commitment before finalize.
func (rm *ReputationManager) RecordRound(all []common.ValidatorID, signers, missingReveals []common.ValidatorID) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	signed := mapset.NewThreadUnsafeSet(signers...)
	missed := mapset.NewThreadUnsafeSet(missingReveals...)

	for _, id := range all {
		rep := rm.getOrInit(id)
		rep.RoundsSeen++
		if signed.Contains(id) {
			rep.VoteScore = clampScore(rep.VoteScore + repVoteGain)
		} else {
			rep.VoteScore = clampScore(rep.VoteScore - repVotePen)
		}
		if missed.Contains(id) {
			rep.RevealScore = clampScore(rep.RevealScore - repRevealPen)
		} else {
			rep.RevealScore = clampScore(rep.RevealScore + repRevealGain)
		}
		rep.Overall = clampScore(rep.VoteScore*0.6 + rep.RevealScore*0.4)
	}
}

// Get returns validator id's current reputation, or a perfect default if
// unobserved.
func (rm *ReputationManager) Get(id common.ValidatorID) Reputation {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	if rep, ok := rm.scores[id]; ok {
		return *rep
	}
	return Reputation{VoteScore: repInitial, RevealScore: repInitial, Overall: repInitial}
}

// Snapshot returns every tracked validator's reputation, for the operator
// console's read-only status surface.
func (rm *ReputationManager) Snapshot() map[common.ValidatorID]Reputation {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	out := make(map[common.ValidatorID]Reputation, len(rm.scores))
	for id, rep := range rm.scores {
		out[id] = *rep
	}
	return out
}

// ReputationEntry pairs a validator ID with its score, for callers (the
// status endpoint, the operator console) that need a JSON- and
// table-friendly list rather than a map keyed by a fixed-size byte array.
type ReputationEntry struct {
	ValidatorID common.ValidatorID
	Reputation
}

// SnapshotSorted returns every tracked validator's reputation as a slice
// sorted by validator ID, for the operator console's read-only status
// surface.
func (rm *ReputationManager) SnapshotSorted() []ReputationEntry {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	out := make([]ReputationEntry, 0, len(rm.scores))
	for id, rep := range rm.scores {
		out = append(out, ReputationEntry{ValidatorID: id, Reputation: *rep})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ValidatorID.Hex() < out[j].ValidatorID.Hex() })
	return out
}
