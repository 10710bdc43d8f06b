// Copyright 2024 The bitcraps Authors
// This file is part of the bitcraps library.

package consensus

import "github.com/bitcraps/bitcraps/common"

// Stage is a sequence's position in the per-seq state machine:
// Init -> Proposed -> Prepared -> Committed.
type Stage uint8

const (
	StageInit Stage = iota + 1
	StageProposed
	StagePrepared
	StageCommitted
)

// RoundState tracks one sequence's votes across possibly multiple views
// (a view change resets the vote tables but the seq itself persists).
type RoundState struct {
	Seq   common.Sequence
	View  common.View
	Stage Stage

	Proposal *Propose

	prepareVotes map[common.ValidatorID]*Vote
	commitVotes  map[common.ValidatorID]*Vote

	PrepareQC *QuorumCert
	CommitQC  *QuorumCert

	// Equivocations records validators caught signing two different
	// batch hashes for the same (seq, view) — slashable evidence.
	Equivocations []common.ValidatorID

	signedPrepareView map[common.View]bool
	signedCommitView  map[common.View]bool

	viewChanges map[common.ValidatorID]*ViewChange

	// newViews holds every verified NewView seen for this seq, keyed by the
	// view it installs. HandlePropose consults this to bind a re-proposal
	// at view > 0 to the highest prepared QC the NewView carries, rather
	// than trusting whatever batch_hash the new leader happens to sign.
	newViews map[common.View]*NewView
}

// NewRoundState creates an empty round at view 0.
func NewRoundState(seq common.Sequence) *RoundState {
	return &RoundState{
		Seq:               seq,
		Stage:             StageInit,
		prepareVotes:      make(map[common.ValidatorID]*Vote),
		commitVotes:       make(map[common.ValidatorID]*Vote),
		signedPrepareView: make(map[common.View]bool),
		signedCommitView:  make(map[common.View]bool),
		viewChanges:       make(map[common.ValidatorID]*ViewChange),
		newViews:          make(map[common.View]*NewView),
	}
}

// enterView resets the per-view vote tables when advancing to a new view
// (votes from a prior view no longer count toward a QC in the new one).
func (r *RoundState) enterView(view common.View) {
	r.View = view
	r.Stage = StageInit
	r.Proposal = nil
	r.prepareVotes = make(map[common.ValidatorID]*Vote)
	r.commitVotes = make(map[common.ValidatorID]*Vote)
	r.viewChanges = make(map[common.ValidatorID]*ViewChange)
}

// MarkSignedPrepare records that this validator has signed a Prepare for
// (seq, view); returns false if it already had (the single-Prepare-per-view
// safety rule ).
func (r *RoundState) MarkSignedPrepare(view common.View) bool {
	if r.signedPrepareView[view] {
		return false
	}
	r.signedPrepareView[view] = true
	return true
}

// MarkSignedCommit is MarkSignedPrepare's Commit-phase counterpart.
func (r *RoundState) MarkSignedCommit(view common.View) bool {
	if r.signedCommitView[view] {
		return false
	}
	r.signedCommitView[view] = true
	return true
}

func assembleQC(seq common.Sequence, view common.View, phase common.Phase, batchHash common.Hash, votes map[common.ValidatorID]*Vote) *QuorumCert {
	qc := &QuorumCert{Seq: seq, View: view, Phase: phase, BatchHash: batchHash}
	for id, v := range votes {
		qc.Signers = append(qc.Signers, id)
		qc.Signatures = append(qc.Signatures, v.Signature)
	}
	return qc
}

// RecordPrepare adds a Prepare vote, detecting equivocation and assembling
// a PrepareQC once quorum is reached. Once formed, the QC is returned on
// that call and on every later accepted vote.
func (r *RoundState) RecordPrepare(vote *Vote, quorum int) (*QuorumCert, error) {
	if vote.View != r.View {
		return nil, ErrViewMismatch
	}
	if r.Proposal != nil && vote.BatchHash != r.Proposal.BatchHash {
		return nil, ErrInvalidVote
	}
	if existing, ok := r.prepareVotes[vote.Signer]; ok {
		if existing.BatchHash != vote.BatchHash {
			r.Equivocations = append(r.Equivocations, vote.Signer)
		}
		return nil, ErrDuplicateVote
	}
	r.prepareVotes[vote.Signer] = vote
	if r.PrepareQC == nil && len(r.prepareVotes) >= quorum {
		r.PrepareQC = assembleQC(vote.Seq, vote.View, common.PhasePrepare, vote.BatchHash, r.prepareVotes)
		r.Stage = StagePrepared
	}
	return r.PrepareQC, nil
}

// RecordCommit is RecordPrepare's Commit-phase counterpart.
func (r *RoundState) RecordCommit(vote *Vote, quorum int) (*QuorumCert, error) {
	if vote.View != r.View {
		return nil, ErrViewMismatch
	}
	if r.Proposal != nil && vote.BatchHash != r.Proposal.BatchHash {
		return nil, ErrInvalidVote
	}
	if existing, ok := r.commitVotes[vote.Signer]; ok {
		if existing.BatchHash != vote.BatchHash {
			r.Equivocations = append(r.Equivocations, vote.Signer)
		}
		return nil, ErrDuplicateVote
	}
	r.commitVotes[vote.Signer] = vote
	if r.CommitQC == nil && len(r.commitVotes) >= quorum {
		r.CommitQC = assembleQC(vote.Seq, vote.View, common.PhaseCommit, vote.BatchHash, r.commitVotes)
		r.Stage = StageCommitted
	}
	return r.CommitQC, nil
}

// recordNewView stores a verified NewView for later HandlePropose lookups.
// The first NewView seen for a view wins; a byzantine leader equivocating
// with a second NewView for the same view doesn't get to overwrite it.
func (r *RoundState) recordNewView(nv *NewView) {
	if _, ok := r.newViews[nv.View]; ok {
		return
	}
	r.newViews[nv.View] = nv
}

// RecordViewChange adds a ViewChange and reports whether quorum has been
// reached for forming a NewView, plus the highest prepared QC seen so far
// among the collected ViewChanges.
func (r *RoundState) RecordViewChange(vc *ViewChange, quorum int) (ready bool, highest *QuorumCert) {
	r.viewChanges[vc.Signer] = vc
	for _, v := range r.viewChanges {
		if v.LastPreparedQC != nil && (highest == nil || v.LastPreparedQC.View > highest.View) {
			highest = v.LastPreparedQC
		}
	}
	return len(r.viewChanges) >= quorum, highest
}
