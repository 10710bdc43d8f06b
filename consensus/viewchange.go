// Copyright 2024 The bitcraps Authors
// This file is part of the bitcraps library.

package consensus

import (
	"github.com/bitcraps/bitcraps/common"
)

// Timeout is called by the driving loop when Committed(seq) is not reached
// within the adaptive timeout for seq's current view. It returns this validator's signed ViewChange to broadcast.
func (e *Engine) Timeout(seq common.Sequence) *ViewChange {
	e.mu.Lock()
	defer e.mu.Unlock()

	r := e.round(seq)
	vc := &ViewChange{Seq: seq, NewView: r.View + 1, LastPreparedQC: r.PrepareQC}
	vc.Sign(e.self, e.selfSK)
	_ = e.appendWAL(recordViewChange, vc)
	return vc
}

// HandleViewChange folds in a ViewChange; once quorum is reached and self
// is the new view's leader, it assembles and returns a signed NewView.
func (e *Engine) HandleViewChange(vc *ViewChange) (*NewView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.vs.Contains(vc.Signer) {
		return nil, ErrInvalidVote
	}
	if err := vc.Verify(e.vs); err != nil {
		return nil, err
	}
	r := e.round(vc.Seq)
	if err := e.appendWAL(recordViewChange, vc); err != nil {
		return nil, err
	}
	ready, highest := r.RecordViewChange(vc, e.vs.Quorum())
	if !ready || !e.IsLeader(vc.Seq, vc.NewView) {
		return nil, nil
	}
	proof := make([]ViewChange, 0, len(r.viewChanges))
	for _, v := range r.viewChanges {
		proof = append(proof, *v)
	}
	nv := &NewView{Seq: vc.Seq, View: vc.NewView, Proof: proof, HighestQC: highest}
	nv.Sign(e.self, e.selfSK)
	if err := e.appendWAL(recordNewView, nv); err != nil {
		return nil, err
	}
	r.recordNewView(nv)
	return nv, nil
}

// HandleNewView verifies an incoming NewView and binds its view's
// re-proposal to HighestQC for this round, the check HandlePropose enforces
// on whatever batch_hash the new leader later signs. It produces no vote of
// its own; the matching Propose still has to arrive and pass HandlePropose.
func (e *Engine) HandleNewView(nv *NewView) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.vs.Contains(nv.Signer) || nv.Signer != e.vs.Leader(nv.View).ID {
		return ErrNotLeader
	}
	if err := nv.Verify(e.vs); err != nil {
		return err
	}
	r := e.round(nv.Seq)
	if err := e.appendWAL(recordNewView, nv); err != nil {
		return err
	}
	r.recordNewView(nv)
	return nil
}

// ReProposeFromNewView is the new leader's Init-stage action after a
// NewView forms: reuse the highest prepared QC's batch (if any) rather
// than proposing fresh ops. If HighestQC is nil the caller should call
// Propose with freshly chosen ops instead.
func (e *Engine) ReProposeFromNewView(nv *NewView) (*Propose, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r := e.round(nv.Seq)
	r.enterView(nv.View)
	if !e.IsLeader(nv.Seq, nv.View) {
		return nil, ErrNotLeader
	}
	if nv.HighestQC == nil {
		return nil, nil
	}
	ops, ok := e.opsCache[nv.HighestQC.BatchHash]
	if !ok {
		return nil, ErrInvalidProposal
	}
	p := &Propose{Seq: nv.Seq, View: nv.View, BatchHash: nv.HighestQC.BatchHash, Ops: ops}
	p.Sign(e.self, e.selfSK)
	if err := e.appendWAL(recordPropose, p); err != nil {
		return nil, err
	}
	r.Proposal = p
	r.Stage = StageProposed
	return p, nil
}
