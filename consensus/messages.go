// Copyright 2024 The bitcraps Authors
// This file is part of the bitcraps library.

package consensus

import (
	"encoding/binary"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/bitcraps/bitcraps/common"
	bccrypto "github.com/bitcraps/bitcraps/crypto"
	"github.com/bitcraps/bitcraps/gamestate"
)

func seqViewPhaseBytes(domain string, seq common.Sequence, view common.View, phase common.Phase, batchHash common.Hash) []byte {
	buf := make([]byte, 0, len(domain)+8+8+1+32)
	buf = append(buf, []byte(domain)...)
	var s, v [8]byte
	binary.BigEndian.PutUint64(s[:], uint64(seq))
	binary.BigEndian.PutUint64(v[:], uint64(view))
	buf = append(buf, s[:]...)
	buf = append(buf, v[:]...)
	buf = append(buf, byte(phase))
	buf = append(buf, batchHash.Bytes()...)
	return buf
}

// Propose is the leader's per-sequence proposal.
type Propose struct {
	Seq       common.Sequence
	View      common.View
	BatchHash common.Hash
	Ops       []gamestate.Op
	Signer    common.ValidatorID
	Signature []byte
}

func (p *Propose) signingBytes() []byte {
	return seqViewPhaseBytes("bitcraps-propose-v1", p.Seq, p.View, 0, p.BatchHash)
}

// Sign fills Signer and Signature using sk.
func (p *Propose) Sign(id common.ValidatorID, sk bccrypto.PrivateKey) {
	p.Signer = id
	p.Signature = bccrypto.Sign(sk, p.signingBytes())
}

// Verify checks p's signature and that batch_hash matches ops, and that the
// expected leader signed it.
func (p *Propose) Verify(vs *ValidatorSet, expectedLeader common.ValidatorID) error {
	if p.Signer != expectedLeader {
		return ErrNotLeader
	}
	if BatchHash(p.Ops) != p.BatchHash {
		return ErrInvalidProposal
	}
	pk, ok := vs.PublicKey(p.Signer)
	if !ok || !bccrypto.Verify(pk, p.signingBytes(), p.Signature) {
		return ErrInvalidProposal
	}
	return nil
}

// Vote is a signed Prepare or Commit for (seq, view, batchHash).
type Vote struct {
	Seq       common.Sequence
	View      common.View
	Phase     common.Phase
	BatchHash common.Hash
	Signer    common.ValidatorID
	Signature []byte
}

func (v *Vote) signingBytes() []byte {
	return seqViewPhaseBytes("bitcraps-vote-v1", v.Seq, v.View, v.Phase, v.BatchHash)
}

// Sign fills Signer and Signature using sk.
func (v *Vote) Sign(id common.ValidatorID, sk bccrypto.PrivateKey) {
	v.Signer = id
	v.Signature = bccrypto.Sign(sk, v.signingBytes())
}

// Verify checks v's signature against the committee's recorded public key.
func (v *Vote) Verify(vs *ValidatorSet) error {
	pk, ok := vs.PublicKey(v.Signer)
	if !ok || !bccrypto.Verify(pk, v.signingBytes(), v.Signature) {
		return ErrInvalidVote
	}
	return nil
}

// QuorumCert aggregates >= q matching votes, proving a decision to third
// parties without requiring them to have observed the round live.
type QuorumCert struct {
	Seq        common.Sequence
	View       common.View
	Phase      common.Phase
	BatchHash  common.Hash
	Signers    []common.ValidatorID
	Signatures [][]byte
}

// Verify checks every signature in the QC and that it meets quorum.
func (qc *QuorumCert) Verify(vs *ValidatorSet) error {
	if len(qc.Signers) < vs.Quorum() || len(qc.Signers) != len(qc.Signatures) {
		return ErrQCInsufficient
	}
	seen := mapset.NewThreadUnsafeSet[common.ValidatorID]()
	msg := seqViewPhaseBytes("bitcraps-vote-v1", qc.Seq, qc.View, qc.Phase, qc.BatchHash)
	for i, signer := range qc.Signers {
		if !seen.Add(signer) {
			return ErrQCInsufficient
		}
		pk, ok := vs.PublicKey(signer)
		if !ok || !bccrypto.Verify(pk, msg, qc.Signatures[i]) {
			return ErrQCInsufficient
		}
	}
	return nil
}

// ViewChange is broadcast by any validator that times out waiting for
// Committed(seq) under the current view.
type ViewChange struct {
	Seq            common.Sequence
	NewView        common.View
	LastPreparedQC *QuorumCert
	Signer         common.ValidatorID
	Signature      []byte
}

func (vc *ViewChange) signingBytes() []byte {
	bh := common.Hash{}
	if vc.LastPreparedQC != nil {
		bh = vc.LastPreparedQC.BatchHash
	}
	return seqViewPhaseBytes("bitcraps-viewchange-v1", vc.Seq, vc.NewView, 0, bh)
}

// Sign fills Signer and Signature using sk.
func (vc *ViewChange) Sign(id common.ValidatorID, sk bccrypto.PrivateKey) {
	vc.Signer = id
	vc.Signature = bccrypto.Sign(sk, vc.signingBytes())
}

// Verify checks vc's signature and, if present, its embedded QC.
func (vc *ViewChange) Verify(vs *ValidatorSet) error {
	pk, ok := vs.PublicKey(vc.Signer)
	if !ok || !bccrypto.Verify(pk, vc.signingBytes(), vc.Signature) {
		return ErrInvalidVote
	}
	if vc.LastPreparedQC != nil {
		return vc.LastPreparedQC.Verify(vs)
	}
	return nil
}

// NewView is formed by the incoming leader once q ViewChanges arrive,
// carrying the highest-seen prepared QC (if any) that binds its re-proposal.
type NewView struct {
	Seq          common.Sequence
	View         common.View
	Proof        []ViewChange
	HighestQC    *QuorumCert
	Signer       common.ValidatorID
	Signature    []byte
}

func (nv *NewView) signingBytes() []byte {
	bh := common.Hash{}
	if nv.HighestQC != nil {
		bh = nv.HighestQC.BatchHash
	}
	return seqViewPhaseBytes("bitcraps-newview-v1", nv.Seq, nv.View, 0, bh)
}

// Sign fills Signer and Signature using sk.
func (nv *NewView) Sign(id common.ValidatorID, sk bccrypto.PrivateKey) {
	nv.Signer = id
	nv.Signature = bccrypto.Sign(sk, nv.signingBytes())
}

// Verify checks the NewView's own signature, quorum of embedded
// ViewChanges, and that HighestQC is indeed the highest among them.
func (nv *NewView) Verify(vs *ValidatorSet) error {
	pk, ok := vs.PublicKey(nv.Signer)
	if !ok || !bccrypto.Verify(pk, nv.signingBytes(), nv.Signature) {
		return ErrInvalidVote
	}
	if len(nv.Proof) < vs.Quorum() {
		return ErrQCInsufficient
	}
	var best *QuorumCert
	for i := range nv.Proof {
		vc := nv.Proof[i]
		if err := vc.Verify(vs); err != nil {
			return err
		}
		if vc.LastPreparedQC != nil && (best == nil || vc.LastPreparedQC.View > best.View) {
			best = vc.LastPreparedQC
		}
	}
	if (best == nil) != (nv.HighestQC == nil) {
		return ErrInvalidProposal
	}
	if best != nil && best.View != nv.HighestQC.View {
		return ErrInvalidProposal
	}
	return nil
}
