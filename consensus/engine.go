// Copyright 2024 The bitcraps Authors
// This file is part of the bitcraps library.

package consensus

import (
	"bytes"
	"encoding/gob"
	"sync"

	"github.com/bitcraps/bitcraps/common"
	bccrypto "github.com/bitcraps/bitcraps/crypto"
	"github.com/bitcraps/bitcraps/gamestate"
	"github.com/bitcraps/bitcraps/ledger"
	"github.com/bitcraps/bitcraps/log"
	"github.com/bitcraps/bitcraps/params"
	"github.com/bitcraps/bitcraps/randomness"
	"github.com/bitcraps/bitcraps/storage"
)

const checkpointStateKey = "consensus/checkpoint"

// gameCheckpoint is the engine's own durable snapshot, separate from the
// ledger's.
type gameCheckpoint struct {
	Seq      common.Sequence
	State    gamestate.GameState
	PrevSeed common.Hash
}

func init() {
	gob.Register(gameCheckpoint{})
}

// Engine is the pipelined PBFT-family replicator.
type Engine struct {
	mu sync.Mutex

	cfg *params.Config
	vs  *ValidatorSet

	self   common.ValidatorID
	selfSK bccrypto.PrivateKey

	rounds map[common.Sequence]*RoundState

	lastCommittedSeq common.Sequence
	prevSeed         common.Hash

	wal    *storage.WAL
	walDir string
	db     storage.Database

	led   *ledger.Ledger
	state gamestate.GameState

	randRounds map[common.Sequence]*randomness.Round

	// vrfProofs holds, per sequence, the single VRF fallback proof every
	// validator must agree on: the current view's leader mints it and every
	// other validator adopts it verbatim rather than minting its own. A
	// sequence stays parked in readyQCs until its proof (if one turns out
	// to be needed) is present here.
	vrfProofs map[common.Sequence]*randomness.Proof

	// readyQCs holds CommitQCs that have formed but whose seq is ahead of
	// lastCommittedSeq+1; they wait here until every earlier seq has
	// applied, preserving strict sequential apply under pipelining.
	readyQCs map[common.Sequence]*QuorumCert

	// opsCache remembers ops this validator has seen, keyed by batch hash,
	// so a new leader re-proposing from a NewView's highest prepared QC
	// can recover the exact ops that hash commits to.
	opsCache map[common.Hash][]gamestate.Op

	sincePrevCheckpoint uint64

	reputation *ReputationManager
}

// New constructs an Engine and recovers it from durable state.
func New(cfg *params.Config, vs *ValidatorSet, self common.ValidatorID, selfSK bccrypto.PrivateKey, wal *storage.WAL, walDir string, db storage.Database, led *ledger.Ledger) (*Engine, error) {
	e := &Engine{
		cfg:        cfg,
		vs:         vs,
		self:       self,
		selfSK:     selfSK,
		rounds:     make(map[common.Sequence]*RoundState),
		wal:        wal,
		walDir:     walDir,
		db:         db,
		led:        led,
		state:      gamestate.New(),
		randRounds: make(map[common.Sequence]*randomness.Round),
		vrfProofs:  make(map[common.Sequence]*randomness.Proof),
		readyQCs:   make(map[common.Sequence]*QuorumCert),
		opsCache:   make(map[common.Hash][]gamestate.Op),
		reputation: NewReputationManager(),
	}
	if err := e.recover(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) recover() error {
	raw, err := e.db.Get([]byte(checkpointStateKey))
	if err == nil {
		var cp gameCheckpoint
		if derr := gob.NewDecoder(bytes.NewReader(raw)).Decode(&cp); derr != nil {
			return derr
		}
		e.lastCommittedSeq = cp.Seq
		e.state = cp.State
		e.prevSeed = cp.PrevSeed
	} else if err != storage.ErrNotFound {
		return err
	}

	return storage.Replay(e.walDir, func(payload []byte) error {
		kind, r := decodeWALRecord(payload)
		if kind != recordCommitted {
			return nil
		}
		var rec CommittedRecord
		if derr := gob.NewDecoder(r).Decode(&rec); derr != nil {
			return derr
		}
		if rec.Seq <= e.lastCommittedSeq {
			return nil
		}
		newState, _, err := gamestate.Apply(e.state, gamestate.Batch{Ops: rec.Ops}, rec.Seed, rec.TreasuryBalance)
		if err != nil {
			return err
		}
		e.state = newState
		e.lastCommittedSeq = rec.Seq
		e.prevSeed = rec.Seed
		return nil
	})
}

func (e *Engine) round(seq common.Sequence) *RoundState {
	r, ok := e.rounds[seq]
	if !ok {
		r = NewRoundState(seq)
		e.rounds[seq] = r
	}
	return r
}

func (e *Engine) appendWAL(kind recordKind, v any) error {
	payload, err := encodeWALRecord(kind, v)
	if err != nil {
		return err
	}
	_, _, err = e.wal.Append(payload)
	return err
}

// LastCommittedSequence returns the highest finalized sequence.
func (e *Engine) LastCommittedSequence() common.Sequence {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastCommittedSeq
}

// IsLeader reports whether self is the leader for (seq's round's) view.
func (e *Engine) IsLeader(seq common.Sequence, view common.View) bool {
	return e.vs.Leader(view).ID == e.self
}

// Propose builds, signs, persists and returns a Propose for seq at the
// round's current view, provided self is leader and seq is within the
// pipeline depth of the last committed sequence.
func (e *Engine) Propose(seq common.Sequence, ops []gamestate.Op) (*Propose, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if uint64(seq)-uint64(e.lastCommittedSeq) > uint64(e.cfg.PipelineDepth) {
		return nil, ErrInvalidProposal
	}
	r := e.round(seq)
	if !e.IsLeader(seq, r.View) {
		return nil, ErrNotLeader
	}
	p := &Propose{Seq: seq, View: r.View, BatchHash: BatchHash(ops), Ops: ops}
	p.Sign(e.self, e.selfSK)
	if err := e.appendWAL(recordPropose, p); err != nil {
		return nil, err
	}
	r.Proposal = p
	r.Stage = StageProposed
	e.opsCache[p.BatchHash] = ops
	return p, nil
}

// HandlePropose validates an incoming proposal and, if valid, signs and
// returns this validator's Prepare vote.
func (e *Engine) HandlePropose(p *Propose) (*Vote, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r := e.round(p.Seq)
	expected := e.vs.Leader(p.View)
	if err := p.Verify(e.vs, expected.ID); err != nil {
		return nil, err
	}
	k := uint64(p.Seq) - uint64(e.lastCommittedSeq)
	if k == 0 || k > uint64(e.cfg.PipelineDepth) {
		return nil, ErrInvalidProposal
	}
	if p.View < r.View {
		return nil, ErrViewMismatch
	}
	if p.View > 0 {
		nv, ok := r.newViews[p.View]
		if !ok {
			return nil, ErrInvalidProposal
		}
		if nv.HighestQC != nil && nv.HighestQC.BatchHash != p.BatchHash {
			return nil, ErrInvalidProposal
		}
	}
	if p.View > r.View {
		r.enterView(p.View)
	}
	r.Proposal = p
	r.Stage = StageProposed
	e.opsCache[p.BatchHash] = p.Ops

	if err := e.appendWAL(recordPropose, p); err != nil {
		return nil, err
	}
	if !r.MarkSignedPrepare(p.View) {
		return nil, nil
	}
	vote := &Vote{Seq: p.Seq, View: p.View, Phase: common.PhasePrepare, BatchHash: p.BatchHash}
	vote.Sign(e.self, e.selfSK)
	if err := e.appendWAL(recordPrepareVote, vote); err != nil {
		return nil, err
	}
	return vote, nil
}

// HandlePrepareVote folds in a Prepare vote, returning this validator's
// Commit vote once a PrepareQC forms.
func (e *Engine) HandlePrepareVote(v *Vote) (*Vote, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.vs.Contains(v.Signer) {
		return nil, ErrInvalidVote
	}
	if err := v.Verify(e.vs); err != nil {
		return nil, err
	}
	r := e.round(v.Seq)
	if err := e.appendWAL(recordPrepareVote, v); err != nil {
		return nil, err
	}
	qc, err := r.RecordPrepare(v, e.vs.Quorum())
	if err != nil || qc == nil {
		return nil, err
	}
	if !r.MarkSignedCommit(v.View) {
		return nil, nil
	}
	commitVote := &Vote{Seq: v.Seq, View: v.View, Phase: common.PhaseCommit, BatchHash: v.BatchHash}
	commitVote.Sign(e.self, e.selfSK)
	if err := e.appendWAL(recordCommitVote, commitVote); err != nil {
		return nil, err
	}
	return commitVote, nil
}

// HandleCommitVote folds in a Commit vote; once a CommitQC forms it
// triggers the applier and returns the finalized CommittedRecord, plus any
// VRF fallback proof this validator just minted as leader and must
// broadcast.
func (e *Engine) HandleCommitVote(v *Vote) (*CommittedRecord, []randomness.Proof, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.vs.Contains(v.Signer) {
		return nil, nil, ErrInvalidVote
	}
	if err := v.Verify(e.vs); err != nil {
		return nil, nil, err
	}
	r := e.round(v.Seq)
	if err := e.appendWAL(recordCommitVote, v); err != nil {
		return nil, nil, err
	}
	qc, err := r.RecordCommit(v, e.vs.Quorum())
	if err != nil || qc == nil {
		return nil, nil, err
	}
	e.readyQCs[v.Seq] = qc
	return e.drainReadyLocked(v.Seq)
}

// drainReadyLocked applies every sequence whose CommitQC is ready, in
// order, stopping at the first gap or the first sequence still waiting on
// its VRF fallback proof. It returns the record produced for triggerSeq
// specifically (nil if triggerSeq itself could not yet apply), plus any
// freshly minted VRF proofs the caller must broadcast so other validators
// can adopt them instead of minting their own.
func (e *Engine) drainReadyLocked(triggerSeq common.Sequence) (*CommittedRecord, []randomness.Proof, error) {
	var triggered *CommittedRecord
	var minted []randomness.Proof
	for {
		next := e.lastCommittedSeq + 1
		qc, ok := e.readyQCs[next]
		if !ok {
			break
		}
		r, ok := e.rounds[next]
		if !ok || r.Proposal == nil {
			break
		}
		rec, mintedProof, ready, err := e.finalizeLocked(r, qc)
		if err != nil {
			return nil, minted, err
		}
		if !ready {
			break
		}
		if mintedProof != nil {
			minted = append(minted, *mintedProof)
		}
		delete(e.readyQCs, next)
		if next == triggerSeq {
			triggered = rec
		}
	}
	return triggered, minted, nil
}

// ObserveCommit folds a commit-reveal commitment into seq's randomness
// round, creating the round on first observation.
func (e *Engine) ObserveCommit(seq common.Sequence, id common.ValidatorID, commit common.Hash) {
	e.mu.Lock()
	defer e.mu.Unlock()
	round, ok := e.randRounds[seq]
	if !ok {
		round = randomness.NewRound(seq, e.vs.N())
		e.randRounds[seq] = round
	}
	round.Commit(id, commit)
}

// ObserveReveal folds a commit-reveal reveal into seq's randomness round.
func (e *Engine) ObserveReveal(seq common.Sequence, id common.ValidatorID, entropy, nonce [32]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	round, ok := e.randRounds[seq]
	if !ok {
		return ErrInvalidVote
	}
	return round.Reveal(id, entropy, nonce)
}

// ObserveVRFProof folds in the VRF fallback proof broadcast by seq's
// round's leader. It is the only way a non-leader validator ever obtains a
// seed for the fallback path: it never mints its own, since signing alpha
// with a different Ed25519 key would diverge from every other validator's
// seed. Returns the CommittedRecord for seq (and any sequence pipelined
// behind it) once the proof unblocks a drain; a nil record with a nil
// error means the proof was accepted but nothing downstream was ready to
// finalize yet.
func (e *Engine) ObserveVRFProof(seq common.Sequence, sender common.ValidatorID, proof randomness.Proof) (*CommittedRecord, []randomness.Proof, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.vrfProofs[seq]; ok {
		return nil, nil, nil
	}
	r := e.round(seq)
	if sender != e.vs.Leader(r.View).ID {
		return nil, nil, ErrNotLeader
	}
	if proof.VRF == nil {
		return nil, nil, ErrInvalidVote
	}
	leaderPK, ok := e.vs.PublicKey(sender)
	if !ok || !bytes.Equal(proof.VRF.LeaderPK, leaderPK) {
		return nil, nil, ErrInvalidVote
	}
	if _, ok := randomness.Verify(proof, e.prevSeed); !ok {
		return nil, nil, ErrInvalidVote
	}
	if err := e.appendWAL(recordVRFProof, vrfProofRecord{Seq: seq, Proof: proof}); err != nil {
		return nil, nil, err
	}
	e.vrfProofs[seq] = &proof
	return e.drainReadyLocked(seq)
}

// finalizeLocked runs the randomness finalize -> state_machine.apply ->
// ledger.apply pipeline once a CommitQC has formed. Caller holds e.mu. A
// false ready return means this validator is not the round's leader and is
// still waiting on the leader's VRF fallback proof to arrive over the
// mesh; the round stays parked and drainReadyLocked stops here.
func (e *Engine) finalizeLocked(r *RoundState, qc *QuorumCert) (rec *CommittedRecord, minted *randomness.Proof, ready bool, err error) {
	seed, proof, ready, justMinted := e.finalizeSeedLocked(r)
	if !ready {
		return nil, nil, false, nil
	}
	if justMinted {
		minted = &proof
	}

	var missingReveals []common.ValidatorID
	if round, ok := e.randRounds[r.Seq]; ok {
		missingReveals = round.MissingReveals()
	}
	e.reputation.RecordRound(e.vs.IDs(), qc.Signers, missingReveals)

	treasuryBalance := e.led.Balance(common.TreasuryAccount)
	newState, deltas, err := gamestate.Apply(e.state, gamestate.Batch{Ops: r.Proposal.Ops}, seed, treasuryBalance)
	if err != nil {
		return nil, minted, true, err
	}
	if err := e.led.Apply(r.Seq, deltas); err != nil {
		return nil, minted, true, err
	}

	rec = &CommittedRecord{
		Seq:             r.Seq,
		Ops:             r.Proposal.Ops,
		QC:              *qc,
		Seed:            seed,
		Proof:           proof,
		TreasuryBalance: treasuryBalance,
		StateRoot:       newState.Root(),
		LedgerRoot:      e.led.Root(),
	}
	if justMinted {
		if err := e.appendWAL(recordVRFProof, vrfProofRecord{Seq: r.Seq, Proof: proof}); err != nil {
			return rec, minted, true, err
		}
	}
	if err := e.appendWAL(recordCommitted, rec); err != nil {
		return rec, minted, true, err
	}

	e.state = newState
	e.lastCommittedSeq = r.Seq
	e.prevSeed = seed
	delete(e.rounds, r.Seq)
	delete(e.randRounds, r.Seq)
	delete(e.vrfProofs, r.Seq)

	e.sincePrevCheckpoint++
	if e.sincePrevCheckpoint >= e.cfg.CheckpointInterval {
		if err := e.checkpointLocked(); err != nil {
			return rec, minted, true, err
		}
	}
	log.Info("consensus committed sequence", "seq", uint64(rec.Seq), "signers", len(qc.Signers))
	return rec, minted, true, nil
}

// finalizeSeedLocked implements the commit-reveal-or-VRF seed derivation.
// Only the round's current-view leader is allowed to mint a VRF fallback
// proof; every other validator must wait for that proof to arrive via
// ObserveVRFProof. Minting locally here and having every validator sign
// its own alpha would diverge, since Ed25519 signing is deterministic per
// key: validator i's signature (and hence its derived seed) differs from
// validator j's even over the same message.
func (e *Engine) finalizeSeedLocked(r *RoundState) (seed [32]byte, proof randomness.Proof, ready bool, minted bool) {
	seq := r.Seq
	if round, ok := e.randRounds[seq]; ok && round.ReadyToFinalize() {
		if s, p, ok := round.Finalize(); ok {
			return s, p, true, false
		}
	}
	if p, ok := e.vrfProofs[seq]; ok {
		if s, ok := randomness.Verify(*p, e.prevSeed); ok {
			return s, *p, true, false
		}
	}
	if e.vs.Leader(r.View).ID != e.self {
		return [32]byte{}, randomness.Proof{}, false, false
	}
	var missing []common.ValidatorID
	if round, ok := e.randRounds[seq]; ok {
		missing = round.MissingReveals()
	}
	leaderPK, _ := e.vs.PublicKey(e.self)
	seed, proof = randomness.FallbackVRF(seq, e.prevSeed, e.selfSK, leaderPK, missing)
	e.vrfProofs[seq] = &proof
	return seed, proof, true, true
}

// Reputation returns the engine's validator reputation tracker, for the
// operator console's read-only status surface.
func (e *Engine) Reputation() *ReputationManager { return e.reputation }

// Checkpoint forces an immediate checkpoint (exposed for operator tooling
// and tests; normally driven automatically every CheckpointInterval seqs).
func (e *Engine) Checkpoint() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.checkpointLocked()
}

func (e *Engine) checkpointLocked() error {
	cp := gameCheckpoint{Seq: e.lastCommittedSeq, State: e.state, PrevSeed: e.prevSeed}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(cp); err != nil {
		return err
	}
	if err := e.db.Put([]byte(checkpointStateKey), buf.Bytes()); err != nil {
		return err
	}
	if err := e.led.Checkpoint(); err != nil {
		return err
	}
	if err := storage.Truncate(e.walDir, e.wal.CurrentIndex()); err != nil {
		return err
	}
	e.sincePrevCheckpoint = 0
	log.Info("consensus checkpoint written", "seq", uint64(e.lastCommittedSeq))
	return nil
}
