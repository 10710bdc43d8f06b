// Copyright 2024 The bitcraps Authors
// This file is part of the bitcraps library.

// Package randomness implements the commit-reveal dice randomness engine,
// with a deterministic VRF fallback when too few validators reveal within
// the window.
package randomness

import (
	"encoding/binary"
	"sort"

	"github.com/bitcraps/bitcraps/common"
	bccrypto "github.com/bitcraps/bitcraps/crypto"
)

const seedDomain = "bitcraps-dice-v1"

// Contribution is one validator's revealed entropy, carried in the finalized
// proof so any client can re-check commit == H(entropy, nonce, seq, id).
type Contribution struct {
	Validator common.ValidatorID
	Entropy   [32]byte
	Nonce     [32]byte
	Commit    common.Hash
}

// Round tracks the commit and reveal phases for a single sequence.
type Round struct {
	seq     common.Sequence
	quorum  int
	commits map[common.ValidatorID]common.Hash
	reveals map[common.ValidatorID]Contribution
	// Misbehaving holds validators whose revealed (entropy, nonce) did not
	// hash to their earlier commit — evidence for slashing.
	Misbehaving []common.ValidatorID
}

// NewRound starts tracking commits/reveals for seq among n validators.
func NewRound(seq common.Sequence, n int) *Round {
	return &Round{
		seq:     seq,
		quorum:  common.Quorum(n),
		commits: make(map[common.ValidatorID]common.Hash),
		reveals: make(map[common.ValidatorID]Contribution),
	}
}

func seqBytes(seq common.Sequence) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(seq))
	return b
}

func commitHash(entropy, nonce [32]byte, seq common.Sequence, id common.ValidatorID) common.Hash {
	return common.Hash(bccrypto.Hash(entropy[:], nonce[:], seqBytes(seq), id.Bytes()))
}

// Commit records validator id's published commit c_i. The first commit from
// a given validator in a round is the one that counts.
func (r *Round) Commit(id common.ValidatorID, commit common.Hash) {
	if _, ok := r.commits[id]; ok {
		return
	}
	r.commits[id] = commit
}

// Reveal records (entropy, nonce) for id. If id never committed, or the
// reveal doesn't hash to the prior commit, the reveal is rejected and id is
// recorded as misbehaving.
func (r *Round) Reveal(id common.ValidatorID, entropy, nonce [32]byte) error {
	commit, ok := r.commits[id]
	if !ok {
		r.Misbehaving = append(r.Misbehaving, id)
		return ErrCommitMismatch
	}
	if commitHash(entropy, nonce, r.seq, id) != commit {
		r.Misbehaving = append(r.Misbehaving, id)
		return ErrCommitMismatch
	}
	r.reveals[id] = Contribution{Validator: id, Entropy: entropy, Nonce: nonce, Commit: commit}
	return nil
}

// ReadyToFinalize reports whether enough reveals have arrived to finalize
// via commit-reveal rather than falling back to VRF.
func (r *Round) ReadyToFinalize() bool {
	return len(r.reveals) >= r.quorum
}

// MissingReveals returns the validators who committed but never revealed a
// matching contribution, for attaching to fallback evidence.
func (r *Round) MissingReveals() []common.ValidatorID {
	var missing []common.ValidatorID
	for id := range r.commits {
		if _, ok := r.reveals[id]; !ok {
			missing = append(missing, id)
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i].Hex() < missing[j].Hex() })
	return missing
}

// Finalize computes the commit-reveal seed once ReadyToFinalize is true.
func (r *Round) Finalize() (seed [32]byte, proof Proof, ok bool) {
	if !r.ReadyToFinalize() {
		return [32]byte{}, Proof{}, false
	}
	contributions := make([]Contribution, 0, len(r.reveals))
	for _, c := range r.reveals {
		contributions = append(contributions, c)
	}
	sort.Slice(contributions, func(i, j int) bool {
		return contributions[i].Validator.Hex() < contributions[j].Validator.Hex()
	})

	var xor [32]byte
	for _, c := range contributions {
		for i := range xor {
			xor[i] ^= c.Entropy[i]
		}
	}
	seed = bccrypto.Hash([]byte(seedDomain), seqBytes(r.seq), xor[:])
	proof = Proof{
		Kind: ProofCommitReveal,
		Seq:  r.seq,
		CommitReveal: &CommitRevealProof{
			Contributions: contributions,
		},
	}
	return seed, proof, true
}
