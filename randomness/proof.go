// Copyright 2024 The bitcraps Authors
// This file is part of the bitcraps library.

package randomness

import (
	"github.com/bitcraps/bitcraps/common"
	bccrypto "github.com/bitcraps/bitcraps/crypto"
)

// ProofKind distinguishes the two ways a seed for a sequence can be
// justified to a client.
type ProofKind uint8

const (
	ProofCommitReveal ProofKind = iota + 1
	ProofVRF
)

// CommitRevealProof carries every contribution a client needs to re-derive
// and check the seed without trusting the proposer.
type CommitRevealProof struct {
	Contributions []Contribution
}

// VRFProof carries the leader's verifiable-random-function output for the
// fallback path, plus the validators whose missing reveal triggered it.
type VRFProof struct {
	Alpha          []byte
	Pi             []byte
	LeaderPK       bccrypto.PublicKey
	MissingReveals []common.ValidatorID
}

// Proof is the randomness evidence attached to a committed sequence.
type Proof struct {
	Kind         ProofKind
	Seq          common.Sequence
	CommitReveal *CommitRevealProof
	VRF          *VRFProof
}

// FallbackVRF implements step 4: the current view's leader
// proves alpha = seq ‖ prevSeed under its long-term key when too few
// validators revealed in time.
func FallbackVRF(seq common.Sequence, prevSeed common.Hash, leaderSK bccrypto.PrivateKey, leaderPK bccrypto.PublicKey, missing []common.ValidatorID) ([32]byte, Proof) {
	alpha := append(seqBytes(seq), prevSeed.Bytes()...)
	beta, pi := bccrypto.VRFProve(leaderSK, alpha)
	proof := Proof{
		Kind: ProofVRF,
		Seq:  seq,
		VRF: &VRFProof{
			Alpha:          alpha,
			Pi:             pi,
			LeaderPK:       leaderPK,
			MissingReveals: missing,
		},
	}
	return beta, proof
}

// Verify re-derives the seed from proof and checks it is internally
// consistent, the client-side check (iii).
func Verify(proof Proof, prevSeed common.Hash) ([32]byte, bool) {
	switch proof.Kind {
	case ProofCommitReveal:
		return verifyCommitReveal(proof)
	case ProofVRF:
		return verifyVRF(proof, prevSeed)
	default:
		return [32]byte{}, false
	}
}

func verifyCommitReveal(proof Proof) ([32]byte, bool) {
	if proof.CommitReveal == nil || len(proof.CommitReveal.Contributions) == 0 {
		return [32]byte{}, false
	}
	var xor [32]byte
	for _, c := range proof.CommitReveal.Contributions {
		if commitHash(c.Entropy, c.Nonce, proof.Seq, c.Validator) != c.Commit {
			return [32]byte{}, false
		}
		for i := range xor {
			xor[i] ^= c.Entropy[i]
		}
	}
	seed := bccrypto.Hash([]byte(seedDomain), seqBytes(proof.Seq), xor[:])
	return seed, true
}

func verifyVRF(proof Proof, prevSeed common.Hash) ([32]byte, bool) {
	if proof.VRF == nil {
		return [32]byte{}, false
	}
	wantAlpha := append(seqBytes(proof.Seq), prevSeed.Bytes()...)
	if len(wantAlpha) != len(proof.VRF.Alpha) || string(wantAlpha) != string(proof.VRF.Alpha) {
		return [32]byte{}, false
	}
	beta, ok := bccrypto.VRFVerify(proof.VRF.LeaderPK, proof.VRF.Alpha, proof.VRF.Pi)
	if !ok {
		return [32]byte{}, false
	}
	return beta, true
}
