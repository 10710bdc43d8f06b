// Copyright 2024 The bitcraps Authors
// This file is part of the bitcraps library.

package randomness

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bitcraps/bitcraps/common"
	bccrypto "github.com/bitcraps/bitcraps/crypto"
)

func validatorID(b byte) common.ValidatorID {
	return common.BytesToValidatorID([]byte{b})
}

func fixedEntropy(b byte) [32]byte {
	var e [32]byte
	for i := range e {
		e[i] = b
	}
	return e
}

func TestCommitRevealHappyPathMatchesSpecExample(t *testing.T) {
	// Mirrors scenario S1: four validators reveal e_0..e_3 of
	// 0x01..0x04 repeated; XOR folds to 0x04 repeated.
	round := NewRound(1, 4)
	validators := []common.ValidatorID{validatorID(0), validatorID(1), validatorID(2), validatorID(3)}
	entropies := []byte{0x01, 0x02, 0x03, 0x04}
	var nonce [32]byte

	for i, id := range validators {
		e := fixedEntropy(entropies[i])
		c := commitHash(e, nonce, round.seq, id)
		round.Commit(id, c)
	}
	for i, id := range validators {
		e := fixedEntropy(entropies[i])
		require.NoError(t, round.Reveal(id, e, nonce))
	}

	require.True(t, round.ReadyToFinalize())
	seed, proof, ok := round.Finalize()
	require.True(t, ok)

	wantXor := fixedEntropy(0x01 ^ 0x02 ^ 0x03 ^ 0x04)
	wantSeed := bccrypto.Hash([]byte(seedDomain), seqBytes(1), wantXor[:])
	require.Equal(t, wantSeed, seed)

	verifiedSeed, ok := Verify(proof, common.Hash{})
	require.True(t, ok)
	require.Equal(t, seed, verifiedSeed)
}

func TestRevealMismatchRecordsMisbehavior(t *testing.T) {
	round := NewRound(1, 4)
	id := validatorID(0)
	var nonce [32]byte
	round.Commit(id, commitHash(fixedEntropy(1), nonce, round.seq, id))

	err := round.Reveal(id, fixedEntropy(9), nonce) // wrong entropy
	require.ErrorIs(t, err, ErrCommitMismatch)
	require.Contains(t, round.Misbehaving, id)
}

func TestNotReadyBelowQuorumFallsBackToVRF(t *testing.T) {
	round := NewRound(1, 4) // quorum = 3
	var nonce [32]byte
	for _, id := range []common.ValidatorID{validatorID(0), validatorID(1)} {
		e := fixedEntropy(1)
		round.Commit(id, commitHash(e, nonce, round.seq, id))
		require.NoError(t, round.Reveal(id, e, nonce))
	}
	require.False(t, round.ReadyToFinalize())

	leaderPK, leaderSK, err := bccrypto.GenerateKey()
	require.NoError(t, err)

	seed, proof := FallbackVRF(round.seq, common.Hash{}, leaderSK, leaderPK, round.MissingReveals())
	require.Equal(t, ProofVRF, proof.Kind)

	verified, ok := Verify(proof, common.Hash{})
	require.True(t, ok)
	require.Equal(t, seed, verified)
}

func TestVerifyRejectsTamperedCommitRevealProof(t *testing.T) {
	round := NewRound(1, 3)
	var nonce [32]byte
	ids := []common.ValidatorID{validatorID(0), validatorID(1), validatorID(2)}
	for _, id := range ids {
		e := fixedEntropy(5)
		round.Commit(id, commitHash(e, nonce, round.seq, id))
		require.NoError(t, round.Reveal(id, e, nonce))
	}
	_, proof, ok := round.Finalize()
	require.True(t, ok)

	proof.CommitReveal.Contributions[0].Entropy[0] ^= 0xff
	_, ok = Verify(proof, common.Hash{})
	require.False(t, ok)
}

func TestDiceRollRejectionSampling(t *testing.T) {
	seed := [32]byte{0, 6, 252, 253, 10}
	d1, d2, ok := Roll(seed)
	require.True(t, ok)
	require.Equal(t, 1, d1) // byte 0 -> 0%6+1 = 1
	require.Equal(t, 1, d2) // byte 6 -> 6%6+1 = 1
}

func TestDiceRollExhaustsWithoutTwoFaces(t *testing.T) {
	var seed [32]byte
	for i := range seed {
		seed[i] = 255 // always rejected
	}
	_, _, ok := Roll(seed)
	require.False(t, ok)
}
