// Copyright 2024 The bitcraps Authors
// This file is part of the bitcraps library.

package merkle

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bitcraps/bitcraps/common"
)

func leaves(n int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = []byte{byte(i)}
	}
	return out
}

func TestRootProofVerifyEvenOdd(t *testing.T) {
	for _, n := range []int{1, 2, 3, 4, 5, 7, 8} {
		ls := leaves(n)
		root := Root(ls)
		for i := 0; i < n; i++ {
			proof, err := Proof(ls, i)
			require.NoError(t, err)
			require.True(t, Verify(root, ls[i], i, proof), "n=%d i=%d", n, i)
		}
	}
}

func TestVerifyRejectsTamperedLeaf(t *testing.T) {
	ls := leaves(4)
	root := Root(ls)
	proof, err := Proof(ls, 2)
	require.NoError(t, err)
	require.False(t, Verify(root, []byte{0x99}, 2, proof))
}

func TestProofOutOfRange(t *testing.T) {
	ls := leaves(3)
	_, err := Proof(ls, 3)
	require.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestStoreIncrementalMatchesOneShot(t *testing.T) {
	store := NewStore(1 << 20)
	var all [][]byte
	for i := 0; i < 10; i++ {
		leaf := []byte{byte(i), byte(i * 2)}
		all = append(all, leaf)
		idx, root := store.Append(leaf)
		require.Equal(t, i, idx)
		require.Equal(t, Root(all), root)
	}
	for i := range all {
		proof, err := store.Proof(i)
		require.NoError(t, err)
		require.True(t, Verify(store.Root(), all[i], i, proof))
	}
}

func TestSparsePresenceProofs(t *testing.T) {
	ids := []common.ValidatorID{
		common.BytesToValidatorID([]byte("v0")),
		common.BytesToValidatorID([]byte("v1")),
		common.BytesToValidatorID([]byte("v2")),
		common.BytesToValidatorID([]byte("v3")),
	}
	s := NewSparse(ids)
	require.True(t, s.SetPresent(ids[1]))
	require.True(t, s.SetPresent(ids[3]))

	root := s.Root()
	for i, id := range ids {
		proof, idx, ok := s.ProofFor(id)
		require.True(t, ok)
		require.Equal(t, i, idx)
		if s.IsPresent(id) {
			require.True(t, VerifyPresence(root, idx, proof))
			require.False(t, VerifyAbsence(root, idx, proof))
		} else {
			require.True(t, VerifyAbsence(root, idx, proof))
		}
	}
}
