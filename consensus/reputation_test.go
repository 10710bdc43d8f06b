// Copyright 2024 The bitcraps Authors
// This file is part of the bitcraps library.

package consensus

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bitcraps/bitcraps/common"
)

func TestReputationRewardsTimelyVotesAndReveals(t *testing.T) {
	rm := NewReputationManager()
	a := common.ValidatorID{1}
	b := common.ValidatorID{2}
	all := []common.ValidatorID{a, b}

	rm.RecordRound(all, []common.ValidatorID{a, b}, nil)
	rm.RecordRound(all, []common.ValidatorID{a, b}, nil)

	repA := rm.Get(a)
	require.Equal(t, 100.0, repA.VoteScore)
	require.Equal(t, 100.0, repA.RevealScore)
}

func TestReputationPenalizesMissedVotesAndReveals(t *testing.T) {
	rm := NewReputationManager()
	a := common.ValidatorID{1}
	b := common.ValidatorID{2}
	all := []common.ValidatorID{a, b}

	rm.RecordRound(all, []common.ValidatorID{a}, []common.ValidatorID{b})

	repB := rm.Get(b)
	require.Less(t, repB.VoteScore, 100.0)
	require.Less(t, repB.RevealScore, 100.0)
	require.Less(t, repB.Overall, rm.Get(a).Overall)
}

func TestReputationSnapshotTracksAllObservedValidators(t *testing.T) {
	rm := NewReputationManager()
	a := common.ValidatorID{9}
	rm.RecordRound([]common.ValidatorID{a}, []common.ValidatorID{a}, nil)

	snap := rm.Snapshot()
	require.Contains(t, snap, a)
	require.EqualValues(t, 1, snap[a].RoundsSeen)
}

func TestReputationSnapshotSortedOrdersByValidatorID(t *testing.T) {
	rm := NewReputationManager()
	a := common.ValidatorID{9}
	b := common.ValidatorID{1}
	rm.RecordRound([]common.ValidatorID{a, b}, []common.ValidatorID{a, b}, nil)

	sorted := rm.SnapshotSorted()
	require.Len(t, sorted, 2)
	require.True(t, sorted[0].ValidatorID.Hex() < sorted[1].ValidatorID.Hex())
}

func TestReputationGetDefaultsToPerfectScoreWhenUnobserved(t *testing.T) {
	rm := NewReputationManager()
	rep := rm.Get(common.ValidatorID{42})
	require.Equal(t, 100.0, rep.Overall)
}
