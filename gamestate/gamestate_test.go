// Copyright 2024 The bitcraps Authors
// This file is part of the bitcraps library.

package gamestate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bitcraps/bitcraps/common"
	"github.com/bitcraps/bitcraps/ledger"
)

// seedForFaces builds a seed whose first two accepted rejection-sampling
// bytes map to the requested dice faces (1-6).
func seedForFaces(f1, f2 int) [32]byte {
	var seed [32]byte
	seed[0] = byte(f1 - 1) // b % 6 == f1-1, b < 252
	seed[1] = byte(f2 - 1)
	return seed
}

var player1 = common.BytesToPlayerID([]byte("p1"))
var player2 = common.BytesToPlayerID([]byte("p2"))

func joinOp(p common.PlayerID) Op { return Op{Kind: OpJoin, Player: p} }

func passBet(amount uint64, p common.PlayerID) AggregatedBet {
	return AggregatedBet{
		Type:         BetPassLine,
		Total:        amount,
		Contributors: []Contributor{{Player: p, Amount: amount}},
		MerkleRoot:   common.BytesToHash([]byte("pass")),
	}
}

func TestComeOutNaturalPaysPassLine(t *testing.T) {
	state := New()
	batch := Batch{Ops: []Op{
		joinOp(player1),
		{Kind: OpPlaceBetBatch, Bets: []AggregatedBet{passBet(100, player1)}},
		{Kind: OpAdvanceRound},
	}}
	seed := seedForFaces(4, 3) // total 7
	next, deltas, err := Apply(state, batch, seed, 1_000_000)
	require.NoError(t, err)
	require.Equal(t, PhaseComeOut, next.Phase)
	require.Empty(t, next.PassBets)

	var playerDelta int64
	for _, d := range deltas {
		if d.Account == common.PlayerAccount(player1) {
			playerDelta += d.Amount
		}
	}
	require.Equal(t, int64(200), playerDelta) // stake + even-money profit
}

func TestPointEstablishedThenMade(t *testing.T) {
	state := New()
	batch1 := Batch{Ops: []Op{
		joinOp(player1),
		{Kind: OpPlaceBetBatch, Bets: []AggregatedBet{passBet(50, player1)}},
		{Kind: OpAdvanceRound},
	}}
	afterFirst, _, err := Apply(state, batch1, seedForFaces(3, 2), 1_000_000) // total 5
	require.NoError(t, err)
	require.Equal(t, PhasePoint, afterFirst.Phase)
	require.Equal(t, 5, afterFirst.Point)

	batch2 := Batch{Ops: []Op{{Kind: OpAdvanceRound}}}
	afterSecond, deltas, err := Apply(afterFirst, batch2, seedForFaces(1, 4), 1_000_000) // total 5 again
	require.NoError(t, err)
	require.Equal(t, PhaseComeOut, afterSecond.Phase)
	require.Equal(t, 0, afterSecond.Point)
	require.Contains(t, afterSecond.PointsMadeThisSeries, 5)
	require.NotEmpty(t, deltas)
}

func TestSevenOutResetsSeries(t *testing.T) {
	state := New()
	state.Phase = PhasePoint
	state.Point = 6
	state.PointsMadeThisSeries[4] = struct{}{}

	batch := Batch{Ops: []Op{{Kind: OpAdvanceRound}}}
	next, _, err := Apply(state, batch, seedForFaces(3, 4), 1_000_000) // total 7
	require.NoError(t, err)
	require.Equal(t, PhaseComeOut, next.Phase)
	require.Empty(t, next.PointsMadeThisSeries)
}

func TestInsufficientTreasuryRefundsBetAndLeavesStateUnchanged(t *testing.T) {
	// Mirrors scenario S5: treasury has 50, bet requires 100 reserve.
	state := New()
	state.Players[player1] = struct{}{}
	batch := Batch{Ops: []Op{
		{Kind: OpPlaceBetBatch, Bets: []AggregatedBet{passBet(100, player1)}},
	}}
	next, deltas, err := Apply(state, batch, [32]byte{}, 50)
	require.NoError(t, err)
	require.Empty(t, next.PassBets)
	require.Equal(t, uint64(0), next.OutstandingMaxPayout)

	require.Len(t, deltas, 2)
	want := []ledger.Delta{
		{Account: common.TreasuryAccount, Amount: -100},
		{Account: common.PlayerAccount(player1), Amount: 100},
	}
	require.ElementsMatch(t, want, deltas)
}

func TestPlaceBetForUnknownPlayerFails(t *testing.T) {
	state := New()
	batch := Batch{Ops: []Op{
		{Kind: OpPlaceBetBatch, Bets: []AggregatedBet{passBet(10, player2)}},
	}}
	_, _, err := Apply(state, batch, [32]byte{}, 1_000_000)
	require.ErrorIs(t, err, ErrUnknownPlayer)
}

func TestFieldBetResolvesEveryRoll(t *testing.T) {
	state := New()
	state.Players[player1] = struct{}{}
	fieldBet := AggregatedBet{
		Type:         BetField,
		Total:        10,
		Contributors: []Contributor{{Player: player1, Amount: 10}},
		MerkleRoot:   common.BytesToHash([]byte("field")),
	}
	batch := Batch{Ops: []Op{
		{Kind: OpPlaceBetBatch, Bets: []AggregatedBet{fieldBet}},
		{Kind: OpAdvanceRound},
	}}
	// total = 12 -> field pays 3:1
	next, deltas, err := Apply(state, batch, seedForFaces(6, 6), 1_000_000)
	require.NoError(t, err)
	require.Empty(t, next.PropBets)
	var playerDelta int64
	for _, d := range deltas {
		if d.Account == common.PlayerAccount(player1) {
			playerDelta += d.Amount
		}
	}
	require.Equal(t, int64(40), playerDelta) // stake 10 + profit 30
}
