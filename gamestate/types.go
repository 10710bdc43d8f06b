// Copyright 2024 The bitcraps Authors
// This file is part of the bitcraps library.

// Package gamestate implements the craps state machine: a pure
// apply(state, batch, seed) -> (state', ledger_deltas) function with no
// I/O, clocks or PRNGs beyond the supplied seed.
package gamestate

import (
	"sort"

	"github.com/bitcraps/bitcraps/common"
)

// RoundPhase is the shooter's current phase.
type RoundPhase uint8

const (
	PhaseComeOut RoundPhase = iota + 1
	PhasePoint
	PhaseEnded
)

func (p RoundPhase) String() string {
	switch p {
	case PhaseComeOut:
		return "come-out"
	case PhasePoint:
		return "point"
	case PhaseEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// BetType enumerates the supported wagers: the two line bets plus a small
// set of one-roll proposition bets and the multi-roll Fire bet bonus.
type BetType uint8

const (
	BetPassLine BetType = iota + 1
	BetDontPass
	BetField
	BetAnySeven
	BetAnyCraps
	BetFire
)

// Contributor is one player's share of an aggregated bet.
type Contributor struct {
	Player common.PlayerID
	Amount uint64
}

// AggregatedBet collapses same-type bets placed in one batch, sharing odds.
type AggregatedBet struct {
	Type         BetType
	Total        uint64
	Contributors []Contributor
	MerkleRoot   common.Hash
}

// SortAggregatedBets applies the deterministic tiebreak: sorted by
// (bet_type, merkle_root) lexicographically before resolution.
func SortAggregatedBets(bets []AggregatedBet) {
	sort.Slice(bets, func(i, j int) bool {
		if bets[i].Type != bets[j].Type {
			return bets[i].Type < bets[j].Type
		}
		return string(bets[i].MerkleRoot.Bytes()) < string(bets[j].MerkleRoot.Bytes())
	})
}

// OpKind distinguishes the four batch operation kinds.
type OpKind uint8

const (
	OpPlaceBetBatch OpKind = iota + 1
	OpJoin
	OpLeave
	OpAdvanceRound
)

// Op is one operation within a batch. Only the fields relevant to Kind are
// populated.
type Op struct {
	Kind   OpKind
	Bets   []AggregatedBet
	Player common.PlayerID
}

// Batch is the ordered list of operations proposed together.
type Batch struct {
	Ops []Op
}

// GameState is the full state carried between sequences.
type GameState struct {
	Phase  RoundPhase
	Point  int
	Players map[common.PlayerID]struct{}

	PassBets     []AggregatedBet
	DontPassBets []AggregatedBet
	PropBets     []AggregatedBet
	FireBets     []AggregatedBet

	// OutstandingMaxPayout is the sum of worst-case payouts reserved
	// against the treasury for every currently active bet.
	OutstandingMaxPayout uint64

	// PointsMadeThisSeries tracks distinct points made by the current
	// shooter for Fire-bet resolution; reset on seven-out.
	PointsMadeThisSeries map[int]struct{}
}

// New returns the initial state: ComeOut phase, no players, no bets.
func New() GameState {
	return GameState{
		Phase:                PhaseComeOut,
		Players:              make(map[common.PlayerID]struct{}),
		PointsMadeThisSeries: make(map[int]struct{}),
	}
}

// clone deep-copies state so Apply never mutates its input (purity
// requirement ).
func (s GameState) clone() GameState {
	out := GameState{
		Phase:                s.Phase,
		Point:                s.Point,
		Players:              make(map[common.PlayerID]struct{}, len(s.Players)),
		PassBets:             append([]AggregatedBet{}, s.PassBets...),
		DontPassBets:         append([]AggregatedBet{}, s.DontPassBets...),
		PropBets:             append([]AggregatedBet{}, s.PropBets...),
		FireBets:             append([]AggregatedBet{}, s.FireBets...),
		OutstandingMaxPayout: s.OutstandingMaxPayout,
		PointsMadeThisSeries: make(map[int]struct{}, len(s.PointsMadeThisSeries)),
	}
	for p := range s.Players {
		out.Players[p] = struct{}{}
	}
	for pt := range s.PointsMadeThisSeries {
		out.PointsMadeThisSeries[pt] = struct{}{}
	}
	return out
}
