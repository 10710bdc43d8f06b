// Copyright 2024 The bitcraps Authors
// This file is part of the bitcraps library.

package gamestate

import (
	"github.com/bitcraps/bitcraps/ledger"
	"github.com/bitcraps/bitcraps/randomness"
)

// Apply is the deterministic craps state transition It is
// pure: given the same (state, batch, seed, treasuryBalance) it always
// returns the same (state', deltas). treasuryBalance is a snapshot the
// caller reads from the ledger before applying, used only for the
// solvency check on newly placed bets.
func Apply(state GameState, batch Batch, seed [32]byte, treasuryBalance uint64) (GameState, []ledger.Delta, error) {
	next := state.clone()
	var deltas []ledger.Delta

	for _, op := range batch.Ops {
		switch op.Kind {
		case OpJoin:
			next.Players[op.Player] = struct{}{}

		case OpLeave:
			if _, ok := next.Players[op.Player]; !ok {
				return state, nil, ErrUnknownPlayer
			}
			delete(next.Players, op.Player)

		case OpPlaceBetBatch:
			bets := append([]AggregatedBet{}, op.Bets...)
			SortAggregatedBets(bets)
			for _, bet := range bets {
				if bet.Total == 0 || len(bet.Contributors) == 0 {
					return state, nil, ErrInvalidBet
				}
				for _, c := range bet.Contributors {
					if _, ok := next.Players[c.Player]; !ok {
						return state, nil, ErrUnknownPlayer
					}
				}
				reserve := maxPayout(bet.Type).Profit(bet.Total)
				if treasuryBalance < next.OutstandingMaxPayout+reserve {
					deltas = append(deltas, refundDeltas(bet)...)
					continue
				}
				next.OutstandingMaxPayout += reserve
				switch bet.Type {
				case BetPassLine:
					next.PassBets = append(next.PassBets, bet)
				case BetDontPass:
					next.DontPassBets = append(next.DontPassBets, bet)
				case BetField, BetAnySeven, BetAnyCraps:
					next.PropBets = append(next.PropBets, bet)
				case BetFire:
					next.FireBets = append(next.FireBets, bet)
				default:
					return state, nil, ErrInvalidBet
				}
			}

		case OpAdvanceRound:
			d1, d2, ok := randomness.Roll(seed)
			if !ok {
				return state, nil, ErrMalformedBatch
			}
			total := d1 + d2

			propFreed, propDeltas := resolveProps(next.PropBets, total)
			next.PropBets = nil
			deltas = append(deltas, propDeltas...)
			next.OutstandingMaxPayout -= propFreed

			lineFreed, lineDeltas := resolveLine(&next, total)
			deltas = append(deltas, lineDeltas...)
			next.OutstandingMaxPayout -= lineFreed

		default:
			return state, nil, ErrMalformedBatch
		}
	}

	return next, deltas, nil
}
