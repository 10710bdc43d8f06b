// Copyright 2024 The bitcraps Authors
// This file is part of the bitcraps library.

package gamestate

import (
	"github.com/bitcraps/bitcraps/common"
	"github.com/bitcraps/bitcraps/ledger"
)

var pushPayout = Payout{Num: 0, Den: 1}

func sumReserve(bets []AggregatedBet) uint64 {
	var sum uint64
	for _, b := range bets {
		sum += maxPayout(b.Type).Profit(b.Total)
	}
	return sum
}

// winAllDeltas pays stake-plus-profit to every contributor of every bet.
func winAllDeltas(bets []AggregatedBet, payout Payout) []ledger.Delta {
	var out []ledger.Delta
	for _, bet := range bets {
		for _, c := range bet.Contributors {
			total := c.Amount + payout.Profit(c.Amount)
			if total == 0 {
				continue
			}
			out = append(out, ledger.Delta{Account: common.TreasuryAccount, Amount: -int64(total)})
			out = append(out, ledger.Delta{Account: common.PlayerAccount(c.Player), Amount: int64(total)})
		}
	}
	return out
}

// refundDeltas reverses an already-escrowed stake back to its contributors,
// the "emitted as a refund, not a payout" path for bets
// rejected by the treasury solvency check.
func refundDeltas(bet AggregatedBet) []ledger.Delta {
	var out []ledger.Delta
	for _, c := range bet.Contributors {
		out = append(out, ledger.Delta{Account: common.TreasuryAccount, Amount: -int64(c.Amount)})
		out = append(out, ledger.Delta{Account: common.PlayerAccount(c.Player), Amount: int64(c.Amount)})
	}
	return out
}

// resolveProps settles every one-roll proposition bet against total and
// clears them regardless of outcome.
func resolveProps(bets []AggregatedBet, total int) (freed uint64, deltas []ledger.Delta) {
	for _, bet := range bets {
		freed += maxPayout(bet.Type).Profit(bet.Total)
		var payout Payout
		var win bool
		switch bet.Type {
		case BetField:
			payout, win = fieldOutcome(total)
		case BetAnySeven:
			payout, win = anySevenOutcome(total)
		case BetAnyCraps:
			payout, win = anyCrapsOutcome(total)
		}
		if win {
			deltas = append(deltas, winAllDeltas([]AggregatedBet{bet}, payout)...)
		}
	}
	return freed, deltas
}

// resolveFireBets settles the multi-roll Fire bonus bet, which only ever
// resolves at seven-out.
func resolveFireBets(state *GameState) (freed uint64, deltas []ledger.Delta) {
	distinct := len(state.PointsMadeThisSeries)
	payout, win := firePayout(distinct)
	for _, bet := range state.FireBets {
		freed += maxPayout(BetFire).Profit(bet.Total)
	}
	if win {
		deltas = winAllDeltas(state.FireBets, payout)
	}
	return freed, deltas
}

// resolveLine applies one roll's worth of line-bet resolution and phase
// transition ComeOut/Point semantics. It mutates state
// in place (state is always the caller's private clone).
func resolveLine(state *GameState, total int) (freed uint64, deltas []ledger.Delta) {
	switch state.Phase {
	case PhaseComeOut:
		switch {
		case total == 7 || total == 11:
			deltas = winAllDeltas(state.PassBets, evenMoney)
			freed = sumReserve(state.PassBets) + sumReserve(state.DontPassBets)
			state.PassBets, state.DontPassBets = nil, nil
		case total == 2 || total == 3:
			deltas = winAllDeltas(state.DontPassBets, evenMoney)
			freed = sumReserve(state.PassBets) + sumReserve(state.DontPassBets)
			state.PassBets, state.DontPassBets = nil, nil
		case total == 12:
			deltas = winAllDeltas(state.DontPassBets, pushPayout)
			freed = sumReserve(state.PassBets) + sumReserve(state.DontPassBets)
			state.PassBets, state.DontPassBets = nil, nil
		default:
			state.Point = total
			state.Phase = PhasePoint
		}
	case PhasePoint:
		switch total {
		case state.Point:
			deltas = winAllDeltas(state.PassBets, evenMoney)
			freed = sumReserve(state.PassBets) + sumReserve(state.DontPassBets)
			state.PassBets, state.DontPassBets = nil, nil
			state.PointsMadeThisSeries[state.Point] = struct{}{}
			state.Point = 0
			state.Phase = PhaseComeOut
		case 7:
			deltas = winAllDeltas(state.DontPassBets, evenMoney)
			freed = sumReserve(state.PassBets) + sumReserve(state.DontPassBets)
			fireFreed, fireDeltas := resolveFireBets(state)
			deltas = append(deltas, fireDeltas...)
			freed += fireFreed
			state.PassBets, state.DontPassBets, state.FireBets = nil, nil, nil
			state.PointsMadeThisSeries = make(map[int]struct{})
			state.Point = 0
			state.Phase = PhaseComeOut
		}
	}
	return freed, deltas
}
