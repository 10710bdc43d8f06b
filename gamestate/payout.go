// Copyright 2024 The bitcraps Authors
// This file is part of the bitcraps library.

package gamestate

// Payout expresses a win as a profit multiple Num/Den of the staked amount.
type Payout struct {
	Num int64
	Den int64
}

// Profit returns the winnings (not including returned stake) for amount
// staked at this payout.
func (p Payout) Profit(amount uint64) uint64 {
	if p.Den == 0 {
		return 0
	}
	return uint64(int64(amount) * p.Num / p.Den)
}

// evenMoney is the Pass/Don't Pass payout.
var evenMoney = Payout{Num: 1, Den: 1}

// maxPayout returns the worst-case profit multiple for bt, used for the
// treasury reserve check.
func maxPayout(bt BetType) Payout {
	switch bt {
	case BetPassLine, BetDontPass:
		return evenMoney
	case BetField:
		return Payout{Num: 3, Den: 1} // field pays triple on 12
	case BetAnySeven:
		return Payout{Num: 4, Den: 1}
	case BetAnyCraps:
		return Payout{Num: 7, Den: 1}
	case BetFire:
		return Payout{Num: 999, Den: 1} // all six points made
	default:
		return Payout{}
	}
}

// fieldOutcome reports the field bet's payout for a one-roll total, and
// whether the bet wins at all.
func fieldOutcome(total int) (Payout, bool) {
	switch total {
	case 2:
		return Payout{Num: 2, Den: 1}, true
	case 12:
		return Payout{Num: 3, Den: 1}, true
	case 3, 4, 9, 10, 11:
		return evenMoney, true
	default:
		return Payout{}, false
	}
}

func anySevenOutcome(total int) (Payout, bool) {
	if total == 7 {
		return Payout{Num: 4, Den: 1}, true
	}
	return Payout{}, false
}

func anyCrapsOutcome(total int) (Payout, bool) {
	switch total {
	case 2, 3, 12:
		return Payout{Num: 7, Den: 1}, true
	default:
		return Payout{}, false
	}
}

// firePayout pays on distinct points made this series; resolved only at
// seven-out. Real casino Fire-bet pay tables vary by house; this is a fixed
// schedule paying from four distinct points onward.
func firePayout(distinctPoints int) (Payout, bool) {
	switch distinctPoints {
	case 4:
		return Payout{Num: 24, Den: 1}, true
	case 5:
		return Payout{Num: 249, Den: 1}, true
	case 6:
		return Payout{Num: 999, Den: 1}, true
	default:
		return Payout{}, false
	}
}
