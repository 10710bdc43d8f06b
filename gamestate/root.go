// Copyright 2024 The bitcraps Authors
// This file is part of the bitcraps library.

package gamestate

import (
	"encoding/binary"
	"sort"

	"github.com/bitcraps/bitcraps/common"
	bccrypto "github.com/bitcraps/bitcraps/crypto"
)

func encodeBet(bet AggregatedBet) []byte {
	buf := []byte{byte(bet.Type)}
	var total [8]byte
	binary.BigEndian.PutUint64(total[:], bet.Total)
	buf = append(buf, total[:]...)
	buf = append(buf, bet.MerkleRoot.Bytes()...)
	return buf
}

func encodeBets(bets []AggregatedBet) []byte {
	sorted := append([]AggregatedBet{}, bets...)
	SortAggregatedBets(sorted)
	var buf []byte
	for _, b := range sorted {
		buf = append(buf, encodeBet(b)...)
	}
	return buf
}

// Root computes a domain-separated digest over the phase, point, players,
// points made this series and each bet's type, total and Merkle root,
// attached to committed sequences so clients can check the consensus-agreed
// outcome against their own replay. Contributor lists and
// OutstandingMaxPayout are not part of the digest.
func (s GameState) Root() common.Hash {
	players := make([]string, 0, len(s.Players))
	for p := range s.Players {
		players = append(players, string(p.Bytes()))
	}
	sort.Strings(players)

	points := make([]int, 0, len(s.PointsMadeThisSeries))
	for pt := range s.PointsMadeThisSeries {
		points = append(points, pt)
	}
	sort.Ints(points)

	var buf []byte
	buf = append(buf, byte(s.Phase))
	var point [8]byte
	binary.BigEndian.PutUint64(point[:], uint64(s.Point))
	buf = append(buf, point[:]...)
	for _, p := range players {
		buf = append(buf, []byte(p)...)
	}
	for _, pt := range points {
		buf = append(buf, byte(pt))
	}
	buf = append(buf, encodeBets(s.PassBets)...)
	buf = append(buf, encodeBets(s.DontPassBets)...)
	buf = append(buf, encodeBets(s.PropBets)...)
	buf = append(buf, encodeBets(s.FireBets)...)

	return common.Hash(bccrypto.Hash([]byte("bitcraps-gamestate-v1"), buf))
}
