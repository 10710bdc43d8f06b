// Copyright 2024 The bitcraps Authors
// This file is part of the bitcraps library.

package consensus

import (
	"encoding/binary"

	"github.com/bitcraps/bitcraps/common"
	bccrypto "github.com/bitcraps/bitcraps/crypto"
	"github.com/bitcraps/bitcraps/gamestate"
)

// serializeOps produces a canonical byte encoding of a batch's operations,
// independent of map iteration order or struct padding, so every validator
// computes the same batch_hash for the same ops.
func serializeOps(ops []gamestate.Op) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(len(ops)))
	for _, op := range ops {
		buf = append(buf, byte(op.Kind))
		buf = append(buf, op.Player.Bytes()...)

		var betCount [4]byte
		binary.BigEndian.PutUint32(betCount[:], uint32(len(op.Bets)))
		buf = append(buf, betCount[:]...)
		for _, bet := range op.Bets {
			buf = append(buf, byte(bet.Type))
			var total [8]byte
			binary.BigEndian.PutUint64(total[:], bet.Total)
			buf = append(buf, total[:]...)
			buf = append(buf, bet.MerkleRoot.Bytes()...)

			var contribCount [4]byte
			binary.BigEndian.PutUint32(contribCount[:], uint32(len(bet.Contributors)))
			buf = append(buf, contribCount[:]...)
			for _, c := range bet.Contributors {
				buf = append(buf, c.Player.Bytes()...)
				var amt [8]byte
				binary.BigEndian.PutUint64(amt[:], c.Amount)
				buf = append(buf, amt[:]...)
			}
		}
	}
	return buf
}

// BatchHash computes the domain-separated hash of an ops list a Propose
// commits validators to.
func BatchHash(ops []gamestate.Op) common.Hash {
	return common.Hash(bccrypto.Hash([]byte("bitcraps-batch-v1"), serializeOps(ops)))
}
