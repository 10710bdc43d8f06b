// Copyright 2024 The bitcraps Authors
// This file is part of the bitcraps library.

package randomness

// diceRejectionCeiling is 6*42: the largest multiple of 6 that fits a byte,
// so byte % 6 is uniform over the accepted range.
const diceRejectionCeiling = 252

// Roll derives two dice faces from seed by rejection sampling over its
// bytes in order. It returns ok=false only if the 32-byte seed is exhausted
// before two faces are found, which does not happen in practice (252 of the
// 256 byte values are accepted, so about 1.02 bytes are consumed per face).
func Roll(seed [32]byte) (d1, d2 int, ok bool) {
	faces := make([]int, 0, 2)
	for _, b := range seed {
		if len(faces) == 2 {
			break
		}
		if b < diceRejectionCeiling {
			faces = append(faces, int(b%6)+1)
		}
	}
	if len(faces) != 2 {
		return 0, 0, false
	}
	return faces[0], faces[1], true
}
