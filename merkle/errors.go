// Copyright 2024 The bitcraps Authors
// This file is part of the bitcraps library.

package merkle

import "errors"

// MerkleError taxonomy.
var (
	ErrBadProof       = errors.New("merkle: bad proof")
	ErrIndexOutOfRange = errors.New("merkle: index out of range")
)
