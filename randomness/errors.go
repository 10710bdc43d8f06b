// Copyright 2024 The bitcraps Authors
// This file is part of the bitcraps library.

package randomness

import "errors"

// RandomnessError taxonomy.
var (
	ErrCommitMismatch = errors.New("randomness: reveal does not match commit")
	ErrRevealTimeout  = errors.New("randomness: insufficient reveals before window closed")
	ErrVRFVerifyFailed = errors.New("randomness: vrf proof failed verification")
)
