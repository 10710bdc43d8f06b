// Copyright 2024 The bitcraps Authors
// This file is part of the bitcraps library.

package consensus

import "errors"

// ConsensusError taxonomy.
var (
	ErrNotLeader      = errors.New("consensus: sender is not leader for this view")
	ErrInvalidProposal = errors.New("consensus: invalid proposal")
	ErrInvalidVote    = errors.New("consensus: invalid vote")
	ErrDuplicateVote  = errors.New("consensus: duplicate vote for (seq, view)")
	ErrViewMismatch   = errors.New("consensus: view mismatch")
	ErrQCInsufficient = errors.New("consensus: quorum certificate has insufficient signers")
	ErrTimeout        = errors.New("consensus: round timed out")
)
