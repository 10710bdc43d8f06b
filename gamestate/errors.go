// Copyright 2024 The bitcraps Authors
// This file is part of the bitcraps library.

package gamestate

import "errors"

// GameError taxonomy.
var (
	ErrInvalidBet          = errors.New("gamestate: invalid bet")
	ErrInsufficientTreasury = errors.New("gamestate: insufficient treasury")
	ErrUnknownPlayer       = errors.New("gamestate: unknown player")
	ErrMalformedBatch      = errors.New("gamestate: malformed batch")
)
