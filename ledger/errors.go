// Copyright 2024 The bitcraps Authors
// This file is part of the bitcraps library.

package ledger

import "errors"

// LedgerError taxonomy.
var (
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrOverflow            = errors.New("ledger: balance overflow")
	ErrSeqOutOfOrder       = errors.New("ledger: sequence out of order")
	ErrCorruptWAL          = errors.New("ledger: corrupt wal")
	ErrUnknownAccount      = errors.New("ledger: unknown account")
)
