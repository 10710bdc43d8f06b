// Copyright 2024 The bitcraps Authors
// This file is part of the bitcraps library.

// Package common holds the identifier and byte-array types shared by every
// component of the consensus core: hashes, validator identifiers and player
// identifiers are all 32-byte values derived from a public key or a digest.
package common

import (
	"encoding/hex"
	"fmt"
)

// HashLength is the number of bytes in a domain hash.
const HashLength = 32

// Hash is a 32-byte domain-separated digest.
type Hash [HashLength]byte

// BytesToHash copies b into the low-order end of a Hash, zero-padding on the
// left; if b is longer than HashLength, only its last HashLength bytes are kept.
func BytesToHash(b []byte) Hash {
	var h Hash
	if len(b) > HashLength {
		b = b[len(b)-HashLength:]
	}
	copy(h[HashLength-len(b):], b)
	return h
}

func (h Hash) Bytes() []byte { return h[:] }

func (h Hash) Hex() string { return "0x" + hex.EncodeToString(h[:]) }

func (h Hash) String() string { return h.Hex() }

func (h Hash) IsZero() bool { return h == Hash{} }

// ValidatorID is the 32-byte public-key-derived identifier for a validator,
// mapping 1:1 to an Ed25519 public key.
type ValidatorID [32]byte

func BytesToValidatorID(b []byte) ValidatorID {
	var id ValidatorID
	copy(id[:], b)
	return id
}

func (v ValidatorID) Bytes() []byte { return v[:] }

func (v ValidatorID) Hex() string { return "0x" + hex.EncodeToString(v[:]) }

func (v ValidatorID) String() string { return v.Hex() }

func (v ValidatorID) IsZero() bool { return v == ValidatorID{} }

// PlayerID identifies a client placing bets. Unlike ValidatorID it is not
// necessarily derived from the same key scheme used by the consensus set.
type PlayerID [32]byte

func BytesToPlayerID(b []byte) PlayerID {
	var id PlayerID
	copy(id[:], b)
	return id
}

func (p PlayerID) Bytes() []byte { return p[:] }

func (p PlayerID) Hex() string { return "0x" + hex.EncodeToString(p[:]) }

func (p PlayerID) String() string { return p.Hex() }

// Account identifies a ledger balance holder: either a PlayerID or the
// reserved Treasury account.
type Account [32]byte

var TreasuryAccount = Account{0xff} // well-known reserved identifier

func PlayerAccount(p PlayerID) Account { return Account(p) }

func (a Account) Bytes() []byte { return a[:] }

func (a Account) Hex() string { return "0x" + hex.EncodeToString(a[:]) }

func (a Account) String() string { return a.Hex() }

func (a Account) IsTreasury() bool { return a == TreasuryAccount }

// Epoch, View and Sequence are the three monotonic counters driving
// validator-set membership, leader rotation and batch ordering.
type (
	Epoch    uint64
	View     uint64
	Sequence uint64
)

// Phase is the vote phase within a (seq, view): Prepare or Commit.
type Phase uint8

const (
	PhasePrepare Phase = iota + 1
	PhaseCommit
)

func (p Phase) String() string {
	switch p {
	case PhasePrepare:
		return "prepare"
	case PhaseCommit:
		return "commit"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// Quorum returns q = ceil(2n/3), the Byzantine quorum size for n validators.
func Quorum(n int) int {
	return (2*n + 2) / 3
}

// ByzantineFaultTolerance returns f = floor((n-1)/3).
func ByzantineFaultTolerance(n int) int {
	return (n - 1) / 3
}
