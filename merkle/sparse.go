// Copyright 2024 The bitcraps Authors
// This file is part of the bitcraps library.

package merkle

import "github.com/bitcraps/bitcraps/common"

// Sparse is the validator-keyed variant: each validator has its own
// one-byte presence leaf (did validator i vote/reveal in this round?), not a
// bit in a packed bitmap, and proofs accompany slashing evidence ("validator
// i did not reveal, as witnessed by this inclusion proof over the round's
// presence leaves").
type Sparse struct {
	order  []common.ValidatorID // index -> validator, fixed for the round
	index  map[common.ValidatorID]int
	bits   [][]byte // one-byte leaf per validator: 0x00 absent, 0x01 present
}

// NewSparse creates a presence tree over the given validator ordering. The
// ordering must be the same across all validators evaluating the same round
// for roots to match.
func NewSparse(order []common.ValidatorID) *Sparse {
	s := &Sparse{
		order: append([]common.ValidatorID{}, order...),
		index: make(map[common.ValidatorID]int, len(order)),
		bits:  make([][]byte, len(order)),
	}
	for i, v := range order {
		s.index[v] = i
		s.bits[i] = []byte{0x00}
	}
	return s
}

// SetPresent marks validator id as present (voted/revealed) in this round.
func (s *Sparse) SetPresent(id common.ValidatorID) bool {
	i, ok := s.index[id]
	if !ok {
		return false
	}
	s.bits[i] = []byte{0x01}
	return true
}

// IsPresent reports whether id is marked present.
func (s *Sparse) IsPresent(id common.ValidatorID) bool {
	i, ok := s.index[id]
	return ok && s.bits[i][0] == 0x01
}

// Root returns the presence-bitmap Merkle root.
func (s *Sparse) Root() common.Hash { return Root(s.bits) }

// ProofFor returns an inclusion proof that id's presence leaf has the value
// it currently holds, for attaching to slashing/reputation evidence.
func (s *Sparse) ProofFor(id common.ValidatorID) ([]ProofStep, int, bool) {
	i, ok := s.index[id]
	if !ok {
		return nil, 0, false
	}
	proof, err := Proof(s.bits, i)
	if err != nil {
		return nil, 0, false
	}
	return proof, i, true
}

// VerifyAbsence checks a proof asserting that the validator at index did NOT
// participate (leaf byte 0x00) against a known root — the shape slashing
// evidence for missed reveals takes.
func VerifyAbsence(root common.Hash, index int, proof []ProofStep) bool {
	return Verify(root, []byte{0x00}, index, proof)
}

// VerifyPresence checks a proof asserting the validator at index DID
// participate.
func VerifyPresence(root common.Hash, index int, proof []ProofStep) bool {
	return Verify(root, []byte{0x01}, index, proof)
}
