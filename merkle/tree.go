// Copyright 2024 The bitcraps Authors
// This file is part of the bitcraps library.

// Package merkle implements the binary Merkle tree: leaves are
// domain-separated with a 0x00 prefix, internal nodes with 0x01, odd levels
// duplicate their last node, and a Store keeps node hashes in a cache
// (github.com/VictoriaMetrics/fastcache) so an append does not rehash
// earlier leaves. Interior nodes are rehashed on every append, and proofs
// are built from the leaves each time.
package merkle

import (
	"github.com/VictoriaMetrics/fastcache"

	"github.com/bitcraps/bitcraps/common"
	bccrypto "github.com/bitcraps/bitcraps/crypto"
)

const (
	leafPrefix     = 0x00
	internalPrefix = 0x01
)

// Side records which side of a proof step the sibling sits on.
type Side uint8

const (
	SideLeft Side = iota
	SideRight
)

// ProofStep is one (sibling, side) pair of an inclusion proof.
type ProofStep struct {
	Sibling common.Hash
	Side    Side
}

func leafHash(leaf []byte) common.Hash {
	h := bccrypto.Hash([]byte{leafPrefix}, leaf)
	return common.Hash(h)
}

func internalHash(left, right common.Hash) common.Hash {
	h := bccrypto.Hash([]byte{internalPrefix}, left.Bytes(), right.Bytes())
	return common.Hash(h)
}

// buildLevels returns every level of the tree, levels[0] being leaf hashes
// and the last level containing exactly the root.
func buildLevels(leaves [][]byte) [][]common.Hash {
	if len(leaves) == 0 {
		return [][]common.Hash{{common.Hash{}}}
	}
	level := make([]common.Hash, len(leaves))
	for i, l := range leaves {
		level[i] = leafHash(l)
	}
	levels := [][]common.Hash{level}
	for len(level) > 1 {
		next := make([]common.Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, internalHash(level[i], level[i+1]))
			} else {
				// odd-count levels duplicate the last node.
				next = append(next, internalHash(level[i], level[i]))
			}
		}
		levels = append(levels, next)
		level = next
	}
	return levels
}

// Root computes the Merkle root over an ordered leaf sequence.
func Root(leaves [][]byte) common.Hash {
	levels := buildLevels(leaves)
	return levels[len(levels)-1][0]
}

// Proof returns the inclusion proof for leaves[index].
func Proof(leaves [][]byte, index int) ([]ProofStep, error) {
	if index < 0 || index >= len(leaves) {
		return nil, ErrIndexOutOfRange
	}
	levels := buildLevels(leaves)
	steps := make([]ProofStep, 0, len(levels)-1)
	idx := index
	for lvl := 0; lvl < len(levels)-1; lvl++ {
		level := levels[lvl]
		var sibIdx int
		var side Side
		if idx%2 == 0 {
			side = SideRight
			if idx+1 < len(level) {
				sibIdx = idx + 1
			} else {
				sibIdx = idx // duplicated last node
			}
		} else {
			side = SideLeft
			sibIdx = idx - 1
		}
		steps = append(steps, ProofStep{Sibling: level[sibIdx], Side: side})
		idx /= 2
	}
	return steps, nil
}

// Verify checks that leaf at index, combined with proof, produces root.
func Verify(root common.Hash, leaf []byte, index int, proof []ProofStep) bool {
	cur := leafHash(leaf)
	for _, step := range proof {
		switch step.Side {
		case SideRight:
			cur = internalHash(cur, step.Sibling)
		case SideLeft:
			cur = internalHash(step.Sibling, cur)
		default:
			return false
		}
	}
	_ = index // index is implied by the proof path; kept for API symmetry with Proof
	return cur == root
}

// Store is an append-only Merkle tree: leaves are appended one at a time and
// the root is recomputed after each append. Leaf hashes come from the cache;
// every interior level is rehashed, so an append costs O(n) hashes, not
// O(log n).
type Store struct {
	leaves [][]byte
	levels [][]common.Hash
	cache  *fastcache.Cache
}

// NewStore creates a Store whose interior-node cache is bounded to
// cacheBytes (fastcache rounds this up internally).
func NewStore(cacheBytes int) *Store {
	return &Store{cache: fastcache.New(cacheBytes)}
}

func (s *Store) cacheKey(level, index int) []byte {
	key := make([]byte, 8)
	key[0] = byte(level >> 24)
	key[1] = byte(level >> 16)
	key[2] = byte(level >> 8)
	key[3] = byte(level)
	key[4] = byte(index >> 24)
	key[5] = byte(index >> 16)
	key[6] = byte(index >> 8)
	key[7] = byte(index)
	return key
}

// Append adds a new leaf and returns its index and the new root.
func (s *Store) Append(leaf []byte) (int, common.Hash) {
	s.leaves = append(s.leaves, leaf)
	s.rebuild()
	return len(s.leaves) - 1, s.Root()
}

// rebuild recomputes every level. Leaf hashes are served from the fastcache
// when present rather than rehashed; interior nodes are always rehashed and
// written to the cache, and nothing reads them back.
func (s *Store) rebuild() {
	levels := make([][]common.Hash, 0)
	level := make([]common.Hash, len(s.leaves))
	for i, l := range s.leaves {
		if cached, ok := s.cache.HasGet(nil, s.cacheKey(0, i)); ok {
			level[i] = common.BytesToHash(cached)
			continue
		}
		h := leafHash(l)
		level[i] = h
		s.cache.Set(s.cacheKey(0, i), h.Bytes())
	}
	levels = append(levels, level)
	lvlNum := 1
	for len(level) > 1 {
		next := make([]common.Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			var h common.Hash
			if i+1 < len(level) {
				h = internalHash(level[i], level[i+1])
			} else {
				h = internalHash(level[i], level[i])
			}
			s.cache.Set(s.cacheKey(lvlNum, i/2), h.Bytes())
			next = append(next, h)
		}
		levels = append(levels, next)
		level = next
		lvlNum++
	}
	if len(levels) == 0 {
		levels = [][]common.Hash{{common.Hash{}}}
	}
	s.levels = levels
}

// Root returns the current root, or the zero hash for an empty store.
func (s *Store) Root() common.Hash {
	if len(s.levels) == 0 {
		return common.Hash{}
	}
	return s.levels[len(s.levels)-1][0]
}

// Proof returns the inclusion proof for the leaf at index.
func (s *Store) Proof(index int) ([]ProofStep, error) {
	if index < 0 || index >= len(s.leaves) {
		return nil, ErrIndexOutOfRange
	}
	return Proof(s.leaves, index)
}

// Len returns the number of leaves committed so far.
func (s *Store) Len() int { return len(s.leaves) }
