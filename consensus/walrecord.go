// Copyright 2024 The bitcraps Authors
// This file is part of the bitcraps library.

package consensus

import (
	"bytes"
	"encoding/gob"

	"github.com/bitcraps/bitcraps/common"
	"github.com/bitcraps/bitcraps/gamestate"
	"github.com/bitcraps/bitcraps/randomness"
)

// recordKind tags the WAL payload so Replay can dispatch without probing
// the bytes. The mesh wire format elsewhere in this module is a fixed byte
// layout because it crosses process boundaries; this WAL is local-only
// persistence, so a gob envelope (already in the standard library, and
// simpler than hand-framing a tagged union) is the pragmatic choice here.
type recordKind uint8

const (
	recordPropose recordKind = iota + 1
	recordPrepareVote
	recordCommitVote
	recordViewChange
	recordNewView
	recordCommitted
	recordVRFProof
)

// vrfProofRecord is the WAL audit entry for a VRF fallback proof, whether
// minted locally as leader or accepted from the view's leader over the
// mesh.
type vrfProofRecord struct {
	Seq   common.Sequence
	Proof randomness.Proof
}

// CommittedRecord is written once a sequence finalizes: enough to rebuild
// game state and resume proposing without re-running consensus for
// already-decided sequences.
type CommittedRecord struct {
	Seq               common.Sequence
	Ops               []gamestate.Op
	QC                QuorumCert
	Seed              [32]byte
	Proof             randomness.Proof
	TreasuryBalance   uint64
	StateRoot         common.Hash
	LedgerRoot        common.Hash
}

func init() {
	gob.Register(&Propose{})
	gob.Register(&Vote{})
	gob.Register(&ViewChange{})
	gob.Register(&NewView{})
	gob.Register(&CommittedRecord{})
}

func encodeWALRecord(kind recordKind, v any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(kind))
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeWALRecord(payload []byte) (recordKind, *bytes.Reader) {
	if len(payload) == 0 {
		return 0, nil
	}
	return recordKind(payload[0]), bytes.NewReader(payload[1:])
}
