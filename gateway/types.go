// Copyright 2024 The bitcraps Authors
// This file is part of the bitcraps library.

// Package gateway implements external interfaces: the inbound
// submit_batch RPC and the outbound commit broadcast stream, the boundary
// between client-facing gateways and the validator core.
package gateway

import (
	"encoding/binary"

	"github.com/bitcraps/bitcraps/common"
	"github.com/bitcraps/bitcraps/consensus"
	"github.com/bitcraps/bitcraps/gamestate"
	"github.com/bitcraps/bitcraps/merkle"
	"github.com/bitcraps/bitcraps/randomness"
)

// ContributorProof proves one contributor's membership in a bet's committed
// Merkle root, letting the gateway submit an aggregated bet without
// re-disclosing every contributor signature to the validator.
type ContributorProof struct {
	Contributor gamestate.Contributor
	Index       int
	Steps       []merkle.ProofStep
}

// BetSubmission pairs one aggregated bet with its contributor proofs.
type BetSubmission struct {
	Bet   gamestate.AggregatedBet
	Proof []ContributorProof
}

func contributorLeaf(c gamestate.Contributor) []byte {
	buf := append([]byte{}, c.Player.Bytes()...)
	var amt [8]byte
	binary.BigEndian.PutUint64(amt[:], c.Amount)
	return append(buf, amt[:]...)
}

// verify checks that the contributors' amounts add up to the bet's Total and
// that every contributor proof verifies against the bet's declared Merkle
// root.
func (s BetSubmission) verify() bool {
	if len(s.Proof) != len(s.Bet.Contributors) {
		return false
	}
	var sum uint64
	for _, c := range s.Bet.Contributors {
		if sum+c.Amount < sum {
			return false
		}
		sum += c.Amount
	}
	if sum != s.Bet.Total {
		return false
	}
	for _, p := range s.Proof {
		if !merkle.Verify(s.Bet.MerkleRoot, contributorLeaf(p.Contributor), p.Index, p.Steps) {
			return false
		}
	}
	return true
}

func submissionSigningBytes(gatewayID common.Hash, submissions []BetSubmission) []byte {
	buf := append([]byte{}, gatewayID.Bytes()...)
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(submissions)))
	buf = append(buf, n[:]...)
	for _, s := range submissions {
		buf = append(buf, byte(s.Bet.Type))
		var total [8]byte
		binary.BigEndian.PutUint64(total[:], s.Bet.Total)
		buf = append(buf, total[:]...)
		buf = append(buf, s.Bet.MerkleRoot.Bytes()...)
	}
	return buf
}

// SubmitBatchRequest is the wire body submit_batch RPC.
type SubmitBatchRequest struct {
	GatewayID   common.Hash
	Submissions []BetSubmission
	ClientSig   []byte
}

// SubmitBatchResponse is submit_batch's typed result.
type SubmitBatchResponse struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// CommitNotification is the outbound broadcast published once per
// committed sequence for subscribed clients.
type CommitNotification struct {
	Seq               common.Sequence      `json:"seq"`
	BatchHash         common.Hash          `json:"batch_hash"`
	RandomnessProof   randomness.Proof     `json:"randomness_proof"`
	QC                consensus.QuorumCert `json:"qc"`
	StateDeltaSummary StateDeltaSummary    `json:"state_delta_summary"`
}

// StateDeltaSummary is a compact view of a committed sequence's ledger
// movement, avoiding a full per-account delta dump over the broadcast
// stream.
type StateDeltaSummary struct {
	StateRoot       common.Hash `json:"state_root"`
	LedgerRoot      common.Hash `json:"ledger_root"`
	TreasuryBalance uint64      `json:"treasury_balance"`
}
