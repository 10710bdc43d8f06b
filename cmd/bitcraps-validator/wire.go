// Copyright 2024 The bitcraps Authors
// This file is part of the bitcraps library.

package main

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/bitcraps/bitcraps/common"
	"github.com/bitcraps/bitcraps/consensus"
	"github.com/bitcraps/bitcraps/mesh"
	"github.com/bitcraps/bitcraps/randomness"
)

// broadcaster adapts peerTransport's outbound send to the shape the engine
// handlers need, plus an optional onCommit hook for publishing
// CommitNotifications to gateway subscribers.
type broadcaster struct {
	transport *peerTransport
	onCommit  func(rec *consensus.CommittedRecord)
}

func (b *broadcaster) broadcast(kind mesh.Kind, payload []byte) {
	b.transport.send(kind, payload)
}

// commitMsg/revealMsg carry a commit-reveal randomness contribution over
// the mesh (mesh.KindRandomnessCommit / mesh.KindRandomnessReveal). The
// consensus package exposes ObserveCommit/ObserveReveal directly rather
// than a typed message, so the wire shape lives here at the transport
// boundary instead.
type commitMsg struct {
	Seq    common.Sequence
	Commit common.Hash
}

type revealMsg struct {
	Seq     common.Sequence
	Entropy [32]byte
	Nonce   [32]byte
}

func encodeGob(v any) []byte {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		panic(fmt.Sprintf("wire: encode %T: %v", v, err))
	}
	return buf.Bytes()
}

func decodeGob(payload []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(payload)).Decode(v)
}

// registerEngineHandlers wires every mesh.Kind the consensus engine cares
// about to the corresponding Engine method, broadcasting whatever
// follow-up message (if any) each handler produces.
func registerEngineHandlers(d *mesh.Dispatcher, eng *consensus.Engine, bc *broadcaster) {
	d.OnKind(mesh.KindPropose, func(sender common.ValidatorID, payload []byte) error {
		var p consensus.Propose
		if err := decodeGob(payload, &p); err != nil {
			return err
		}
		vote, err := eng.HandlePropose(&p)
		if err != nil {
			return err
		}
		if vote != nil {
			bc.broadcast(mesh.KindPrepare, encodeGob(vote))
		}
		return nil
	})

	d.OnKind(mesh.KindPrepare, func(sender common.ValidatorID, payload []byte) error {
		var v consensus.Vote
		if err := decodeGob(payload, &v); err != nil {
			return err
		}
		commitVote, err := eng.HandlePrepareVote(&v)
		if err != nil {
			return err
		}
		if commitVote != nil {
			bc.broadcast(mesh.KindCommit, encodeGob(commitVote))
		}
		return nil
	})

	d.OnKind(mesh.KindCommit, func(sender common.ValidatorID, payload []byte) error {
		var v consensus.Vote
		if err := decodeGob(payload, &v); err != nil {
			return err
		}
		rec, minted, err := eng.HandleCommitVote(&v)
		if err != nil {
			return err
		}
		for _, proof := range minted {
			bc.broadcast(mesh.KindVRFProof, encodeGob(proof))
		}
		if rec != nil && bc.onCommit != nil {
			bc.onCommit(rec)
		}
		return nil
	})

	d.OnKind(mesh.KindViewChange, func(sender common.ValidatorID, payload []byte) error {
		var vc consensus.ViewChange
		if err := decodeGob(payload, &vc); err != nil {
			return err
		}
		nv, err := eng.HandleViewChange(&vc)
		if err != nil {
			return err
		}
		if nv != nil {
			bc.broadcast(mesh.KindNewView, encodeGob(nv))
			p, err := eng.ReProposeFromNewView(nv)
			if err == nil && p != nil {
				bc.broadcast(mesh.KindPropose, encodeGob(p))
			}
		}
		return nil
	})

	d.OnKind(mesh.KindNewView, func(sender common.ValidatorID, payload []byte) error {
		var nv consensus.NewView
		if err := decodeGob(payload, &nv); err != nil {
			return err
		}
		return eng.HandleNewView(&nv)
	})

	d.OnKind(mesh.KindRandomnessCommit, func(sender common.ValidatorID, payload []byte) error {
		var m commitMsg
		if err := decodeGob(payload, &m); err != nil {
			return err
		}
		eng.ObserveCommit(m.Seq, sender, m.Commit)
		return nil
	})

	d.OnKind(mesh.KindRandomnessReveal, func(sender common.ValidatorID, payload []byte) error {
		var m revealMsg
		if err := decodeGob(payload, &m); err != nil {
			return err
		}
		return eng.ObserveReveal(m.Seq, sender, m.Entropy, m.Nonce)
	})

	d.OnKind(mesh.KindVRFProof, func(sender common.ValidatorID, payload []byte) error {
		var proof randomness.Proof
		if err := decodeGob(payload, &proof); err != nil {
			return err
		}
		rec, minted, err := eng.ObserveVRFProof(proof.Seq, sender, proof)
		if err != nil {
			return err
		}
		for _, p := range minted {
			bc.broadcast(mesh.KindVRFProof, encodeGob(p))
		}
		if rec != nil && bc.onCommit != nil {
			bc.onCommit(rec)
		}
		return nil
	})
}
