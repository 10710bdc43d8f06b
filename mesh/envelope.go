// Copyright 2024 The bitcraps Authors
// This file is part of the bitcraps library.

// Package mesh implements the message-handling substrate:
// typed envelope dispatch, deduplication, bounded priority queues with
// shedding, backpressure budgets and a cancellable task registry. It carries
// consensus, randomness and broadcast traffic between validators and from
// validators to gateways.
package mesh

import (
	"encoding/binary"

	"github.com/bitcraps/bitcraps/common"
	bccrypto "github.com/bitcraps/bitcraps/crypto"
)

// Kind enumerates the wire message kinds.
type Kind uint8

const (
	KindPropose Kind = iota + 1
	KindPrepare
	KindCommit
	KindViewChange
	KindNewView
	KindRandomnessCommit
	KindRandomnessReveal
	KindCheckpoint
	KindVRFProof
)

func (k Kind) String() string {
	switch k {
	case KindPropose:
		return "Propose"
	case KindPrepare:
		return "Prepare"
	case KindCommit:
		return "Commit"
	case KindViewChange:
		return "ViewChange"
	case KindNewView:
		return "NewView"
	case KindRandomnessCommit:
		return "RandomnessCommit"
	case KindRandomnessReveal:
		return "RandomnessReveal"
	case KindCheckpoint:
		return "Checkpoint"
	case KindVRFProof:
		return "VRFProof"
	default:
		return "Unknown"
	}
}

// Priority orders Kind for queue shedding, highest first: ConsensusVote >
// Proposal > RandomnessReveal = VRFProof > RandomnessCommit >
// GatewayBroadcast > Gossip.
func (k Kind) Priority() int {
	switch k {
	case KindPrepare, KindCommit:
		return 6 // ConsensusVote
	case KindPropose:
		return 5
	case KindRandomnessReveal:
		return 4
	case KindVRFProof:
		return 4 // gates finalization exactly like a reveal would
	case KindRandomnessCommit:
		return 3
	case KindViewChange, KindNewView, KindCheckpoint:
		return 2 // treated as consensus-adjacent GatewayBroadcast-tier control traffic
	default:
		return 1 // Gossip
	}
}

const (
	protocolVersion = 1

	// headerLen is version(1) kind(1) epoch(4) sender(32) nonce(8) payload_len(4).
	headerLen = 1 + 1 + 4 + 32 + 8 + 4
	sigLen    = 64
)

// Envelope is the signed wire format: fixed big-endian fields,
// no variable-length padding, no trailing bytes tolerated on decode.
type Envelope struct {
	Version uint8
	Kind    Kind
	Epoch   uint32
	Sender  common.ValidatorID
	Nonce   uint64
	Payload []byte
	Sig     [sigLen]byte
}

func (e *Envelope) signingBytes() []byte {
	buf := make([]byte, 0, headerLen+len(e.Payload))
	buf = append(buf, e.Version, byte(e.Kind))
	var epoch [4]byte
	binary.BigEndian.PutUint32(epoch[:], e.Epoch)
	buf = append(buf, epoch[:]...)
	buf = append(buf, e.Sender.Bytes()...)
	var nonce [8]byte
	binary.BigEndian.PutUint64(nonce[:], e.Nonce)
	buf = append(buf, nonce[:]...)
	var plen [4]byte
	binary.BigEndian.PutUint32(plen[:], uint32(len(e.Payload)))
	buf = append(buf, plen[:]...)
	buf = append(buf, e.Payload...)
	return buf
}

// Sign fills Sig using sk over the canonical envelope bytes.
func (e *Envelope) Sign(sk bccrypto.PrivateKey) {
	e.Version = protocolVersion
	sig := bccrypto.Sign(sk, e.signingBytes())
	copy(e.Sig[:], sig)
}

// Verify checks e's signature against pk.
func (e *Envelope) Verify(pk bccrypto.PublicKey) bool {
	return bccrypto.Verify(pk, e.signingBytes(), e.Sig[:])
}

// Encode serializes e to its exact wire byte layout.
func Encode(e *Envelope) []byte {
	buf := e.signingBytes()
	return append(buf, e.Sig[:]...)
}

// Decode parses buf into an Envelope, rejecting short input, an unknown
// kind, and any trailing bytes beyond the signature.
func Decode(buf []byte) (*Envelope, error) {
	if len(buf) < headerLen+sigLen {
		return nil, ErrShortEnvelope
	}
	e := &Envelope{}
	e.Version = buf[0]
	e.Kind = Kind(buf[1])
	if e.Kind < KindPropose || e.Kind > KindVRFProof {
		return nil, ErrUnknownKind
	}
	e.Epoch = binary.BigEndian.Uint32(buf[2:6])
	e.Sender = common.BytesToValidatorID(buf[6:38])
	e.Nonce = binary.BigEndian.Uint64(buf[38:46])
	plen := binary.BigEndian.Uint32(buf[46:50])
	want := headerLen + int(plen) + sigLen
	if want != len(buf) {
		return nil, ErrTrailingBytes
	}
	e.Payload = append([]byte{}, buf[50:50+plen]...)
	copy(e.Sig[:], buf[50+plen:])
	return e, nil
}
