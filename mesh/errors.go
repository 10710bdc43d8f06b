// Copyright 2024 The bitcraps Authors
// This file is part of the bitcraps library.

package mesh

import "errors"

// MessageError is the taxonomy: a malformed or unwelcome envelope is
// rejected locally and never mutates engine state.
var (
	ErrSigInvalid     = errors.New("mesh: signature invalid")
	ErrDuplicateNonce = errors.New("mesh: duplicate nonce")
	ErrQueueFull      = errors.New("mesh: queue full")
	ErrUnknownKind    = errors.New("mesh: unknown message kind")
	ErrTrailingBytes  = errors.New("mesh: trailing bytes after envelope")
	ErrShortEnvelope  = errors.New("mesh: envelope too short")
)
