// Copyright 2024 The bitcraps Authors
// This file is part of the bitcraps library.

package gateway

import "errors"

var (
	ErrBadGatewaySig  = errors.New("gateway: bad gateway signature")
	ErrBadContributor = errors.New("gateway: contributor proof does not verify")
	ErrUnknownGateway = errors.New("gateway: unknown gateway id")
	ErrEmptyBatch     = errors.New("gateway: empty batch")
	ErrBatchRejected  = errors.New("gateway: batch rejected by validator")
)
