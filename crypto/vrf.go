// Copyright 2024 The bitcraps Authors
// This file is part of the bitcraps library.

package crypto

import "crypto/ed25519"

// VRFProve and VRFVerify implement the deterministic VRF stub used for the
// commit-reveal fallback path: a stub keyed by the leader's long-term key,
// acceptable because Ed25519 signing is deterministic (RFC 8032), so
// pi = Sign(sk, alpha) is unpredictable without sk and verifiable by anyone
// holding pk; beta is derived from pi so that two valid proofs for the same
// alpha always yield the same seed.
//
// VRFProve computes (beta, pi) for alpha under sk.
func VRFProve(sk PrivateKey, alpha []byte) (beta [32]byte, pi []byte) {
	pi = ed25519.Sign(sk, alpha)
	beta = Hash([]byte("bitcraps-vrf-v1"), pi)
	return beta, pi
}

// VRFVerify checks pi against alpha and pk, returning (beta, true) on
// success or (zero, false) otherwise.
func VRFVerify(pk PublicKey, alpha, pi []byte) ([32]byte, bool) {
	if !Verify(pk, alpha, pi) {
		return [32]byte{}, false
	}
	return Hash([]byte("bitcraps-vrf-v1"), pi), true
}
