// Copyright 2024 The bitcraps Authors
// This file is part of the bitcraps library.

// Package crypto is a thin wrapper over the core primitives: Ed25519
// signing, X25519 key exchange, ChaCha20-Poly1305 AEAD, a domain-separated
// hash and OS-entropy fill. The protocol version fixes SHA-256 as the hash.
package crypto

import (
	"crypto/ed25519"
	cryptorand "crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
)

// ProtocolVersion identifies the fixed choice of hash/signature primitives.
const ProtocolVersion = 1

var (
	ErrBadSignature = errors.New("crypto: bad signature")
	ErrBadProof     = errors.New("crypto: bad proof")
	ErrBadLength    = errors.New("crypto: bad length")
)

// PrivateKey is an Ed25519 signing key; PublicKey its corresponding
// identifier (see common.ValidatorID, derived from these 32 bytes).
type (
	PrivateKey = ed25519.PrivateKey
	PublicKey  = ed25519.PublicKey
)

// GenerateKey creates a new Ed25519 keypair using OS entropy.
func GenerateKey() (PublicKey, PrivateKey, error) {
	return ed25519.GenerateKey(cryptorand.Reader)
}

// Sign signs msg with sk.
func Sign(sk PrivateKey, msg []byte) []byte {
	return ed25519.Sign(sk, msg)
}

// Verify checks sig against msg and pk in constant time in the signature
// bytes.
func Verify(pk PublicKey, msg, sig []byte) bool {
	if len(pk) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pk, msg, sig)
}

// KeyExchangePublic derives the X25519 public key for a private scalar.
func KeyExchangePublic(sk [32]byte) ([32]byte, error) {
	pub, err := curve25519.X25519(sk[:], curve25519.Basepoint)
	if err != nil {
		return [32]byte{}, fmt.Errorf("%w: %v", ErrBadLength, err)
	}
	var out [32]byte
	copy(out[:], pub)
	return out, nil
}

// KeyExchange performs X25519 ECDH between sk and the peer's pk.
func KeyExchange(sk [32]byte, pk [32]byte) ([32]byte, error) {
	shared, err := curve25519.X25519(sk[:], pk[:])
	if err != nil {
		return [32]byte{}, fmt.Errorf("%w: %v", ErrBadLength, err)
	}
	var out [32]byte
	copy(out[:], shared)
	return out, nil
}

// Seal encrypts pt with ChaCha20-Poly1305 under key/nonce/aad. nonce must
// be chacha20poly1305.NonceSize bytes.
func Seal(key, nonce, aad, pt []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadLength, err)
	}
	if len(nonce) != aead.NonceSize() {
		return nil, ErrBadLength
	}
	return aead.Seal(nil, nonce, pt, aad), nil
}

// Open decrypts and authenticates ct.
func Open(key, nonce, aad, ct []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadLength, err)
	}
	pt, err := aead.Open(nil, nonce, ct, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return pt, nil
}

// Hash is the domain-separated digest used throughout the core (vote
// signing, Merkle leaves and nodes all call into this).
func Hash(parts ...[]byte) [32]byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// RandFill fills buf with OS entropy. Never a userspace PRNG for any
// protocol-visible secret.
func RandFill(buf []byte) {
	if _, err := cryptorand.Read(buf); err != nil {
		panic("crypto: OS entropy source failed: " + err.Error())
	}
}

// ConstantTimeEqual compares two byte slices without leaking timing.
func ConstantTimeEqual(a, b []byte) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare(a, b) == 1
}
