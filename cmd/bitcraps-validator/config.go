// Copyright 2024 The bitcraps Authors
// This file is part of the bitcraps library.

package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/bitcraps/bitcraps/common"
	bccrypto "github.com/bitcraps/bitcraps/crypto"
)

// loadValidatorKey reads a hex-encoded Ed25519 private key from path.
func loadValidatorKey(path string) (bccrypto.PublicKey, bccrypto.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading validator key: %w", err)
	}
	sk, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, nil, fmt.Errorf("decoding validator key: %w", err)
	}
	privKey := bccrypto.PrivateKey(sk)
	pub := privKey.Public()
	pk, ok := pub.(bccrypto.PublicKey)
	if !ok {
		return nil, nil, fmt.Errorf("unexpected public key type %T", pub)
	}
	return pk, privKey, nil
}

// committeeEntry is one line of the committee roster file.
type committeeEntry struct {
	PublicKeyHex string `json:"public_key"`
}

// loadCommittee reads a JSON array of {"public_key": "<hex>"} entries and
// builds the validator set members, sorted by their declared order (leader
// rotation is round-robin over this sorted committee).
func loadCommittee(path string) ([]committeeEntry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading committee file: %w", err)
	}
	var entries []committeeEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decoding committee file: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("committee file has no entries")
	}
	return entries, nil
}

func committeeToPublicKeys(entries []committeeEntry) ([]bccrypto.PublicKey, error) {
	pks := make([]bccrypto.PublicKey, len(entries))
	for i, e := range entries {
		b, err := hex.DecodeString(e.PublicKeyHex)
		if err != nil {
			return nil, fmt.Errorf("committee entry %d: %w", i, err)
		}
		pks[i] = bccrypto.PublicKey(b)
	}
	return pks, nil
}

func validatorIDFromPublicKey(pk bccrypto.PublicKey) common.ValidatorID {
	return common.BytesToValidatorID(pk)
}

// parseGateways decodes repeated --gateway=<id_hex>:<pubkey_hex> flags into
// a lookup table for the gateway server's signature verification.
func parseGateways(raw []string) (map[common.Hash]bccrypto.PublicKey, error) {
	out := make(map[common.Hash]bccrypto.PublicKey, len(raw))
	for _, entry := range raw {
		parts := strings.SplitN(entry, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed --gateway entry %q, want id_hex:pubkey_hex", entry)
		}
		idBytes, err := hex.DecodeString(parts[0])
		if err != nil {
			return nil, fmt.Errorf("gateway id: %w", err)
		}
		pkBytes, err := hex.DecodeString(parts[1])
		if err != nil {
			return nil, fmt.Errorf("gateway pubkey: %w", err)
		}
		var id common.Hash
		copy(id[:], idBytes)
		out[id] = bccrypto.PublicKey(pkBytes)
	}
	return out, nil
}
