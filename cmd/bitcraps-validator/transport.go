// Copyright 2024 The bitcraps Authors
// This file is part of the bitcraps library.

package main

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/bitcraps/bitcraps/common"
	bccrypto "github.com/bitcraps/bitcraps/crypto"
	"github.com/bitcraps/bitcraps/log"
	"github.com/bitcraps/bitcraps/mesh"
)

// peerTransport delivers signed mesh envelopes to other validators over
// plain HTTP POST — a small http.Client wrapper rather than a raw socket
// protocol, since the wire envelope pins its own byte layout but leaves
// the carrying transport unspecified.
type peerTransport struct {
	self     common.ValidatorID
	sk       bccrypto.PrivateKey
	epoch    uint32
	nonce    uint64
	peerURLs []string
	client   *http.Client
}

func newPeerTransport(self common.ValidatorID, sk bccrypto.PrivateKey, epoch uint32, peerURLs []string) *peerTransport {
	return &peerTransport{
		self:     self,
		sk:       sk,
		epoch:    epoch,
		peerURLs: peerURLs,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

// send signs payload into an envelope of kind and POSTs it to every peer,
// logging (not failing) on individual delivery errors — a validator that is
// temporarily unreachable must never block the sender's progress.
func (t *peerTransport) send(kind mesh.Kind, payload []byte) {
	t.nonce++
	env := &mesh.Envelope{Version: 1, Kind: kind, Epoch: t.epoch, Sender: t.self, Nonce: t.nonce, Payload: payload}
	env.Sign(t.sk)
	raw := mesh.Encode(env)

	for _, url := range t.peerURLs {
		go func(url string) {
			resp, err := t.client.Post(url, "application/octet-stream", bytes.NewReader(raw))
			if err != nil {
				log.Warn("mesh send failed", "peer", url, "kind", kind.String(), "err", err)
				return
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}(url)
	}
}

// ingestHandler returns an http.HandlerFunc that feeds inbound envelope
// bytes into the dispatcher, for the validator's peer-to-peer listener.
func ingestHandler(d *mesh.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			http.Error(w, "read failed", http.StatusBadRequest)
			return
		}
		if err := d.Ingest(body); err != nil {
			log.Warn("mesh ingest rejected", "err", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}
}
