// Copyright 2024 The bitcraps Authors
// This file is part of the bitcraps library.

package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bitcraps/bitcraps/common"
	bccrypto "github.com/bitcraps/bitcraps/crypto"
	"github.com/bitcraps/bitcraps/gamestate"
	"github.com/bitcraps/bitcraps/merkle"
)

type fakeSubmitter struct {
	err      error
	received []gamestate.Op
}

func (f *fakeSubmitter) SubmitBatch(ops []gamestate.Op) error {
	f.received = ops
	return f.err
}

func buildSubmission(t *testing.T, player common.PlayerID, amount uint64) BetSubmission {
	t.Helper()
	c := gamestate.Contributor{Player: player, Amount: amount}
	leaf := contributorLeaf(c)
	root := merkle.Root([][]byte{leaf})
	proof, err := merkle.Proof([][]byte{leaf}, 0)
	require.NoError(t, err)

	return BetSubmission{
		Bet: gamestate.AggregatedBet{
			Type:         gamestate.BetPassLine,
			Total:        amount,
			Contributors: []gamestate.Contributor{c},
			MerkleRoot:   root,
		},
		Proof: []ContributorProof{{Contributor: c, Index: 0, Steps: proof}},
	}
}

func TestSubmitBatchAcceptsValidRequest(t *testing.T) {
	pk, sk, err := bccrypto.GenerateKey()
	require.NoError(t, err)
	gatewayID := common.Hash(bccrypto.Hash([]byte("gateway-1")))
	lookup := func(id common.Hash) (bccrypto.PublicKey, bool) {
		if id == gatewayID {
			return pk, true
		}
		return nil, false
	}

	sub := &fakeSubmitter{}
	s := NewServer(lookup, sub, []byte("secret"), NewPublisher(), nil, nil)

	submissions := []BetSubmission{buildSubmission(t, common.BytesToPlayerID([]byte("alice")), 100)}
	req := SubmitBatchRequest{
		GatewayID:   gatewayID,
		Submissions: submissions,
	}
	req.ClientSig = bccrypto.Sign(sk, submissionSigningBytes(gatewayID, submissions))

	resp := postSubmitBatch(t, s, req)
	require.True(t, resp.Accepted)
	require.Len(t, sub.received, 1)
	require.Equal(t, gamestate.OpPlaceBetBatch, sub.received[0].Kind)
}

func TestSubmitBatchRejectsBadSignature(t *testing.T) {
	pk, _, err := bccrypto.GenerateKey()
	require.NoError(t, err)
	_, wrongSK, err := bccrypto.GenerateKey()
	require.NoError(t, err)
	gatewayID := common.Hash(bccrypto.Hash([]byte("gateway-2")))
	lookup := func(id common.Hash) (bccrypto.PublicKey, bool) { return pk, true }

	s := NewServer(lookup, &fakeSubmitter{}, []byte("secret"), NewPublisher(), nil, nil)
	submissions := []BetSubmission{buildSubmission(t, common.BytesToPlayerID([]byte("bob")), 50)}
	req := SubmitBatchRequest{GatewayID: gatewayID, Submissions: submissions}
	req.ClientSig = bccrypto.Sign(wrongSK, submissionSigningBytes(gatewayID, submissions))

	resp := postSubmitBatch(t, s, req)
	require.False(t, resp.Accepted)
	require.Equal(t, ErrBadGatewaySig.Error(), resp.Reason)
}

func TestSubmitBatchRejectsTamperedContributorProof(t *testing.T) {
	pk, sk, err := bccrypto.GenerateKey()
	require.NoError(t, err)
	gatewayID := common.Hash(bccrypto.Hash([]byte("gateway-3")))
	lookup := func(id common.Hash) (bccrypto.PublicKey, bool) { return pk, true }

	s := NewServer(lookup, &fakeSubmitter{}, []byte("secret"), NewPublisher(), nil, nil)
	submissions := []BetSubmission{buildSubmission(t, common.BytesToPlayerID([]byte("carol")), 25)}
	submissions[0].Bet.Total = 999 // no longer the sum of the contributors' amounts

	req := SubmitBatchRequest{GatewayID: gatewayID, Submissions: submissions}
	req.ClientSig = bccrypto.Sign(sk, submissionSigningBytes(gatewayID, submissions))

	resp := postSubmitBatch(t, s, req)
	require.False(t, resp.Accepted)
}

func TestStatusRequiresJWT(t *testing.T) {
	lookup := func(id common.Hash) (bccrypto.PublicKey, bool) { return nil, false }
	s := NewServer(lookup, &fakeSubmitter{}, []byte("secret"), NewPublisher(), nil, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func postSubmitBatch(t *testing.T, s *Server, req SubmitBatchRequest) SubmitBatchResponse {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	httpReq := httptest.NewRequest(http.MethodPost, "/submit_batch", bytes.NewReader(body))
	s.ServeHTTP(rec, httpReq)

	var resp SubmitBatchResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}
