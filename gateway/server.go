// Copyright 2024 The bitcraps Authors
// This file is part of the bitcraps library.

package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/rs/cors"

	"github.com/bitcraps/bitcraps/common"
	bccrypto "github.com/bitcraps/bitcraps/crypto"
	"github.com/bitcraps/bitcraps/gamestate"
	"github.com/bitcraps/bitcraps/log"
)

// GatewayPublicKeyLookup resolves a registered gateway's signing key, used
// to authenticate submit_batch requests.
type GatewayPublicKeyLookup func(common.Hash) (bccrypto.PublicKey, bool)

// BatchSubmitter is the validator-side acceptor of an aggregated batch. The
// server stays decoupled from consensus.Engine's concrete type so it can be
// driven by a test double or by the real engine's Propose path.
type BatchSubmitter interface {
	SubmitBatch(ops []gamestate.Op) error
}

// StatusProvider supplies the operator status endpoint's payload without
// requiring gateway to import consensus.Engine or mesh.TaskRegistry
// directly. A nil StatusProvider yields a minimal status body.
type StatusProvider func() map[string]any

// Server implements the inbound interface: submit_batch over HTTP,
// plus an operator status endpoint gated by a JWT bearer token
// (github.com/golang-jwt/jwt/v4).
type Server struct {
	lookup    GatewayPublicKeyLookup
	submitter BatchSubmitter
	jwtSecret []byte
	publisher *Publisher
	status    StatusProvider
	mux       *http.ServeMux
	handler   http.Handler
}

// NewServer builds a Server. corsOrigins lists allowed browser origins for
// the status endpoint (github.com/rs/cors, teacher go.mod direct require).
// status may be nil, in which case /status reports only ok, time and
// subscriber count.
func NewServer(lookup GatewayPublicKeyLookup, submitter BatchSubmitter, jwtSecret []byte, publisher *Publisher, status StatusProvider, corsOrigins []string) *Server {
	s := &Server{lookup: lookup, submitter: submitter, jwtSecret: jwtSecret, publisher: publisher, status: status, mux: http.NewServeMux()}
	s.mux.HandleFunc("/submit_batch", s.handleSubmitBatch)
	s.mux.HandleFunc("/status", s.withJWT(s.handleStatus))
	s.mux.HandleFunc("/subscribe", publisher.HandleSubscribe)
	c := cors.New(cors.Options{AllowedOrigins: corsOrigins, AllowedMethods: []string{http.MethodGet, http.MethodPost}})
	s.handler = c.Handler(s.mux)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.handler.ServeHTTP(w, r) }

func (s *Server) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req SubmitBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, SubmitBatchResponse{Accepted: false, Reason: "malformed request"})
		return
	}
	resp := s.submitBatch(req)
	writeJSON(w, resp)
}

func (s *Server) submitBatch(req SubmitBatchRequest) SubmitBatchResponse {
	if len(req.Submissions) == 0 {
		return SubmitBatchResponse{Accepted: false, Reason: ErrEmptyBatch.Error()}
	}
	pk, ok := s.lookup(req.GatewayID)
	if !ok {
		return SubmitBatchResponse{Accepted: false, Reason: ErrUnknownGateway.Error()}
	}
	if !bccrypto.Verify(pk, submissionSigningBytes(req.GatewayID, req.Submissions), req.ClientSig) {
		return SubmitBatchResponse{Accepted: false, Reason: ErrBadGatewaySig.Error()}
	}
	bets := make([]gamestate.AggregatedBet, 0, len(req.Submissions))
	for _, sub := range req.Submissions {
		if !sub.verify() {
			return SubmitBatchResponse{Accepted: false, Reason: ErrBadContributor.Error()}
		}
		bets = append(bets, sub.Bet)
	}
	ops := []gamestate.Op{{Kind: gamestate.OpPlaceBetBatch, Bets: bets}}
	if err := s.submitter.SubmitBatch(ops); err != nil {
		log.Warn("gateway batch rejected by validator", "gateway", req.GatewayID.Hex(), "err", err)
		return SubmitBatchResponse{Accepted: false, Reason: err.Error()}
	}
	return SubmitBatchResponse{Accepted: true}
}

type statusClaims struct {
	jwt.RegisteredClaims
}

func (s *Server) withJWT(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenStr := r.Header.Get("Authorization")
		if len(tokenStr) > 7 && tokenStr[:7] == "Bearer " {
			tokenStr = tokenStr[7:]
		}
		claims := &statusClaims{}
		token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
			return s.jwtSecret, nil
		})
		if err != nil || !token.Valid {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"ok": true, "time": time.Now().UTC(), "subscribers": s.publisher.Subscribers()}
	if s.status != nil {
		for k, v := range s.status() {
			body[k] = v
		}
	}
	writeJSON(w, body)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
