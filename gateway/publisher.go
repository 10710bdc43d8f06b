// Copyright 2024 The bitcraps Authors
// This file is part of the bitcraps library.

package gateway

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/bitcraps/bitcraps/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Publisher fans a CommitNotification out to every subscribed websocket
// client.
type Publisher struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// NewPublisher builds an empty Publisher.
func NewPublisher() *Publisher {
	return &Publisher{clients: make(map[*websocket.Conn]struct{})}
}

// HandleSubscribe upgrades an HTTP connection to a websocket and registers
// it as a broadcast subscriber until it disconnects.
func (p *Publisher) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("gateway subscribe upgrade failed", "err", err)
		return
	}
	p.mu.Lock()
	p.clients[conn] = struct{}{}
	p.mu.Unlock()

	go p.readUntilClose(conn)
}

// readUntilClose drains (and discards) client frames purely to detect
// disconnects; this stream is server-to-client only.
func (p *Publisher) readUntilClose(conn *websocket.Conn) {
	defer p.remove(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (p *Publisher) remove(conn *websocket.Conn) {
	p.mu.Lock()
	delete(p.clients, conn)
	p.mu.Unlock()
	_ = conn.Close()
}

// Publish broadcasts a commit notification to every connected client,
// dropping (and logging) any connection that fails to keep up rather than
// blocking the caller.
func (p *Publisher) Publish(n CommitNotification) {
	payload, err := json.Marshal(n)
	if err != nil {
		log.Error("gateway publish marshal failed", "err", err)
		return
	}

	p.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(p.clients))
	for c := range p.clients {
		conns = append(conns, c)
	}
	p.mu.Unlock()

	for _, c := range conns {
		if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Warn("gateway subscriber write failed, dropping", "err", err)
			p.remove(c)
		}
	}
}

// Subscribers returns the current subscriber count, for status reporting.
func (p *Publisher) Subscribers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}
