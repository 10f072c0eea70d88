package main

import (
	"context"
	"sync"

	"github.com/BakhodirAbdullayev/orbital/internal/rpc"
)

// StreamSender defines the minimal interface the hub needs from a stream:
// the ability to push realtime events to the connected client.
type StreamSender interface {
	Send(*rpc.RealtimeEvent) error
}

type hubEntry struct {
	jti    string
	sender StreamSender
	cancel context.CancelFunc
}

// ConnectionHub tracks the open realtime streams of each user, keyed by
// uid, so a sign-out can end every stream opened with the revoked token.
type ConnectionHub struct {
	mu      sync.RWMutex
	streams map[string]map[int64]hubEntry
	nextID  int64
}

// NewConnectionHub creates a new hub instance.
func NewConnectionHub() *ConnectionHub {
	return &ConnectionHub{streams: make(map[string]map[int64]hubEntry)}
}

// Register records a stream opened by uid with the token jti and returns a
// connection id which should be used later to unregister the stream when
// it closes. cancel ends the stream.
func (h *ConnectionHub) Register(uid, jti string, s StreamSender, cancel context.CancelFunc) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.streams[uid]; !ok {
		h.streams[uid] = make(map[int64]hubEntry)
	}

	h.nextID++
	id := h.nextID
	h.streams[uid][id] = hubEntry{jti: jti, sender: s, cancel: cancel}
	return id
}

// Unregister removes a previously-registered stream for the given user.
func (h *ConnectionHub) Unregister(uid string, id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.streams[uid]; ok {
		delete(conns, id)
		if len(conns) == 0 {
			delete(h.streams, uid)
		}
	}
}

// Connected returns how many streams uid has open.
func (h *ConnectionHub) Connected(uid string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.streams[uid])
}

// Revoke notifies and ends every stream opened with the token jti. The
// revoked event is best-effort; the stream is cancelled either way.
func (h *ConnectionHub) Revoke(jti string) int {
	h.mu.RLock()
	var hit []hubEntry
	for _, conns := range h.streams {
		for _, e := range conns {
			if e.jti == jti {
				hit = append(hit, e)
			}
		}
	}
	h.mu.RUnlock()

	for _, e := range hit {
		_ = e.sender.Send(&rpc.RealtimeEvent{Kind: rpc.EventRevoked})
		e.cancel()
	}
	return len(hit)
}
