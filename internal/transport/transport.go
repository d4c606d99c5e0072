// Package transport defines the best-effort room messaging contract the
// replication protocol runs on. Implementations live in subpackages.
package transport

import (
	"context"
	"errors"
)

// Broadcast addresses every other peer in the room. Senders never receive
// their own broadcasts.
const Broadcast = "*"

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("transport: closed")

// Envelope is one frame as seen by a receiver. From is filled in by the
// transport; To is either a peer id or Broadcast.
type Envelope struct {
	From string `json:"from"`
	To   string `json:"to"`
	Data []byte `json:"data"`
}

// Handler receives inbound frames. Handlers must not block for long; they
// run on the transport's delivery goroutine.
type Handler func(Envelope)

// PeerHandler receives presence changes.
type PeerHandler func(peerID string)

// Transport is a room-scoped, best-effort message channel. Nothing about
// delivery or ordering is guaranteed.
type Transport interface {
	// PeerID is this endpoint's id within the room.
	PeerID() string
	// Send delivers data to one peer or to Broadcast. A nil error only
	// means the frame left this process.
	Send(ctx context.Context, to string, data []byte) error
	// Subscribe registers h until the returned func is called.
	Subscribe(h Handler) (unsubscribe func())
	OnPeerJoin(h PeerHandler) (unsubscribe func())
	OnPeerLeave(h PeerHandler) (unsubscribe func())
	Close() error
}
