// Package memory is an in-process transport. Rooms live in a Bus; each
// Endpoint drains its own inbox on one goroutine, so handlers for a given
// endpoint never run concurrently.
package memory

import (
	"context"
	"sync"

	"github.com/crazyremix/remix-server/internal/transport"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const inboxSize = 256

// Option configures a Bus.
type Option func(*Bus)

// WithDropEvery drops every nth frame sent on the bus. Presence events are
// never dropped.
func WithDropEvery(n int) Option {
	return func(b *Bus) { b.dropEvery = n }
}

// WithDuplicates delivers every frame twice.
func WithDuplicates() Option {
	return func(b *Bus) { b.duplicate = true }
}

// Bus connects endpoints that joined the same room.
type Bus struct {
	logger *zap.Logger

	mu        sync.Mutex
	rooms     map[string]map[string]*Endpoint
	dropEvery int
	duplicate bool
	frames    int
}

// NewBus creates an empty bus.
func NewBus(logger *zap.Logger, opts ...Option) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bus{
		logger: logger,
		rooms:  make(map[string]map[string]*Endpoint),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Join attaches a new endpoint to room. An empty peerID gets a random one.
// Peers already in the room are told about the newcomer.
func (b *Bus) Join(room, peerID string) *Endpoint {
	if peerID == "" {
		peerID = uuid.NewString()
	}
	ep := &Endpoint{
		bus:   b,
		room:  room,
		id:    peerID,
		inbox: make(chan event, inboxSize),
		done:  make(chan struct{}),
	}
	go ep.run()

	b.mu.Lock()
	peers, ok := b.rooms[room]
	if !ok {
		peers = make(map[string]*Endpoint)
		b.rooms[room] = peers
	}
	others := make([]*Endpoint, 0, len(peers))
	for _, p := range peers {
		others = append(others, p)
	}
	peers[peerID] = ep
	b.mu.Unlock()

	for _, p := range others {
		p.enqueue(event{join: peerID})
	}
	b.logger.Debug("peer joined", zap.String("room_code", room), zap.String("peer_id", peerID))
	return ep
}

// Peers returns the ids currently in room.
func (b *Bus) Peers(room string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	ids := make([]string, 0, len(b.rooms[room]))
	for id := range b.rooms[room] {
		ids = append(ids, id)
	}
	return ids
}

func (b *Bus) deliver(room, from, to string, data []byte) {
	b.mu.Lock()
	b.frames++
	if b.dropEvery > 0 && b.frames%b.dropEvery == 0 {
		b.mu.Unlock()
		b.logger.Debug("frame dropped", zap.String("room_code", room), zap.String("from", from), zap.String("to", to))
		return
	}
	var targets []*Endpoint
	for id, ep := range b.rooms[room] {
		if id == from {
			continue
		}
		if to == transport.Broadcast || to == id {
			targets = append(targets, ep)
		}
	}
	copies := 1
	if b.duplicate {
		copies = 2
	}
	b.mu.Unlock()

	for _, ep := range targets {
		for i := 0; i < copies; i++ {
			buf := make([]byte, len(data))
			copy(buf, data)
			ep.enqueue(event{env: &transport.Envelope{From: from, To: to, Data: buf}})
		}
	}
}

func (b *Bus) leave(ep *Endpoint) {
	b.mu.Lock()
	peers := b.rooms[ep.room]
	delete(peers, ep.id)
	others := make([]*Endpoint, 0, len(peers))
	for _, p := range peers {
		others = append(others, p)
	}
	if len(peers) == 0 {
		delete(b.rooms, ep.room)
	}
	b.mu.Unlock()

	for _, p := range others {
		p.enqueue(event{leave: ep.id})
	}
	b.logger.Debug("peer left", zap.String("room_code", ep.room), zap.String("peer_id", ep.id))
}

type event struct {
	env   *transport.Envelope
	join  string
	leave string
}

// Endpoint is one peer's view of a Bus room. It implements transport.Transport.
type Endpoint struct {
	bus  *Bus
	room string
	id   string

	inbox     chan event
	done      chan struct{}
	closeOnce sync.Once

	messages transport.Listeners[transport.Envelope]
	joins    transport.Listeners[string]
	leaves   transport.Listeners[string]
}

var _ transport.Transport = (*Endpoint)(nil)

func (e *Endpoint) PeerID() string { return e.id }

// Send queues data for delivery; it never blocks on receivers.
func (e *Endpoint) Send(ctx context.Context, to string, data []byte) error {
	select {
	case <-e.done:
		return transport.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	e.bus.deliver(e.room, e.id, to, data)
	return nil
}

func (e *Endpoint) Subscribe(h transport.Handler) func() {
	return e.messages.Add(h)
}

func (e *Endpoint) OnPeerJoin(h transport.PeerHandler) func() {
	return e.joins.Add(h)
}

func (e *Endpoint) OnPeerLeave(h transport.PeerHandler) func() {
	return e.leaves.Add(h)
}

// Close detaches the endpoint and tells the remaining peers.
func (e *Endpoint) Close() error {
	e.closeOnce.Do(func() {
		close(e.done)
		e.bus.leave(e)
	})
	return nil
}

func (e *Endpoint) enqueue(ev event) {
	select {
	case <-e.done:
	case e.inbox <- ev:
	default:
		e.bus.logger.Warn("inbox full, frame dropped", zap.String("peer_id", e.id))
	}
}

func (e *Endpoint) run() {
	for {
		select {
		case <-e.done:
			return
		case ev := <-e.inbox:
			switch {
			case ev.env != nil:
				e.messages.Publish(*ev.env)
			case ev.join != "":
				e.joins.Publish(ev.join)
			case ev.leave != "":
				e.leaves.Publish(ev.leave)
			}
		}
	}
}
