package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/crazyremix/remix-server/internal/lobby"
	"github.com/crazyremix/remix-server/internal/transport"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 1 << 20
	clientSendSize = 256
)

// Hub relays frames between websocket peers grouped by room code. It does
// not look inside frame data; game logic stays on the host peer.
type Hub struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader

	register   chan *client
	unregister chan *client
	inbound    chan routed
	done       chan struct{}

	roomCount atomic.Int64
	peerCount atomic.Int64
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	room string
	peer string
	send chan []byte
}

type routed struct {
	from  *client
	frame transport.Frame
}

// NewHub creates a hub. An empty allowedOrigins accepts any origin.
func NewHub(allowedOrigins []string, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o != "" {
			allowed[o] = true
		}
	}
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || origin == "" || allowed[origin]
			},
		},
		register:   make(chan *client),
		unregister: make(chan *client),
		inbound:    make(chan routed, 256),
		done:       make(chan struct{}),
	}
}

// Run owns the room table until ctx is cancelled. It must be called once.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	rooms := make(map[string]map[string]*client)

	for {
		select {
		case <-ctx.Done():
			for _, peers := range rooms {
				for _, c := range peers {
					close(c.send)
				}
			}
			h.roomCount.Store(0)
			h.peerCount.Store(0)
			return

		case c := <-h.register:
			peers, ok := rooms[c.room]
			if !ok {
				peers = make(map[string]*client)
				rooms[c.room] = peers
			}
			if old, ok := peers[c.peer]; ok {
				// Same peer id reconnected; the newer socket wins.
				close(old.send)
				h.peerCount.Add(-1)
			}
			peers[c.peer] = c
			h.peerCount.Add(1)
			h.roomCount.Store(int64(len(rooms)))
			h.remove(rooms, h.fanout(peers, c.peer, "", transport.Frame{Type: transport.FrameJoin, From: c.peer})...)
			h.logger.Info("peer connected",
				zap.String("room_code", c.room),
				zap.String("peer_id", c.peer),
				zap.Int("room_peers", len(peers)),
			)

		case c := <-h.unregister:
			if rooms[c.room][c.peer] != c {
				continue
			}
			h.remove(rooms, c)
			h.logger.Info("peer disconnected", zap.String("room_code", c.room), zap.String("peer_id", c.peer))

		case msg := <-h.inbound:
			peers := rooms[msg.from.room]
			if peers[msg.from.peer] != msg.from {
				continue
			}
			msg.frame.From = msg.from.peer
			h.remove(rooms, h.fanout(peers, msg.from.peer, msg.frame.To, msg.frame)...)
		}
	}
}

// remove detaches each client from its room and sends FrameLeave to the
// peers left behind. Peers too slow to take that frame go the same way.
// Empty rooms are deleted.
func (h *Hub) remove(rooms map[string]map[string]*client, gone ...*client) {
	for len(gone) > 0 {
		c := gone[0]
		gone = gone[1:]
		peers := rooms[c.room]
		if peers[c.peer] != c {
			continue
		}
		delete(peers, c.peer)
		close(c.send)
		h.peerCount.Add(-1)
		if len(peers) == 0 {
			delete(rooms, c.room)
			continue
		}
		gone = append(gone, h.fanout(peers, c.peer, "", transport.Frame{Type: transport.FrameLeave, From: c.peer})...)
	}
	h.roomCount.Store(int64(len(rooms)))
}

// fanout sends f to every peer except skip, or only to `to` when set to a
// peer id. It returns the peers whose buffers were full; the caller removes
// them instead of blocking the hub.
func (h *Hub) fanout(peers map[string]*client, skip, to string, f transport.Frame) []*client {
	raw, err := json.Marshal(f)
	if err != nil {
		h.logger.Warn("failed to encode frame", zap.Error(err))
		return nil
	}
	var slow []*client
	for id, c := range peers {
		if id == skip {
			continue
		}
		if to != "" && to != transport.Broadcast && to != id {
			continue
		}
		select {
		case c.send <- raw:
		default:
			h.logger.Warn("peer too slow, dropping", zap.String("room_code", c.room), zap.String("peer_id", id))
			slow = append(slow, c)
		}
	}
	return slow
}

// Rooms returns the number of rooms with at least one peer.
func (h *Hub) Rooms() int { return int(h.roomCount.Load()) }

// Peers returns the number of connected peers.
func (h *Hub) Peers() int { return int(h.peerCount.Load()) }

// ServeWS upgrades /ws?room=CODE&peer=ID and attaches the socket to the room.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	room := lobby.NormalizeCode(r.URL.Query().Get("room"))
	peer := r.URL.Query().Get("peer")
	if room == "" || peer == "" || peer == transport.Broadcast {
		http.Error(w, "room and peer are required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		room: room,
		peer: peer,
		send: make(chan []byte, clientSendSize),
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.hub.logger.Debug("websocket read error", zap.String("peer_id", c.peer), zap.Error(err))
			}
			return
		}
		var f transport.Frame
		if err := json.Unmarshal(raw, &f); err != nil || f.Type != transport.FrameMessage {
			c.hub.logger.Debug("ignoring frame", zap.String("peer_id", c.peer))
			continue
		}
		if f.To == "" {
			f.To = transport.Broadcast
		}
		select {
		case c.hub.inbound <- routed{from: c, frame: f}:
		case <-c.hub.done:
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
