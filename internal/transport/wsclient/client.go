// Package wsclient connects to the relay server's websocket room endpoint.
package wsclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/crazyremix/remix-server/internal/transport"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// Client is one peer's relay connection. It implements transport.Transport.
type Client struct {
	logger *zap.Logger
	conn   *websocket.Conn
	room   string
	id     string

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	readDone chan struct{}
	once     sync.Once

	messages transport.Listeners[transport.Envelope]
	joins    transport.Listeners[string]
	leaves   transport.Listeners[string]
}

var _ transport.Transport = (*Client)(nil)

// Dial opens wsURL?room=<room>&peer=<peerID>. ctx bounds the handshake
// only. An empty peerID gets a random one.
func Dial(ctx context.Context, wsURL, room, peerID string, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if peerID == "" {
		peerID = uuid.NewString()
	}
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	q := u.Query()
	q.Set("room", room)
	q.Set("peer", peerID)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	conn.SetReadLimit(1 << 20)

	runCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		logger:   logger.With(zap.String("room_code", room), zap.String("peer_id", peerID)),
		conn:     conn,
		room:     room,
		id:       peerID,
		ctx:      runCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) PeerID() string { return c.id }

// Send writes one frame. Data must be JSON.
func (c *Client) Send(ctx context.Context, to string, data []byte) error {
	select {
	case <-c.done:
		return transport.ErrClosed
	default:
	}
	raw, err := json.Marshal(transport.Frame{Type: transport.FrameMessage, To: to, Data: data})
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if err := c.conn.Write(ctx, websocket.MessageText, raw); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (c *Client) Subscribe(h transport.Handler) func() {
	return c.messages.Add(h)
}

func (c *Client) OnPeerJoin(h transport.PeerHandler) func() {
	return c.joins.Add(h)
}

func (c *Client) OnPeerLeave(h transport.PeerHandler) func() {
	return c.leaves.Add(h)
}

// Done is closed once the connection is gone, locally or remotely.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close ends the connection and waits for the read loop to stop. It must
// not be called from a handler.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		err = c.conn.Close(websocket.StatusNormalClosure, "bye")
		c.cancel()
	})
	<-c.readDone
	return err
}

func (c *Client) readLoop() {
	defer close(c.readDone)
	for {
		_, raw, err := c.conn.Read(c.ctx)
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Debug("relay connection lost", zap.Error(err))
			}
			c.once.Do(func() {
				close(c.done)
				c.cancel()
				_ = c.conn.Close(websocket.StatusGoingAway, "read failed")
			})
			return
		}
		var f transport.Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			c.logger.Debug("bad relay frame", zap.Error(err))
			continue
		}
		switch f.Type {
		case transport.FrameMessage:
			if f.From == c.id {
				continue
			}
			c.messages.Publish(transport.Envelope{From: f.From, To: f.To, Data: f.Data})
		case transport.FrameJoin:
			c.joins.Publish(f.From)
		case transport.FrameLeave:
			c.leaves.Publish(f.From)
		}
	}
}
