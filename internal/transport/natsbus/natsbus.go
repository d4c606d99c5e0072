// Package natsbus carries room traffic over NATS subjects:
//
//	<prefix>.<room>              broadcast frames
//	<prefix>.<room>.peer.<id>    frames for one peer
//	<prefix>.<room>.presence     join and leave announcements
//
// The sender and recipient travel in message headers so payloads stay opaque.
package natsbus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/crazyremix/remix-server/internal/transport"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	headerFrom     = "Remix-From"
	headerTo       = "Remix-To"
	headerPresence = "Remix-Presence"

	presenceJoin  = "join"
	presenceLeave = "leave"

	inboxSize = 256
)

// Config selects the subjects a Transport uses.
type Config struct {
	Prefix string
	Room   string
	PeerID string
}

// Transport is one peer's NATS-backed room connection.
type Transport struct {
	logger  *zap.Logger
	nc      *nats.Conn
	ownConn bool
	cfg     Config

	msgs      chan *nats.Msg
	subs      []*nats.Subscription
	done      chan struct{}
	closeOnce sync.Once

	messages transport.Listeners[transport.Envelope]
	joins    transport.Listeners[string]
	leaves   transport.Listeners[string]
}

var _ transport.Transport = (*Transport)(nil)

// Dial connects to url and joins the configured room. The connection is
// closed together with the transport.
func Dial(url string, cfg Config, logger *zap.Logger) (*Transport, error) {
	nc, err := nats.Connect(url,
		nats.Name("remix-"+cfg.Room),
		nats.Timeout(5*time.Second),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	t, err := New(nc, cfg, logger)
	if err != nil {
		nc.Close()
		return nil, err
	}
	t.ownConn = true
	return t, nil
}

// New joins the configured room on an existing connection.
func New(nc *nats.Conn, cfg Config, logger *zap.Logger) (*Transport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PeerID == "" {
		cfg.PeerID = uuid.NewString()
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "remix"
	}
	for _, tok := range []string{cfg.Room, cfg.PeerID} {
		if err := validateToken(tok); err != nil {
			return nil, err
		}
	}

	t := &Transport{
		logger: logger.With(zap.String("room_code", cfg.Room), zap.String("peer_id", cfg.PeerID)),
		nc:     nc,
		cfg:    cfg,
		msgs:   make(chan *nats.Msg, inboxSize),
		done:   make(chan struct{}),
	}

	// One channel for every subject keeps delivery on a single goroutine.
	for _, subject := range []string{t.roomSubject(), t.peerSubject(cfg.PeerID), t.presenceSubject()} {
		sub, err := nc.ChanSubscribe(subject, t.msgs)
		if err != nil {
			t.unsubscribe()
			return nil, fmt.Errorf("subscribe %s: %w", subject, err)
		}
		t.subs = append(t.subs, sub)
	}
	if err := nc.Flush(); err != nil {
		t.unsubscribe()
		return nil, fmt.Errorf("flush subscriptions: %w", err)
	}
	go t.run()

	if err := t.announce(presenceJoin); err != nil {
		t.logger.Warn("failed to announce join", zap.Error(err))
	}
	return t, nil
}

func (t *Transport) PeerID() string { return t.cfg.PeerID }

// Send publishes data to the room or to one peer's subject.
func (t *Transport) Send(ctx context.Context, to string, data []byte) error {
	select {
	case <-t.done:
		return transport.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	subject := t.roomSubject()
	if to != transport.Broadcast {
		if err := validateToken(to); err != nil {
			return err
		}
		subject = t.peerSubject(to)
	}
	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set(headerFrom, t.cfg.PeerID)
	msg.Header.Set(headerTo, to)
	if err := t.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func (t *Transport) Subscribe(h transport.Handler) func() {
	return t.messages.Add(h)
}

func (t *Transport) OnPeerJoin(h transport.PeerHandler) func() {
	return t.joins.Add(h)
}

func (t *Transport) OnPeerLeave(h transport.PeerHandler) func() {
	return t.leaves.Add(h)
}

// Close announces the departure and drops the subscriptions.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		if err := t.announce(presenceLeave); err != nil {
			t.logger.Debug("failed to announce leave", zap.Error(err))
		}
		t.unsubscribe()
		close(t.done)
		if t.ownConn {
			t.nc.Close()
		}
	})
	return nil
}

func (t *Transport) run() {
	for {
		select {
		case <-t.done:
			return
		case msg := <-t.msgs:
			t.dispatch(msg)
		}
	}
}

func (t *Transport) dispatch(msg *nats.Msg) {
	from := msg.Header.Get(headerFrom)
	if from == "" || from == t.cfg.PeerID {
		return
	}
	if msg.Subject == t.presenceSubject() {
		switch msg.Header.Get(headerPresence) {
		case presenceJoin:
			t.joins.Publish(from)
		case presenceLeave:
			t.leaves.Publish(from)
		}
		return
	}
	t.messages.Publish(transport.Envelope{
		From: from,
		To:   msg.Header.Get(headerTo),
		Data: msg.Data,
	})
}

func (t *Transport) announce(kind string) error {
	msg := nats.NewMsg(t.presenceSubject())
	msg.Header.Set(headerFrom, t.cfg.PeerID)
	msg.Header.Set(headerPresence, kind)
	if err := t.nc.PublishMsg(msg); err != nil {
		return err
	}
	return t.nc.Flush()
}

func (t *Transport) unsubscribe() {
	for _, sub := range t.subs {
		if err := sub.Unsubscribe(); err != nil {
			t.logger.Debug("unsubscribe failed", zap.String("subject", sub.Subject), zap.Error(err))
		}
	}
	t.subs = nil
}

func (t *Transport) roomSubject() string {
	return RoomSubject(t.cfg.Prefix, t.cfg.Room)
}

func (t *Transport) peerSubject(peer string) string {
	return t.roomSubject() + ".peer." + peer
}

func (t *Transport) presenceSubject() string {
	return t.roomSubject() + ".presence"
}

// RoomSubject is the broadcast subject for room under prefix.
func RoomSubject(prefix, room string) string {
	return prefix + "." + room
}

// validateToken rejects ids that would change the subject hierarchy.
func validateToken(tok string) error {
	if tok == "" || strings.ContainsAny(tok, ".*> \t\r\n") {
		return fmt.Errorf("natsbus: invalid subject token %q", tok)
	}
	return nil
}
