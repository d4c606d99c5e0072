package protocol

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/crazyremix/remix-server/internal/game"
	"github.com/crazyremix/remix-server/internal/lobby"
	"github.com/crazyremix/remix-server/internal/store"
	"github.com/crazyremix/remix-server/internal/transport"
	"go.uber.org/zap"
)

var errNotSeated = errors.New("protocol: guest has no seat yet")

// Join handshake defaults: one try plus three retries, 10s each, 1s apart.
const (
	DefaultJoinAttempts   = 4
	DefaultAttemptTimeout = 10 * time.Second
	DefaultRetryDelay     = time.Second
)

// GuestConfig configures a Guest. Zero values take the defaults above.
type GuestConfig struct {
	Code           string
	Name           string
	Attempts       int
	AttemptTimeout time.Duration
	RetryDelay     time.Duration
	StoreTimeout   time.Duration
}

// Guest mirrors the host's state. It never runs the game machine; it sends
// intents and replaces its view with each accepted snapshot.
type Guest struct {
	logger *zap.Logger
	tr     transport.Transport
	rooms  store.RoomStore
	cfg    GuestConfig

	mu       sync.Mutex
	hostPeer string
	playerID int
	players  []string
	last     *game.Snapshot

	joined     chan struct{}
	joinedOnce sync.Once

	states       transport.Listeners[game.Snapshot]
	lobbyChanges transport.Listeners[[]string]
	notices      transport.Listeners[Notice]

	closeOnce   sync.Once
	unsubscribe []func()
}

// NewGuest attaches to tr. Handlers are registered once, here, and live
// until Close. rooms may be nil; it is only used for late-join recovery.
func NewGuest(tr transport.Transport, rooms store.RoomStore, cfg GuestConfig, logger *zap.Logger) *Guest {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.Code = lobby.NormalizeCode(cfg.Code)
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultJoinAttempts
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = defaultStoreTimeout
	}

	g := &Guest{
		logger:   logger.With(zap.String("room_code", cfg.Code), zap.String("role", "guest"), zap.String("peer_id", tr.PeerID())),
		tr:       tr,
		rooms:    rooms,
		cfg:      cfg,
		playerID: -1,
		joined:   make(chan struct{}),
	}
	g.unsubscribe = []func(){
		tr.Subscribe(g.handle),
		tr.OnPeerLeave(g.peerLeft),
	}
	return g
}

// PlayerID is the seat the host assigned, or -1.
func (g *Guest) PlayerID() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.playerID
}

// Players returns the last player list received.
func (g *Guest) Players() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.players...)
}

// HostPeer is the transport id of the host, once known.
func (g *Guest) HostPeer() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.hostPeer
}

// Snapshot returns the newest accepted snapshot.
func (g *Guest) Snapshot() (game.Snapshot, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.last == nil {
		return game.Snapshot{}, false
	}
	return *g.last, true
}

// Joined is closed once the host has answered the handshake.
func (g *Guest) Joined() <-chan struct{} { return g.joined }

// OnState registers a listener for every snapshot the guest accepts.
func (g *Guest) OnState(fn func(game.Snapshot)) func() { return g.states.Add(fn) }

// OnLobby registers a listener for player list updates.
func (g *Guest) OnLobby(fn func([]string)) func() { return g.lobbyChanges.Add(fn) }

// OnNotice registers a listener for join, send and host-left failures.
func (g *Guest) OnNotice(fn func(Notice)) func() { return g.notices.Add(fn) }

// Join recovers the stored snapshot if there is one, then asks the host for
// a seat until it answers or the attempts run out.
func (g *Guest) Join(ctx context.Context) error {
	if err := g.recover(ctx); err != nil {
		g.notices.Publish(Notice{Kind: NoticeJoinFailed, Text: fmt.Sprintf("Room %s not found.", g.cfg.Code), Err: err})
		return fmt.Errorf("join %s: %w", g.cfg.Code, err)
	}

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		if err := g.sendToHost(ctx, joinRequest(g.cfg.Name)); err != nil {
			if errors.Is(err, transport.ErrClosed) {
				return struct{}{}, backoff.Permanent(err)
			}
			g.logger.Debug("join request not sent", zap.Int("attempt", attempt), zap.Error(err))
			return struct{}{}, err
		}

		timer := time.NewTimer(g.cfg.AttemptTimeout)
		defer timer.Stop()
		select {
		case <-g.joined:
			return struct{}{}, nil
		case <-timer.C:
			g.logger.Warn("join attempt timed out", zap.Int("attempt", attempt), zap.Int("attempts", g.cfg.Attempts))
			return struct{}{}, ErrJoinTimeout
		case <-ctx.Done():
			return struct{}{}, backoff.Permanent(ctx.Err())
		}
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(g.cfg.RetryDelay)),
		backoff.WithMaxTries(uint(g.cfg.Attempts)),
		backoff.WithMaxElapsedTime(0),
	)
	if err != nil {
		g.notices.Publish(Notice{Kind: NoticeJoinFailed, Text: "Could not reach the host.", Err: err})
		if errors.Is(err, ErrJoinTimeout) {
			return fmt.Errorf("join %s after %d attempts: %w", g.cfg.Code, attempt, ErrJoinTimeout)
		}
		return fmt.Errorf("join %s: %w", g.cfg.Code, err)
	}
	g.logger.Info("joined room", zap.Int("player_id", g.PlayerID()), zap.Int("attempts", attempt))
	return nil
}

// Act sends an intent for this guest's seat to the host, tagged with the
// snapshot it was chosen on so the host can drop repeats. If the view was
// stale the host drops the intent and answers with its current snapshot.
func (g *Guest) Act(ctx context.Context, in game.Intent) error {
	g.mu.Lock()
	seat := g.playerID
	var seq uint64
	if g.last != nil {
		seq = g.last.Seq
	}
	g.mu.Unlock()

	if seat < 0 {
		return errNotSeated
	}
	in.Player = seat
	if err := g.sendToHost(ctx, action(in, seq)); err != nil {
		g.notices.Publish(Notice{Kind: NoticeSendFailed, Text: "Could not send your move.", Err: err})
		return err
	}
	return nil
}

// Resync repeats the join request. A seated guest gets the current player
// list and snapshot back, which recovers from lost STATE_UPDATEs.
func (g *Guest) Resync(ctx context.Context) error {
	return g.sendToHost(ctx, joinRequest(g.cfg.Name))
}

// Close detaches from the transport. The transport itself stays open.
func (g *Guest) Close() error {
	g.closeOnce.Do(func() {
		for _, unsub := range g.unsubscribe {
			unsub()
		}
	})
	return nil
}

// recover reads the room from the store, learning the host's peer id and
// applying the stored snapshot once. A missing store entry is fatal; an
// unreachable store is not, since the store is only eventually consistent.
func (g *Guest) recover(ctx context.Context) error {
	if g.rooms == nil {
		return nil
	}
	sctx, cancel := context.WithTimeout(ctx, g.cfg.StoreTimeout)
	defer cancel()

	room, err := g.rooms.GetRoomByCode(sctx, g.cfg.Code)
	if errors.Is(err, store.ErrRoomNotFound) {
		return err
	}
	if err != nil {
		g.logger.Warn("room lookup failed, joining without recovery", zap.Error(err))
		return nil
	}

	g.mu.Lock()
	g.hostPeer = room.HostPeer
	g.mu.Unlock()

	if room.LastState != nil && g.accept(*room.LastState) {
		g.logger.Info("recovered stored snapshot", zap.Uint64("seq", room.LastState.Seq))
	}
	return nil
}

func (g *Guest) sendToHost(ctx context.Context, m Message) error {
	raw, err := Encode(m)
	if err != nil {
		return err
	}
	to := g.HostPeer()
	if to == "" {
		to = transport.Broadcast
	}
	return g.tr.Send(ctx, to, raw)
}

func (g *Guest) handle(env transport.Envelope) {
	msg, err := Decode(env.Data)
	if err != nil {
		g.logger.Debug("dropping frame", zap.String("from", env.From), zap.Error(err))
		return
	}

	switch msg.Type {
	case TypeAction:
		g.logger.Debug("dropping action", zap.String("from", env.From), zap.Error(ErrNotHost))
		return
	case TypeJoinRequest:
		return
	}

	if !g.fromHost(env.From) {
		g.logger.Warn("dropping message from non-host peer", zap.String("from", env.From), zap.String("type", string(msg.Type)))
		return
	}

	switch msg.Type {
	case TypePlayerListUpdate:
		g.updatePlayers(msg.Players, msg.NewPlayerPeer, msg.NewPlayerID)
	case TypeGameStart:
		g.updatePlayers(msg.Players, "", 0)
		g.accept(*msg.Snapshot)
		g.markJoined()
	case TypeStateUpdate:
		if g.accept(*msg.Snapshot) {
			g.markJoined()
		}
	}
}

// fromHost adopts the first peer that answers when the host is unknown.
func (g *Guest) fromHost(peer string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.hostPeer == "" {
		g.hostPeer = peer
		return true
	}
	return g.hostPeer == peer
}

func (g *Guest) updatePlayers(players []string, newPeer string, newID int) {
	g.mu.Lock()
	g.players = append([]string(nil), players...)
	mine := newPeer != "" && newPeer == g.tr.PeerID()
	if mine {
		g.playerID = newID
	}
	g.mu.Unlock()

	if mine {
		g.markJoined()
	}
	g.lobbyChanges.Publish(append([]string(nil), players...))
}

// accept replaces the view with snap if it verifies and is newer than the
// one held. An equal seq is a repeat and changes nothing.
func (g *Guest) accept(snap game.Snapshot) bool {
	if !snap.Verify() {
		g.logger.Warn("dropping snapshot with bad checksum", zap.Uint64("seq", snap.Seq))
		return false
	}
	g.mu.Lock()
	if g.last != nil && snap.Seq <= g.last.Seq {
		held := g.last.Seq
		g.mu.Unlock()
		if snap.Seq < held {
			g.logger.Debug("dropping stale snapshot", zap.Uint64("seq", snap.Seq), zap.Uint64("held_seq", held))
		}
		return false
	}
	g.last = &snap
	g.mu.Unlock()

	g.states.Publish(snap)
	return true
}

func (g *Guest) markJoined() {
	g.joinedOnce.Do(func() { close(g.joined) })
}

func (g *Guest) peerLeft(peer string) {
	if peer != g.HostPeer() {
		return
	}
	g.logger.Warn("host disconnected")
	g.notices.Publish(Notice{Kind: NoticePeerLeft, Text: "The host left the game."})
}
