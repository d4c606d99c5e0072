package protocol

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/crazyremix/remix-server/internal/game"
	"github.com/crazyremix/remix-server/internal/lobby"
	"github.com/crazyremix/remix-server/internal/store"
	"github.com/crazyremix/remix-server/internal/transport"
	"go.uber.org/zap"
)

// ErrNotStarted is returned by Host.Act before the match was dealt.
var ErrNotStarted = errors.New("protocol: match not started")

const defaultStoreTimeout = 5 * time.Second

// HostConfig configures a Host. An empty Code gets a fresh room code.
type HostConfig struct {
	Code         string
	Machine      *game.Machine
	Recorder     *game.ReplayRecorder
	StoreTimeout time.Duration
}

// Host is the single writer of a room. Inbound frames and local calls are
// queued onto one event loop, so lobby joins and intents apply strictly in
// the order they arrive.
type Host struct {
	logger       *zap.Logger
	tr           transport.Transport
	rooms        store.RoomStore
	lobby        *lobby.Lobby
	engine       *game.Engine
	roomID       string
	storeTimeout time.Duration

	events chan func()
	// peers maps transport peer ids to seats; owned by the event loop.
	peers map[string]int

	states       transport.Listeners[game.Snapshot]
	lobbyChanges transport.Listeners[[]string]
	notices      transport.Listeners[Notice]

	persistMu   sync.Mutex
	persistNext *game.Snapshot
	persistKick chan struct{}

	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	closeOnce   sync.Once
	unsubscribe []func()
}

// NewHost opens a room on tr. When rooms is non-nil the room is registered
// there first; ctx bounds only that call. A failure abandons hosting.
func NewHost(ctx context.Context, tr transport.Transport, rooms store.RoomStore, cfg HostConfig, logger *zap.Logger) (*Host, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Machine == nil {
		return nil, errors.New("protocol: host needs a game machine")
	}
	code := lobby.NormalizeCode(cfg.Code)
	if code == "" {
		code = lobby.NewRoomCode()
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = defaultStoreTimeout
	}
	logger = logger.With(zap.String("room_code", code), zap.String("role", "host"))

	h := &Host{
		logger:       logger,
		tr:           tr,
		rooms:        rooms,
		lobby:        lobby.New(code, logger),
		engine:       game.NewEngine(code, cfg.Machine, cfg.Recorder, logger),
		storeTimeout: cfg.StoreTimeout,
		events:       make(chan func(), 64),
		peers:        make(map[string]int),
		persistKick:  make(chan struct{}, 1),
	}

	if rooms != nil {
		sctx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
		id, err := rooms.CreateRoom(sctx, code, tr.PeerID())
		cancel()
		if err != nil {
			return nil, fmt.Errorf("create room %s: %w", code, err)
		}
		h.roomID = id
	}

	h.ctx, h.cancel = context.WithCancel(context.Background())
	h.unsubscribe = []func(){
		tr.Subscribe(func(env transport.Envelope) {
			h.post(func() { h.handle(env) })
		}),
		tr.OnPeerLeave(func(peer string) {
			h.post(func() { h.peerLeft(peer) })
		}),
	}

	h.wg.Add(2)
	go h.loop()
	go h.persistLoop()

	logger.Info("hosting room", zap.String("peer_id", tr.PeerID()), zap.String("room_id", h.roomID))
	return h, nil
}

// Code is the share code guests join with.
func (h *Host) Code() string { return h.lobby.Code() }

// RoomID is the store id, empty without a store.
func (h *Host) RoomID() string { return h.roomID }

// Players returns the seated names.
func (h *Host) Players() []string { return h.lobby.Players() }

// Snapshot returns the latest canonical snapshot.
func (h *Host) Snapshot() game.Snapshot { return h.engine.Snapshot() }

// OnState registers a listener for every committed snapshot.
func (h *Host) OnState(fn func(game.Snapshot)) func() { return h.states.Add(fn) }

// OnLobby registers a listener for membership changes.
func (h *Host) OnLobby(fn func([]string)) func() { return h.lobbyChanges.Add(fn) }

// OnNotice registers a listener for infrastructure failures.
func (h *Host) OnNotice(fn func(Notice)) func() { return h.notices.Add(fn) }

// Start closes the lobby, deals, and sends GAME_START to every guest.
func (h *Host) Start() (game.Snapshot, error) {
	var (
		snap game.Snapshot
		err  error
	)
	callErr := h.call(func() {
		var players []string
		players, err = h.lobby.Start()
		if err != nil {
			return
		}
		snap, err = h.engine.Start(players)
		if err != nil {
			return
		}
		h.broadcast(gameStart(snap, players))
		h.schedulePersist(snap)
		h.states.Publish(snap)
	})
	if callErr != nil {
		return game.Snapshot{}, callErr
	}
	return snap, err
}

// Act applies an intent for the host's own seat.
func (h *Host) Act(in game.Intent) (game.Snapshot, error) {
	var (
		snap game.Snapshot
		ok   bool
	)
	err := h.call(func() {
		in.Player = 0
		snap, ok = h.engine.Apply(in)
		h.commit(snap, ok)
	})
	if err != nil {
		return game.Snapshot{}, err
	}
	if !ok {
		return game.Snapshot{}, ErrNotStarted
	}
	return snap, nil
}

// Restart re-deals with the same seats.
func (h *Host) Restart() (game.Snapshot, error) {
	return h.Act(game.Intent{Kind: game.IntentRestart})
}

// Close stops the event loop, flushes the last snapshot to the store, and
// detaches from the transport. The transport itself stays open.
func (h *Host) Close() error {
	h.closeOnce.Do(func() {
		for _, unsub := range h.unsubscribe {
			unsub()
		}
		h.cancel()
		h.wg.Wait()
		h.logger.Info("stopped hosting")
	})
	return nil
}

func (h *Host) loop() {
	defer h.wg.Done()
	for {
		select {
		case fn := <-h.events:
			fn()
		case <-h.ctx.Done():
			return
		}
	}
}

func (h *Host) post(fn func()) bool {
	select {
	case h.events <- fn:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// call runs fn on the event loop and waits for it.
func (h *Host) call(fn func()) error {
	done := make(chan struct{})
	if !h.post(func() { fn(); close(done) }) {
		return transport.ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-h.ctx.Done():
		return transport.ErrClosed
	}
}

func (h *Host) handle(env transport.Envelope) {
	msg, err := Decode(env.Data)
	if err != nil {
		h.logger.Debug("dropping frame", zap.String("peer_id", env.From), zap.Error(err))
		return
	}
	switch msg.Type {
	case TypeJoinRequest:
		h.handleJoin(env.From, msg.Name)
	case TypeAction:
		h.handleAction(env.From, *msg.Intent, msg.Seq)
	default:
		h.logger.Debug("ignoring guest-bound message", zap.String("peer_id", env.From), zap.String("type", string(msg.Type)))
	}
}

func (h *Host) handleJoin(peer, name string) {
	if seat, ok := h.peers[peer]; ok {
		// Retried handshake: answer again, the first reply may have been lost.
		h.sendTo(peer, playerListUpdate(h.lobby.Players(), seat, peer))
		if h.engine.Started() {
			h.sendTo(peer, gameStart(h.engine.Snapshot(), h.engine.Players()))
		}
		return
	}

	id, err := h.lobby.Join(name)
	if err != nil {
		h.logger.Debug("join ignored", zap.String("peer_id", peer), zap.String("name", name), zap.Error(err))
		if h.engine.Started() {
			h.sendTo(peer, stateUpdate(h.engine.Snapshot()))
		}
		return
	}
	h.peers[peer] = id
	players := h.lobby.Players()
	h.broadcast(playerListUpdate(players, id, peer))
	h.lobbyChanges.Publish(players)
}

// handleAction applies a guest intent. baseSeq is the snapshot the guest
// chose it on; a mismatch means a duplicate or an intent chosen on a state
// that no longer exists. Such an intent is dropped and the peer gets the
// current snapshot, so a guest that missed an update can choose again.
// Zero skips the check.
func (h *Host) handleAction(peer string, in game.Intent, baseSeq uint64) {
	if !h.engine.Started() {
		h.logger.Debug("action before start dropped", zap.String("peer_id", peer))
		return
	}
	seat, ok := h.peers[peer]
	if !ok {
		h.logger.Warn("action from unseated peer dropped", zap.String("peer_id", peer))
		return
	}
	// The seat comes from the connection, never from the payload.
	in.Player = seat
	current := h.engine.Snapshot()
	if baseSeq != 0 && baseSeq != current.Seq {
		h.logger.Debug("stale action dropped",
			zap.Int("player_id", seat),
			zap.Uint64("seq", baseSeq),
			zap.Uint64("current_seq", current.Seq),
		)
		h.sendTo(peer, stateUpdate(current))
		return
	}
	if in.Kind != game.IntentRestart && seat != current.State.ActivePlayerIndex {
		h.logger.Debug("action from non-active player dropped",
			zap.Int("player_id", seat),
			zap.Stringer("intent", in),
		)
		return
	}
	h.commit(h.engine.Apply(in))
}

func (h *Host) commit(snap game.Snapshot, ok bool) {
	if !ok {
		return
	}
	h.broadcast(stateUpdate(snap))
	h.schedulePersist(snap)
	h.states.Publish(snap)
}

func (h *Host) peerLeft(peer string) {
	seat, ok := h.peers[peer]
	if !ok {
		return
	}
	name := fmt.Sprintf("Player %d", seat+1)
	if players := h.lobby.Players(); seat < len(players) {
		name = players[seat]
	}
	h.logger.Info("guest disconnected", zap.String("peer_id", peer), zap.Int("player_id", seat))
	h.notices.Publish(Notice{Kind: NoticePeerLeft, Text: name + " disconnected."})
}

func (h *Host) broadcast(m Message) {
	h.sendTo(transport.Broadcast, m)
}

func (h *Host) sendTo(to string, m Message) {
	raw, err := Encode(m)
	if err == nil {
		err = h.tr.Send(h.ctx, to, raw)
	}
	if err != nil {
		h.logger.Warn("send failed", zap.String("type", string(m.Type)), zap.String("to", to), zap.Error(err))
		h.notices.Publish(Notice{Kind: NoticeSendFailed, Text: fmt.Sprintf("Could not send %s.", m.Type), Err: err})
	}
}

// schedulePersist hands snap to the persister, replacing any snapshot it has
// not written yet.
func (h *Host) schedulePersist(snap game.Snapshot) {
	if h.rooms == nil {
		return
	}
	h.persistMu.Lock()
	if h.persistNext == nil || snap.Seq > h.persistNext.Seq {
		h.persistNext = &snap
	}
	h.persistMu.Unlock()

	select {
	case h.persistKick <- struct{}{}:
	default:
	}
}

func (h *Host) persistLoop() {
	defer h.wg.Done()
	if h.rooms == nil {
		<-h.ctx.Done()
		return
	}
	for {
		select {
		case <-h.persistKick:
			h.persist()
		case <-h.ctx.Done():
			h.persist()
			return
		}
	}
}

// persist writes the pending snapshot. It does not inherit the host's
// context so the final flush in Close still goes through.
func (h *Host) persist() {
	h.persistMu.Lock()
	snap := h.persistNext
	h.persistNext = nil
	h.persistMu.Unlock()
	if snap == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.storeTimeout)
	defer cancel()
	if err := h.rooms.UpdateRoomState(ctx, h.roomID, *snap); err != nil {
		h.logger.Warn("persisting snapshot failed", zap.Uint64("seq", snap.Seq), zap.Error(err))
		h.notices.Publish(Notice{Kind: NoticePersistFailed, Text: "Could not save the game.", Err: err})
		return
	}
	h.logger.Debug("snapshot persisted", zap.Uint64("seq", snap.Seq))
}
