package protocol

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/crazyremix/remix-server/internal/bot"
	"github.com/crazyremix/remix-server/internal/game"
	"github.com/crazyremix/remix-server/internal/lobby"
	"github.com/crazyremix/remix-server/internal/store"
	"github.com/crazyremix/remix-server/internal/transport"
	"github.com/crazyremix/remix-server/internal/transport/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

const room = "ROOM42"

func testLogger(t *testing.T) *zap.Logger {
	// Transport goroutines can still be unwinding during cleanup.
	return zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel))
}

func newTestHost(t *testing.T, bus *memory.Bus, rooms store.RoomStore) *Host {
	t.Helper()
	ep := bus.Join(room, "host")
	h, err := NewHost(context.Background(), ep, rooms, HostConfig{
		Code:    room,
		Machine: game.NewMachine(rand.New(rand.NewPCG(3, 4))),
	}, testLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		h.Close()
		ep.Close()
	})
	return h
}

func newTestGuest(t *testing.T, bus *memory.Bus, rooms store.RoomStore, peer, name string) (*Guest, *memory.Endpoint) {
	t.Helper()
	ep := bus.Join(room, peer)
	g := NewGuest(ep, rooms, GuestConfig{
		Code:           room,
		Name:           name,
		AttemptTimeout: 200 * time.Millisecond,
		RetryDelay:     10 * time.Millisecond,
	}, testLogger(t))
	t.Cleanup(func() {
		g.Close()
		ep.Close()
	})
	return g, ep
}

func joinGuest(t *testing.T, bus *memory.Bus, rooms store.RoomStore, peer, name string) *Guest {
	t.Helper()
	g, _ := newTestGuest(t, bus, rooms, peer, name)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, g.Join(ctx))
	return g
}

// play drives bots for every seat until the host reports a winner or
// maxSteps moves were made, and returns the host's last snapshot. Remote
// seats act through their Guest; lost frames are recovered by resending
// (the host drops repeats by seq) and by Resync.
func play(t *testing.T, h *Host, guests map[int]*Guest, maxSteps int) game.Snapshot {
	t.Helper()
	ctx := context.Background()

	for step := 0; step < maxSteps; step++ {
		snap := h.Snapshot()
		if snap.State.Finished() {
			return snap
		}
		seat := snap.State.ActivePlayerIndex
		in, ok := bot.FirstLegal(snap.State, seat)
		require.True(t, ok)

		if seat == 0 {
			_, err := h.Act(in)
			require.NoError(t, err)
			continue
		}
		g := guests[seat]
		require.Eventually(t, func() bool {
			if h.Snapshot().Seq > snap.Seq {
				return true
			}
			if view, ok := g.Snapshot(); !ok || view.Seq < snap.Seq {
				_ = g.Resync(ctx)
				return false
			}
			_ = g.Act(ctx, in)
			return false
		}, 3*time.Second, 5*time.Millisecond, "seat %d never got %s through", seat, in)
	}
	return h.Snapshot()
}

func waitForSeq(t *testing.T, g *Guest, seq uint64) {
	t.Helper()
	require.Eventually(t, func() bool {
		view, ok := g.Snapshot()
		if ok && view.Seq >= seq {
			return true
		}
		_ = g.Resync(context.Background())
		return false
	}, 3*time.Second, 10*time.Millisecond)
}

func TestLobbyAssignsSequentialSeats(t *testing.T) {
	bus := memory.NewBus(testLogger(t))
	h := newTestHost(t, bus, nil)

	var (
		mu      sync.Mutex
		changes [][]string
	)
	h.OnLobby(func(players []string) {
		mu.Lock()
		changes = append(changes, players)
		mu.Unlock()
	})

	bea := joinGuest(t, bus, nil, "peer-bea", "Bea")
	cy := joinGuest(t, bus, nil, "peer-cy", "bea")

	assert.Equal(t, 1, bea.PlayerID())
	assert.Equal(t, 2, cy.PlayerID())
	assert.Equal(t, "host", bea.HostPeer())
	assert.Equal(t, []string{lobby.HostName, "Bea", "bea (2)"}, h.Players())
	assert.Eventually(t, func() bool { return len(bea.Players()) == 3 }, time.Second, 5*time.Millisecond)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(changes) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestRetriedJoinKeepsSeat(t *testing.T) {
	bus := memory.NewBus(testLogger(t))
	h := newTestHost(t, bus, nil)
	g := joinGuest(t, bus, nil, "peer-bea", "Bea")

	require.NoError(t, g.Resync(context.Background()))
	require.NoError(t, g.Resync(context.Background()))

	assert.Never(t, func() bool { return len(h.Players()) != 2 }, 100*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, 1, g.PlayerID())
}

func TestStartNeedsTwoPlayers(t *testing.T) {
	bus := memory.NewBus(testLogger(t))
	h := newTestHost(t, bus, nil)

	_, err := h.Start()
	assert.ErrorIs(t, err, lobby.ErrNotEnoughPlayers)

	_, err = h.Act(game.Draw(0))
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestMatchReplicatesToGuests(t *testing.T) {
	bus := memory.NewBus(testLogger(t))
	h := newTestHost(t, bus, nil)
	bea := joinGuest(t, bus, nil, "peer-bea", "Bea")
	cy := joinGuest(t, bus, nil, "peer-cy", "Cy")

	start, err := h.Start()
	require.NoError(t, err)
	assert.Equal(t, 3, len(start.State.Players))
	waitForSeq(t, bea, start.Seq)
	waitForSeq(t, cy, start.Seq)
	assert.Equal(t, h.Players(), cy.Players())

	final := play(t, h, map[int]*Guest{1: bea, 2: cy}, 2000)
	require.NotEmpty(t, final.State.Winner)

	for _, g := range []*Guest{bea, cy} {
		waitForSeq(t, g, final.Seq)
		view, _ := g.Snapshot()
		assert.Equal(t, final.Checksum, view.Checksum)
		assert.Equal(t, final.State, view.State)
	}
}

func TestHostDropsActionsFromOtherSeats(t *testing.T) {
	bus := memory.NewBus(testLogger(t))
	h := newTestHost(t, bus, nil)
	bea, ep := newTestGuest(t, bus, nil, "peer-bea", "Bea")
	require.NoError(t, bea.Join(context.Background()))

	start, err := h.Start()
	require.NoError(t, err)
	require.Equal(t, 0, start.State.ActivePlayerIndex)
	waitForSeq(t, bea, start.Seq)

	// Bea is seat 1 but claims seat 0 in the payload.
	forged, err := Encode(action(game.Draw(0), start.Seq))
	require.NoError(t, err)
	require.NoError(t, ep.Send(context.Background(), "host", forged))

	// An unseated peer is ignored as well.
	stranger := bus.Join(room, "stranger")
	defer stranger.Close()
	require.NoError(t, stranger.Send(context.Background(), "host", forged))

	assert.Never(t, func() bool { return h.Snapshot().Seq != start.Seq }, 150*time.Millisecond, 10*time.Millisecond)
}

func TestDuplicateActionsApplyOnce(t *testing.T) {
	bus := memory.NewBus(testLogger(t), memory.WithDuplicates())
	h := newTestHost(t, bus, nil)
	bea := joinGuest(t, bus, nil, "peer-bea", "Bea")

	start, err := h.Start()
	require.NoError(t, err)
	in, _ := bot.FirstLegal(start.State, 0)
	moved, err := h.Act(in)
	require.NoError(t, err)
	waitForSeq(t, bea, moved.Seq)

	if moved.State.ActivePlayerIndex != 1 || moved.State.TurnState != game.TurnPlaying {
		t.Skip("opening move left no plain turn for the guest with this seed")
	}
	// A draw keeps the turn, so only the seq check stops the duplicate.
	require.NoError(t, bea.Act(context.Background(), game.Draw(1)))
	require.Eventually(t, func() bool { return h.Snapshot().Seq == moved.Seq+1 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return h.Snapshot().Seq != moved.Seq+1 }, 100*time.Millisecond, 10*time.Millisecond)

	hand := len(h.Snapshot().State.Players[1].Hand)
	assert.Equal(t, len(moved.State.Players[1].Hand)+1, hand)
}

func TestMatchSurvivesLossyTransport(t *testing.T) {
	bus := memory.NewBus(testLogger(t), memory.WithDropEvery(5), memory.WithDuplicates())
	h := newTestHost(t, bus, nil)
	bea := joinGuest(t, bus, nil, "peer-bea", "Bea")

	start, err := h.Start()
	require.NoError(t, err)
	waitForSeq(t, bea, start.Seq)

	final := play(t, h, map[int]*Guest{1: bea}, 2000)
	require.NotEmpty(t, final.State.Winner)
	waitForSeq(t, bea, final.Seq)
	view, _ := bea.Snapshot()
	assert.Equal(t, final.Checksum, view.Checksum)
}

func TestGuestFiltersSnapshots(t *testing.T) {
	bus := memory.NewBus(testLogger(t))
	fakeHost := bus.Join(room, "host")
	defer fakeHost.Close()
	g, _ := newTestGuest(t, bus, nil, "peer-bea", "Bea")

	var (
		mu   sync.Mutex
		seen []uint64
	)
	g.OnState(func(s game.Snapshot) {
		mu.Lock()
		seen = append(seen, s.Seq)
		mu.Unlock()
	})

	m := game.NewMachine(rand.New(rand.NewPCG(5, 6)))
	state, err := m.Initialize([]string{lobby.HostName, "Bea"})
	require.NoError(t, err)

	send := func(from *memory.Endpoint, snap game.Snapshot) {
		raw, err := Encode(stateUpdate(snap))
		require.NoError(t, err)
		require.NoError(t, from.Send(context.Background(), transport.Broadcast, raw))
	}

	second := game.NewSnapshot(2, state)
	send(fakeHost, second)
	send(fakeHost, second)
	send(fakeHost, game.NewSnapshot(1, state))

	tampered := game.NewSnapshot(3, state)
	tampered.State.ActivePlayerIndex = 1
	send(fakeHost, tampered)

	impostor := bus.Join(room, "impostor")
	defer impostor.Close()
	send(impostor, game.NewSnapshot(4, state))

	require.Eventually(t, func() bool {
		view, ok := g.Snapshot()
		return ok && view.Seq == 2
	}, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool {
		view, _ := g.Snapshot()
		return view.Seq != 2
	}, 100*time.Millisecond, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []uint64{2}, seen, "a repeated snapshot is applied once")
	mu.Unlock()
	assert.Equal(t, "host", g.HostPeer())
}

func TestGuestIgnoresActions(t *testing.T) {
	bus := memory.NewBus(testLogger(t))
	g, _ := newTestGuest(t, bus, nil, "peer-bea", "Bea")
	other := bus.Join(room, "peer-cy")
	defer other.Close()

	raw, err := Encode(action(game.Draw(0), 0))
	require.NoError(t, err)
	require.NoError(t, other.Send(context.Background(), transport.Broadcast, raw))

	assert.Never(t, func() bool { return g.HostPeer() != "" }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestJoinTimesOutWithoutHost(t *testing.T) {
	bus := memory.NewBus(testLogger(t))
	ep := bus.Join(room, "peer-bea")
	defer ep.Close()
	g := NewGuest(ep, nil, GuestConfig{
		Code:           room,
		Name:           "Bea",
		Attempts:       2,
		AttemptTimeout: 30 * time.Millisecond,
		RetryDelay:     5 * time.Millisecond,
	}, testLogger(t))
	defer g.Close()

	notices := make(chan Notice, 4)
	g.OnNotice(func(n Notice) { notices <- n })

	err := g.Join(context.Background())
	require.ErrorIs(t, err, ErrJoinTimeout)
	assert.Contains(t, err.Error(), "after 2 attempts")

	select {
	case n := <-notices:
		assert.Equal(t, NoticeJoinFailed, n.Kind)
	default:
		t.Fatal("no notice for the failed join")
	}
}

func TestJoinRetriesUntilHostAppears(t *testing.T) {
	bus := memory.NewBus(testLogger(t))
	ep := bus.Join(room, "peer-bea")
	defer ep.Close()
	g := NewGuest(ep, nil, GuestConfig{
		Code:           room,
		Name:           "Bea",
		AttemptTimeout: 40 * time.Millisecond,
		RetryDelay:     5 * time.Millisecond,
	}, testLogger(t))
	defer g.Close()

	hosted := make(chan *Host, 1)
	go func() {
		time.Sleep(60 * time.Millisecond)
		h, err := NewHost(context.Background(), bus.Join(room, "host"), nil, HostConfig{
			Code:    room,
			Machine: game.NewMachine(rand.New(rand.NewPCG(3, 4))),
		}, testLogger(t))
		if err != nil {
			close(hosted)
			return
		}
		hosted <- h
	}()

	require.NoError(t, g.Join(context.Background()))
	assert.Equal(t, 1, g.PlayerID())
	if h, ok := <-hosted; ok {
		h.Close()
	}
}

func TestJoinUnknownRoomFails(t *testing.T) {
	bus := memory.NewBus(testLogger(t))
	rooms := store.NewMemoryStore(testLogger(t))
	g, _ := newTestGuest(t, bus, rooms, "peer-bea", "Bea")

	err := g.Join(context.Background())
	assert.ErrorIs(t, err, store.ErrRoomNotFound)
}

func TestLateJoinerRecoversStoredSnapshot(t *testing.T) {
	bus := memory.NewBus(testLogger(t))
	rooms := store.NewMemoryStore(testLogger(t))
	h := newTestHost(t, bus, rooms)
	bea := joinGuest(t, bus, rooms, "peer-bea", "Bea")

	_, err := h.Start()
	require.NoError(t, err)
	play(t, h, map[int]*Guest{1: bea}, 6)

	// Close flushes the newest snapshot to the store.
	want := h.Snapshot()
	require.NoError(t, h.Close())

	stored, err := rooms.GetRoomByCode(context.Background(), room)
	require.NoError(t, err)
	require.NotNil(t, stored.LastState)
	assert.Equal(t, want.Seq, stored.LastState.Seq)

	late, _ := newTestGuest(t, bus, rooms, "peer-late", "Late")
	err = late.Join(context.Background())
	require.ErrorIs(t, err, ErrJoinTimeout, "the host is gone, only the store answers")

	view, ok := late.Snapshot()
	require.True(t, ok)
	assert.Equal(t, want.Seq, view.Seq)
	assert.Equal(t, want.Checksum, view.Checksum)
	assert.Equal(t, "host", late.HostPeer())
}

func TestLateJoinerSpectatesRunningMatch(t *testing.T) {
	bus := memory.NewBus(testLogger(t))
	h := newTestHost(t, bus, nil)
	joinGuest(t, bus, nil, "peer-bea", "Bea")

	start, err := h.Start()
	require.NoError(t, err)

	late := joinGuest(t, bus, nil, "peer-late", "Late")
	assert.Equal(t, -1, late.PlayerID())
	view, ok := late.Snapshot()
	require.True(t, ok)
	assert.Equal(t, start.Seq, view.Seq)
	assert.Len(t, h.Players(), 2)
}

func TestHostReportsGuestLeaving(t *testing.T) {
	bus := memory.NewBus(testLogger(t))
	h := newTestHost(t, bus, nil)
	notices := make(chan Notice, 1)
	h.OnNotice(func(n Notice) { notices <- n })

	g, ep := newTestGuest(t, bus, nil, "peer-bea", "Bea")
	require.NoError(t, g.Join(context.Background()))
	g.Close()
	ep.Close()

	select {
	case n := <-notices:
		assert.Equal(t, NoticePeerLeft, n.Kind)
		assert.Contains(t, n.Text, "Bea")
	case <-time.After(time.Second):
		t.Fatal("no notice")
	}
}

func TestDecodeRejectsIncompleteMessages(t *testing.T) {
	for _, raw := range []string{
		`not json`,
		`{"type":"WHAT"}`,
		`{"type":"ACTION"}`,
		`{"type":"STATE_UPDATE"}`,
		`{"type":"PLAYER_LIST_UPDATE","players":[]}`,
	} {
		_, err := Decode([]byte(raw))
		assert.Error(t, err, raw)
	}

	m, err := Decode([]byte(`{"type":"ACTION","intent":{"kind":"DRAW","player":1},"seq":7}`))
	require.NoError(t, err)
	assert.Equal(t, game.IntentDraw, m.Intent.Kind)
	assert.Equal(t, uint64(7), m.Seq)

	raw, err := json.Marshal(joinRequest("Bea"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"JOIN_REQUEST","name":"Bea"}`, string(raw))
}

func TestStaleActionBringsGuestCurrent(t *testing.T) {
	bus := memory.NewBus(testLogger(t))
	h := newTestHost(t, bus, nil)
	bea := joinGuest(t, bus, nil, "peer-bea", "Bea")
	ctx := context.Background()

	start, err := h.Start()
	require.NoError(t, err)
	in, _ := bot.FirstLegal(start.State, 0)
	moved, err := h.Act(in)
	require.NoError(t, err)
	waitForSeq(t, bea, moved.Seq)

	if moved.State.ActivePlayerIndex != 1 || moved.State.TurnState != game.TurnPlaying {
		t.Skip("opening move left no plain turn for the guest with this seed")
	}
	require.NoError(t, bea.Act(ctx, game.Draw(1)))
	require.Eventually(t, func() bool { return h.Snapshot().Seq == moved.Seq+1 }, time.Second, 5*time.Millisecond)
	drawn := h.Snapshot()
	require.Equal(t, 1, drawn.State.ActivePlayerIndex)
	waitForSeq(t, bea, drawn.Seq)

	// Bea lost the update that followed her draw.
	before := moved
	bea.mu.Lock()
	bea.last = &before
	bea.mu.Unlock()

	next, ok := bot.FirstLegal(drawn.State, 1)
	require.True(t, ok)
	require.NoError(t, bea.Act(ctx, next))
	require.Eventually(t, func() bool {
		view, ok := bea.Snapshot()
		return ok && view.Seq == drawn.Seq
	}, time.Second, 5*time.Millisecond, "host never resent its snapshot")
	assert.Equal(t, drawn.Seq, h.Snapshot().Seq, "an intent on a stale view must not apply")

	require.NoError(t, bea.Act(ctx, next))
	require.Eventually(t, func() bool { return h.Snapshot().Seq == drawn.Seq+1 }, time.Second, 5*time.Millisecond)
}
