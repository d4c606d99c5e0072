// Package storetest runs the same contract checks against every RoomStore.
package storetest

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/crazyremix/remix-server/internal/game"
	"github.com/crazyremix/remix-server/internal/lobby"
	"github.com/crazyremix/remix-server/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Snapshot deals a real match so stored states carry full decks.
func Snapshot(t *testing.T, seq uint64) game.Snapshot {
	t.Helper()
	m := game.NewMachine(rand.New(rand.NewPCG(seq, 1)))
	state, err := m.Initialize([]string{lobby.HostName, "Guest"})
	require.NoError(t, err)
	return game.NewSnapshot(seq, state)
}

// Run exercises s; it must start empty.
func Run(t *testing.T, s store.RoomStore) {
	ctx := context.Background()

	t.Run("create and fetch", func(t *testing.T) {
		code := lobby.NewRoomCode()
		id, err := s.CreateRoom(ctx, code, "host-peer")
		require.NoError(t, err)
		require.NotEmpty(t, id)

		room, err := s.GetRoomByCode(ctx, code)
		require.NoError(t, err)
		assert.Equal(t, id, room.ID)
		assert.Equal(t, code, room.Code)
		assert.Equal(t, "host-peer", room.HostPeer)
		assert.Nil(t, room.LastState)
	})

	t.Run("duplicate code", func(t *testing.T) {
		code := lobby.NewRoomCode()
		_, err := s.CreateRoom(ctx, code, "a")
		require.NoError(t, err)
		_, err = s.CreateRoom(ctx, code, "b")
		assert.ErrorIs(t, err, store.ErrCodeTaken)
	})

	t.Run("missing room", func(t *testing.T) {
		_, err := s.GetRoomByCode(ctx, "NOPE99")
		assert.ErrorIs(t, err, store.ErrRoomNotFound)
		err = s.UpdateRoomState(ctx, "00000000-0000-0000-0000-000000000000", Snapshot(t, 1))
		assert.ErrorIs(t, err, store.ErrRoomNotFound)
	})

	t.Run("state updates are monotonic", func(t *testing.T) {
		code := lobby.NewRoomCode()
		id, err := s.CreateRoom(ctx, code, "host-peer")
		require.NoError(t, err)

		second := Snapshot(t, 2)
		require.NoError(t, s.UpdateRoomState(ctx, id, second))
		require.NoError(t, s.UpdateRoomState(ctx, id, Snapshot(t, 1)))

		room, err := s.GetRoomByCode(ctx, code)
		require.NoError(t, err)
		require.NotNil(t, room.LastState)
		assert.Equal(t, uint64(2), room.LastState.Seq)
		assert.Equal(t, second.Checksum, room.LastState.Checksum)
		assert.True(t, room.LastState.Verify())
		assert.Equal(t, 52, room.LastState.State.CardCount())

		third := Snapshot(t, 3)
		require.NoError(t, s.UpdateRoomState(ctx, id, third))
		room, err = s.GetRoomByCode(ctx, code)
		require.NoError(t, err)
		assert.Equal(t, uint64(3), room.LastState.Seq)
	})
}
