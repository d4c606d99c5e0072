// Package store defines the room store the host persists snapshots to and
// late joiners recover from. Implementations are eventually consistent;
// callers never rely on reading their own writes.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/crazyremix/remix-server/internal/game"
)

var (
	ErrRoomNotFound = errors.New("store: room not found")
	ErrCodeTaken    = errors.New("store: room code already in use")
)

// Room is one hosted table. LastState is nil until the host persists a
// snapshot.
type Room struct {
	ID        string         `json:"id"`
	Code      string         `json:"code"`
	HostPeer  string         `json:"hostPeer"`
	LastState *game.Snapshot `json:"lastState,omitempty"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// RoomStore is the persistence contract. UpdateRoomState ignores a snapshot
// older than the one already stored.
type RoomStore interface {
	CreateRoom(ctx context.Context, code, hostPeer string) (string, error)
	GetRoomByCode(ctx context.Context, code string) (Room, error)
	UpdateRoomState(ctx context.Context, id string, snap game.Snapshot) error
	Close() error
}
