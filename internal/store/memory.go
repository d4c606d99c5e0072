package store

import (
	"context"
	"sync"
	"time"

	"github.com/crazyremix/remix-server/internal/game"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MemoryStore keeps rooms in process. It backs the relay server by default
// and the protocol tests.
type MemoryStore struct {
	logger *zap.Logger

	mu     sync.RWMutex
	rooms  map[string]*Room
	byCode map[string]string
}

var _ RoomStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		logger: logger,
		rooms:  make(map[string]*Room),
		byCode: make(map[string]string),
	}
}

func (s *MemoryStore) CreateRoom(ctx context.Context, code, hostPeer string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byCode[code]; ok {
		return "", ErrCodeTaken
	}
	id := uuid.NewString()
	s.rooms[id] = &Room{ID: id, Code: code, HostPeer: hostPeer, UpdatedAt: time.Now().UTC()}
	s.byCode[code] = id

	s.logger.Info("room created", zap.String("room_id", id), zap.String("room_code", code))
	return id, nil
}

func (s *MemoryStore) GetRoomByCode(ctx context.Context, code string) (Room, error) {
	if err := ctx.Err(); err != nil {
		return Room{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byCode[code]
	if !ok {
		return Room{}, ErrRoomNotFound
	}
	room := *s.rooms[id]
	if room.LastState != nil {
		snap := *room.LastState
		room.LastState = &snap
	}
	return room, nil
}

func (s *MemoryStore) UpdateRoomState(ctx context.Context, id string, snap game.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[id]
	if !ok {
		return ErrRoomNotFound
	}
	if room.LastState != nil && room.LastState.Seq > snap.Seq {
		s.logger.Debug("stale snapshot ignored",
			zap.String("room_id", id),
			zap.Uint64("seq", snap.Seq),
			zap.Uint64("stored_seq", room.LastState.Seq),
		)
		return nil
	}
	room.LastState = &snap
	room.UpdatedAt = time.Now().UTC()
	return nil
}

// Count returns the number of rooms.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}

func (s *MemoryStore) Close() error { return nil }
