// Package postgres stores rooms in PostgreSQL through a pgx pool. Snapshots
// are kept as JSONB.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/crazyremix/remix-server/internal/game"
	"github.com/crazyremix/remix-server/internal/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS rooms (
	id          TEXT PRIMARY KEY,
	code        TEXT NOT NULL UNIQUE,
	host_peer   TEXT NOT NULL,
	state_seq   BIGINT NOT NULL DEFAULT 0,
	last_state  JSONB,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const uniqueViolation = "23505"

// Store is a RoomStore on PostgreSQL.
type Store struct {
	logger *zap.Logger
	pool   *pgxpool.Pool
}

var _ store.RoomStore = (*Store)(nil)

// Open connects to dsn, verifies the connection and creates the rooms table.
func Open(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	logger.Info("connected to postgres room store")
	return &Store{logger: logger, pool: pool}, nil
}

func (s *Store) CreateRoom(ctx context.Context, code, hostPeer string) (string, error) {
	id := uuid.NewString()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO rooms (id, code, host_peer) VALUES ($1, $2, $3)`,
		id, code, hostPeer,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return "", store.ErrCodeTaken
		}
		return "", fmt.Errorf("create room: %w", err)
	}
	s.logger.Info("room created", zap.String("room_id", id), zap.String("room_code", code))
	return id, nil
}

func (s *Store) GetRoomByCode(ctx context.Context, code string) (store.Room, error) {
	var (
		room store.Room
		raw  []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, code, host_peer, last_state, updated_at FROM rooms WHERE code = $1`,
		code,
	).Scan(&room.ID, &room.Code, &room.HostPeer, &raw, &room.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Room{}, store.ErrRoomNotFound
	}
	if err != nil {
		return store.Room{}, fmt.Errorf("get room %s: %w", code, err)
	}
	if len(raw) > 0 {
		var snap game.Snapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			return store.Room{}, fmt.Errorf("decode state of room %s: %w", code, err)
		}
		room.LastState = &snap
	}
	return room, nil
}

func (s *Store) UpdateRoomState(ctx context.Context, id string, snap game.Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var stored int64
	err = tx.QueryRow(ctx, `SELECT state_seq FROM rooms WHERE id = $1 FOR UPDATE`, id).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrRoomNotFound
	}
	if err != nil {
		return fmt.Errorf("lock room %s: %w", id, err)
	}
	if uint64(stored) > snap.Seq {
		s.logger.Debug("stale snapshot ignored", zap.String("room_id", id), zap.Uint64("seq", snap.Seq))
		return nil
	}

	if _, err := tx.Exec(ctx,
		`UPDATE rooms SET last_state = $2, state_seq = $3, updated_at = now() WHERE id = $1`,
		id, raw, int64(snap.Seq),
	); err != nil {
		return fmt.Errorf("update room %s: %w", id, err)
	}
	return tx.Commit(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
