// Package sqlite stores rooms in a single SQLite file through the pure-Go
// modernc driver. Snapshots are kept as JSON text.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/crazyremix/remix-server/internal/game"
	"github.com/crazyremix/remix-server/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

const schema = `
CREATE TABLE IF NOT EXISTS rooms (
	id          TEXT PRIMARY KEY,
	code        TEXT NOT NULL UNIQUE,
	host_peer   TEXT NOT NULL,
	state_seq   INTEGER NOT NULL DEFAULT 0,
	last_state  TEXT,
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
)`

// Store is a RoomStore on SQLite.
type Store struct {
	logger *zap.Logger
	db     *sql.DB
}

var _ store.RoomStore = (*Store)(nil)

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

// Open opens or creates the database at path.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	logger.Info("opened sqlite room store", zap.String("path", path))
	return &Store{logger: logger, db: db}, nil
}

func (s *Store) CreateRoom(ctx context.Context, code, hostPeer string) (string, error) {
	id := uuid.NewString()
	now := toMillis(time.Now())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rooms (id, code, host_peer, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, code, hostPeer, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return "", store.ErrCodeTaken
		}
		return "", fmt.Errorf("create room: %w", err)
	}
	s.logger.Info("room created", zap.String("room_id", id), zap.String("room_code", code))
	return id, nil
}

func (s *Store) GetRoomByCode(ctx context.Context, code string) (store.Room, error) {
	var (
		room    store.Room
		raw     sql.NullString
		updated int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, code, host_peer, last_state, updated_at FROM rooms WHERE code = ?`,
		code,
	).Scan(&room.ID, &room.Code, &room.HostPeer, &raw, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Room{}, store.ErrRoomNotFound
	}
	if err != nil {
		return store.Room{}, fmt.Errorf("get room %s: %w", code, err)
	}
	room.UpdatedAt = fromMillis(updated)
	if raw.Valid && raw.String != "" {
		var snap game.Snapshot
		if err := json.Unmarshal([]byte(raw.String), &snap); err != nil {
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
	res, err := s.db.ExecContext(ctx,
		`UPDATE rooms SET last_state = ?, state_seq = ?, updated_at = ? WHERE id = ? AND state_seq <= ?`,
		string(raw), int64(snap.Seq), toMillis(time.Now()), id, int64(snap.Seq),
	)
	if err != nil {
		return fmt.Errorf("update room %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}

	// Nothing changed: either the room is gone or the snapshot was stale.
	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM rooms WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrRoomNotFound
	}
	if err != nil {
		return fmt.Errorf("check room %s: %w", id, err)
	}
	s.logger.Debug("stale snapshot ignored", zap.String("room_id", id), zap.Uint64("seq", snap.Seq))
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
