// Package remote is a RoomStore client for the relay server's room API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/crazyremix/remix-server/internal/game"
	"github.com/crazyremix/remix-server/internal/store"
	"go.uber.org/zap"
)

// Store talks to a relay at baseURL (e.g. http://localhost:8080).
type Store struct {
	logger  *zap.Logger
	baseURL string
	client  *http.Client
}

var _ store.RoomStore = (*Store)(nil)

// New creates a client. A nil httpClient gets a 10s timeout client.
func New(baseURL string, httpClient *http.Client, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Store{
		logger:  logger,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httpClient,
	}
}

type createRequest struct {
	Code     string `json:"code"`
	HostPeer string `json:"hostPeer"`
}

type createResponse struct {
	ID string `json:"id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Store) CreateRoom(ctx context.Context, code, hostPeer string) (string, error) {
	var out createResponse
	status, err := s.do(ctx, http.MethodPost, "/rooms", createRequest{Code: code, HostPeer: hostPeer}, &out)
	if err != nil {
		return "", err
	}
	switch status {
	case http.StatusCreated, http.StatusOK:
		return out.ID, nil
	case http.StatusConflict:
		return "", store.ErrCodeTaken
	default:
		return "", fmt.Errorf("create room: unexpected status %d", status)
	}
}

func (s *Store) GetRoomByCode(ctx context.Context, code string) (store.Room, error) {
	var room store.Room
	status, err := s.do(ctx, http.MethodGet, "/rooms/"+url.PathEscape(code), nil, &room)
	if err != nil {
		return store.Room{}, err
	}
	switch status {
	case http.StatusOK:
		return room, nil
	case http.StatusNotFound:
		return store.Room{}, store.ErrRoomNotFound
	default:
		return store.Room{}, fmt.Errorf("get room %s: unexpected status %d", code, status)
	}
}

func (s *Store) UpdateRoomState(ctx context.Context, id string, snap game.Snapshot) error {
	status, err := s.do(ctx, http.MethodPut, "/rooms/"+url.PathEscape(id)+"/state", snap, nil)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusNoContent, http.StatusOK:
		return nil
	case http.StatusNotFound:
		return store.ErrRoomNotFound
	default:
		return fmt.Errorf("update room %s: unexpected status %d", id, status)
	}
}

func (s *Store) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// do sends body as JSON and decodes a 2xx response into out.
func (s *Store) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		s.logger.Debug("room api error",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("error", e.Error),
		)
		return resp.StatusCode, nil
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
