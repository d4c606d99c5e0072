// Package server is the relay: a small room API over a RoomStore and a
// websocket hub that forwards frames between peers of the same room.
package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/crazyremix/remix-server/internal/game"
	"github.com/crazyremix/remix-server/internal/lobby"
	"github.com/crazyremix/remix-server/internal/store"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Server wires the room API and the websocket hub into one gin router.
type Server struct {
	logger  *zap.Logger
	rooms   store.RoomStore
	hub     *Hub
	router  *gin.Engine
	started time.Time
}

type createRoomRequest struct {
	Code     string `json:"code" binding:"required"`
	HostPeer string `json:"hostPeer" binding:"required"`
}

// Option customizes New.
type Option func(*options)

type options struct {
	wsPath string
}

// WithWSPath mounts the websocket endpoint somewhere other than /ws.
func WithWSPath(path string) Option {
	return func(o *options) {
		if path != "" {
			o.wsPath = path
		}
	}
}

// New builds the router. The hub must be running (see Hub.Run) before
// websocket clients connect.
func New(rooms store.RoomStore, hub *Hub, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{wsPath: "/ws"}
	for _, opt := range opts {
		opt(&o)
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		logger:  logger,
		rooms:   rooms,
		hub:     hub,
		started: time.Now(),
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"rooms_connected": hub.Rooms(),
			"peers_connected": hub.Peers(),
			"uptime_seconds":  int64(time.Since(s.started).Seconds()),
		})
	})

	r.POST("/rooms", s.createRoom)
	r.GET("/rooms/:code", s.getRoom)
	r.PUT("/rooms/:id/state", s.updateRoomState)

	r.GET(o.wsPath, func(c *gin.Context) {
		hub.ServeWS(c.Writer, c.Request)
	})

	s.router = r
	return s
}

// Handler returns the HTTP handler for an http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) createRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	code := lobby.NormalizeCode(req.Code)
	id, err := s.rooms.CreateRoom(c.Request.Context(), code, req.HostPeer)
	if errors.Is(err, store.ErrCodeTaken) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		s.internalError(c, "create room", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (s *Server) getRoom(c *gin.Context) {
	room, err := s.rooms.GetRoomByCode(c.Request.Context(), lobby.NormalizeCode(c.Param("code")))
	if errors.Is(err, store.ErrRoomNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		s.internalError(c, "get room", err)
		return
	}
	c.JSON(http.StatusOK, room)
}

func (s *Server) updateRoomState(c *gin.Context) {
	var snap game.Snapshot
	if err := c.ShouldBindJSON(&snap); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !snap.Verify() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "snapshot checksum mismatch"})
		return
	}
	err := s.rooms.UpdateRoomState(c.Request.Context(), c.Param("id"), snap)
	if errors.Is(err, store.ErrRoomNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		s.internalError(c, "update room state", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) internalError(c *gin.Context, op string, err error) {
	s.logger.Error(op+" failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
