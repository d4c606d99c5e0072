package lobby

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/crazyremix/remix-server/internal/game"
	"go.uber.org/zap"
)

var (
	ErrNotEnoughPlayers = errors.New("lobby: at least 2 players are needed to start")
	ErrAlreadyStarted   = errors.New("lobby: match already started")
	ErrNotOpen          = errors.New("lobby: room is not accepting players")
)

// HostName is the name seat 0 always carries.
const HostName = "Host"

// Status is the membership phase of a room.
type Status int

const (
	StatusOpen Status = iota
	StatusFull
	StatusStarted
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "OPEN"
	case StatusFull:
		return "FULL"
	case StatusStarted:
		return "STARTED"
	default:
		return "UNKNOWN"
	}
}

// Lobby tracks who sits at a room's table before the match starts. Seat ids
// are list indexes, assigned in the order joins are applied.
type Lobby struct {
	logger *zap.Logger
	code   string

	mu      sync.Mutex
	players []string
	status  Status
}

// New opens a room with the host already seated.
func New(code string, logger *zap.Logger) *Lobby {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lobby{
		logger:  logger.With(zap.String("room_code", code)),
		code:    code,
		players: []string{HostName},
		status:  StatusOpen,
	}
}

// Code returns the room's share code.
func (l *Lobby) Code() string {
	return l.code
}

// Join seats name and returns its id. A blank name becomes "Player N" and a
// taken name gets a numeric suffix so names stay unique at the table.
func (l *Lobby) Join(name string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.status != StatusOpen {
		l.logger.Debug("join ignored", zap.String("name", name), zap.Stringer("status", l.status))
		return -1, ErrNotOpen
	}

	id := len(l.players)
	name = l.uniqueNameLocked(name, id)
	l.players = append(l.players, name)
	if len(l.players) >= game.MaxPlayers {
		l.status = StatusFull
	}

	l.logger.Info("player joined",
		zap.String("name", name),
		zap.Int("player_id", id),
		zap.Int("player_count", len(l.players)),
	)
	return id, nil
}

// Start freezes membership and returns the seated names.
func (l *Lobby) Start() ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.status == StatusStarted {
		return nil, ErrAlreadyStarted
	}
	if len(l.players) < game.MinPlayers {
		return nil, fmt.Errorf("%w: have %d", ErrNotEnoughPlayers, len(l.players))
	}
	l.status = StatusStarted
	l.logger.Info("lobby closed", zap.Strings("players", l.players))
	return append([]string(nil), l.players...), nil
}

// Players returns the seated names; the index is the player id.
func (l *Lobby) Players() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]string(nil), l.players...)
}

// Status returns the current membership phase.
func (l *Lobby) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.status
}

func (l *Lobby) uniqueNameLocked(name string, id int) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = fmt.Sprintf("Player %d", id+1)
	}
	base := name
	for n := 2; l.seatedLocked(name); n++ {
		name = fmt.Sprintf("%s (%d)", base, n)
	}
	return name
}

func (l *Lobby) seatedLocked(name string) bool {
	for _, p := range l.players {
		if strings.EqualFold(p, name) {
			return true
		}
	}
	return false
}
