// Package selfplay runs a whole match headlessly: one Host and its Guests,
// every seat driven by a bot, over whatever transport the caller dials.
package selfplay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/crazyremix/remix-server/internal/bot"
	"github.com/crazyremix/remix-server/internal/game"
	"github.com/crazyremix/remix-server/internal/lobby"
	"github.com/crazyremix/remix-server/internal/protocol"
	"github.com/crazyremix/remix-server/internal/store"
	"github.com/crazyremix/remix-server/internal/transport"
	"go.uber.org/zap"
)

// ErrTurnLimit is returned when no one won within Config.MaxTurns.
var ErrTurnLimit = errors.New("selfplay: turn limit reached")

// Dialer opens one peer's connection to room.
type Dialer func(ctx context.Context, room, peerID string) (transport.Transport, error)

// Config describes one self-play match.
type Config struct {
	Code     string
	Players  int
	Machine  *game.Machine
	Recorder *game.ReplayRecorder
	Rooms    store.RoomStore
	Strategy bot.Strategy

	// Guest carries the join handshake settings; Code and Name are filled in.
	Guest protocol.GuestConfig

	// Rounds is how many matches to play in the room; the host restarts
	// between them. Zero means one.
	Rounds int
	// MaxTurns bounds each round.
	MaxTurns int
	// TurnTimeout bounds how long a guest waits for its intent to land
	// before resyncing and sending it again.
	TurnTimeout time.Duration
}

// Result is the outcome of Run. Final and Turns describe the last round.
type Result struct {
	Code      string
	Final     game.Snapshot
	Turns     int
	Resent    int
	Standings []Standing
}

type seat struct {
	guest *protocol.Guest
	tr    transport.Transport
}

// Run seats Config.Players bots, deals, and plays until someone wins.
func Run(ctx context.Context, dial Dialer, cfg Config, logger *zap.Logger) (Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Players < game.MinPlayers || cfg.Players > game.MaxPlayers {
		return Result{}, fmt.Errorf("selfplay: players must be between %d and %d", game.MinPlayers, game.MaxPlayers)
	}
	if cfg.Strategy == nil {
		cfg.Strategy = bot.FirstLegal
	}
	if cfg.Rounds <= 0 {
		cfg.Rounds = 1
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 2000
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = 2 * time.Second
	}
	code := lobby.NormalizeCode(cfg.Code)
	if code == "" {
		code = lobby.NewRoomCode()
	}

	hostTr, err := dial(ctx, code, "host")
	if err != nil {
		return Result{}, fmt.Errorf("dial host: %w", err)
	}
	defer hostTr.Close()

	h, err := protocol.NewHost(ctx, hostTr, cfg.Rooms, protocol.HostConfig{
		Code:         code,
		Machine:      cfg.Machine,
		Recorder:     cfg.Recorder,
		StoreTimeout: cfg.Guest.StoreTimeout,
	}, logger)
	if err != nil {
		return Result{}, err
	}
	defer h.Close()

	h.OnState(func(snap game.Snapshot) { logTransition(logger, snap) })
	h.OnNotice(func(n protocol.Notice) { logger.Warn("host notice", zap.Stringer("notice", n)) })

	seats := make(map[int]seat, cfg.Players-1)
	defer func() {
		for _, s := range seats {
			s.guest.Close()
			s.tr.Close()
		}
	}()
	for i := 1; i < cfg.Players; i++ {
		peer := fmt.Sprintf("bot-%d", i)
		tr, err := dial(ctx, code, peer)
		if err != nil {
			return Result{}, fmt.Errorf("dial %s: %w", peer, err)
		}
		gcfg := cfg.Guest
		gcfg.Code = code
		gcfg.Name = fmt.Sprintf("Bot %d", i)
		g := protocol.NewGuest(tr, cfg.Rooms, gcfg, logger.With(zap.String("peer_id", peer)))
		if err := g.Join(ctx); err != nil {
			g.Close()
			tr.Close()
			return Result{}, fmt.Errorf("%s: %w", peer, err)
		}
		seats[g.PlayerID()] = seat{guest: g, tr: tr}
	}

	if _, err := h.Start(); err != nil {
		return Result{}, fmt.Errorf("start match: %w", err)
	}
	logger.Info("match started", zap.String("room_code", code), zap.Strings("players", h.Players()))

	res := Result{Code: code}
	table := newStandings(h.Players())
	for round := 1; ; round++ {
		if err := playRound(ctx, h, seats, cfg, &res); err != nil {
			res.Standings = table.Table()
			return res, fmt.Errorf("round %d: %w", round, err)
		}
		table.Record(res.Final.State)
		logger.Info("round finished",
			zap.Int("round", round),
			zap.String("winner", res.Final.State.Winner),
			zap.Int("turns", res.Turns),
			zap.Uint64("seq", res.Final.Seq),
		)
		if round == cfg.Rounds {
			break
		}
		if _, err := h.Restart(); err != nil {
			res.Standings = table.Table()
			return res, fmt.Errorf("restart: %w", err)
		}
	}

	res.Standings = table.Table()
	logger.Info("series finished",
		zap.Int("rounds", table.Rounds()),
		zap.Int("resent", res.Resent),
		zap.Any("standings", res.Standings),
	)
	return res, nil
}

// playRound drives the bots from the current snapshot until someone wins.
func playRound(ctx context.Context, h *protocol.Host, seats map[int]seat, cfg Config, res *Result) error {
	for res.Turns = 0; res.Turns < cfg.MaxTurns; res.Turns++ {
		snap := h.Snapshot()
		if snap.State.Finished() {
			break
		}
		active := snap.State.ActivePlayerIndex
		if active == 0 {
			in, ok := cfg.Strategy(snap.State, 0)
			if !ok {
				return fmt.Errorf("selfplay: no move for host at seq %d", snap.Seq)
			}
			if _, err := h.Act(in); err != nil {
				return err
			}
			continue
		}
		s, ok := seats[active]
		if !ok {
			return fmt.Errorf("selfplay: no guest in seat %d", active)
		}
		resent, err := driveGuest(ctx, h, s.guest, cfg, snap.Seq)
		res.Resent += resent
		if err != nil {
			return err
		}
	}

	res.Final = h.Snapshot()
	if !res.Final.State.Finished() {
		return ErrTurnLimit
	}
	return nil
}

// driveGuest makes g act on its own view of snapshot seq and waits until the
// host moves past it. A lost update or intent is recovered by resyncing and
// sending again after TurnTimeout.
func driveGuest(ctx context.Context, h *protocol.Host, g *protocol.Guest, cfg Config, seq uint64) (int, error) {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	resent := 0
	acted := false
	deadline := time.Now().Add(cfg.TurnTimeout)
	for {
		if h.Snapshot().Seq > seq {
			return resent, nil
		}
		if view, ok := g.Snapshot(); !acted && ok && view.Seq == seq {
			in, ok := cfg.Strategy(view.State, g.PlayerID())
			if !ok {
				return resent, fmt.Errorf("selfplay: no move for seat %d at seq %d", g.PlayerID(), seq)
			}
			if err := g.Act(ctx, in); err != nil {
				return resent, err
			}
			acted = true
			deadline = time.Now().Add(cfg.TurnTimeout)
		}
		if time.Now().After(deadline) {
			resent++
			acted = false
			if err := g.Resync(ctx); err != nil {
				return resent, err
			}
			deadline = time.Now().Add(cfg.TurnTimeout)
		}

		select {
		case <-ctx.Done():
			return resent, ctx.Err()
		case <-ticker.C:
		}
	}
}

func logTransition(logger *zap.Logger, snap game.Snapshot) {
	s := snap.State
	fields := []zap.Field{
		zap.Uint64("seq", snap.Seq),
		zap.String("turn_state", string(s.TurnState)),
		zap.Int("active_player", s.ActivePlayerIndex),
		zap.String("active_suit", string(s.ActiveSuit)),
		zap.Int("deck", len(s.Deck)),
	}
	if top := s.TopCard(); top != nil {
		fields = append(fields, zap.Stringer("top_card", *top))
	}
	if s.PendingDraws > 0 {
		fields = append(fields, zap.Int("pending_draws", s.PendingDraws))
	}
	if s.PendingSkips > 0 {
		fields = append(fields, zap.Int("pending_skips", s.PendingSkips))
	}
	logger.Info(s.Message, fields...)
}
