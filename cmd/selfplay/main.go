package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/crazyremix/remix-server/internal/config"
	"github.com/crazyremix/remix-server/internal/game"
	"github.com/crazyremix/remix-server/internal/protocol"
	"github.com/crazyremix/remix-server/internal/selfplay"
	"github.com/crazyremix/remix-server/internal/store/driver"
	"github.com/crazyremix/remix-server/internal/transport"
	"github.com/crazyremix/remix-server/internal/transport/memory"
	"github.com/crazyremix/remix-server/internal/transport/natsbus"
	"github.com/crazyremix/remix-server/internal/transport/wsclient"
	"go.uber.org/zap"
)

var (
	configPath = flag.String("config", "", "path to configuration file")
	via        = flag.String("transport", "memory", "memory, nats or relay")
	relayURL   = flag.String("relay", "ws://127.0.0.1:8080/ws", "relay websocket url for -transport relay")
	players    = flag.Int("players", 4, "number of seats, 2 to 4")
	code       = flag.String("code", "", "room code (random when empty)")
	rounds     = flag.Int("rounds", 1, "matches to play in the room, restarting in between")
	maxTurns   = flag.Int("max-turns", 2000, "give up a round after this many turns")
	replayID   = flag.String("replay", "", "verify a recorded round (e.g. ABC123-1) in replay.dir instead of playing")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if *replayID != "" {
		status := inspect(cfg, *replayID, logger)
		logger.Sync()
		os.Exit(status)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dial, err := dialer(*via, cfg, logger)
	if err != nil {
		logger.Fatal("unsupported transport", zap.Error(err))
	}

	rooms, err := driver.Open(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Fatal("failed to open room store", zap.Error(err))
	}
	defer rooms.Close()

	seed := cfg.Game.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}

	var recorder *game.ReplayRecorder
	if cfg.Replay.Enabled {
		recorder = game.NewReplayRecorder(logger, cfg.Replay.Dir)
	}

	logger.Info("starting self-play",
		zap.String("transport", *via),
		zap.Int("players", *players),
		zap.Uint64("seed", seed),
		zap.String("storage", cfg.Storage.Driver),
	)

	res, err := selfplay.Run(ctx, dial, selfplay.Config{
		Code:     *code,
		Players:  *players,
		Machine:  game.NewMachine(rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))),
		Recorder: recorder,
		Rooms:    rooms,
		Guest: protocol.GuestConfig{
			Attempts:       cfg.Protocol.JoinAttempts,
			AttemptTimeout: cfg.Protocol.AttemptTimeout,
			RetryDelay:     cfg.Protocol.RetryDelay,
			StoreTimeout:   cfg.Protocol.StoreTimeout,
		},
		Rounds:   *rounds,
		MaxTurns: *maxTurns,
	}, logger)
	if err != nil {
		logger.Error("self-play failed", zap.String("room_code", res.Code), zap.Int("turns", res.Turns), zap.Error(err))
		os.Exit(1)
	}
	fmt.Printf("room %s, %d round(s)\n", res.Code, *rounds)
	for i, st := range res.Standings {
		fmt.Printf("%d. %-8s wins %d  losses %d  cards left %d\n", i+1, st.Name, st.Wins, st.Losses, st.CardsLeft)
	}
}

func dialer(kind string, cfg *config.Config, logger *zap.Logger) (selfplay.Dialer, error) {
	switch kind {
	case "memory":
		bus := memory.NewBus(logger)
		return func(_ context.Context, room, peer string) (transport.Transport, error) {
			return bus.Join(room, peer), nil
		}, nil
	case "nats":
		return func(_ context.Context, room, peer string) (transport.Transport, error) {
			return natsbus.Dial(cfg.NATS.URL, natsbus.Config{
				Prefix: cfg.NATS.SubjectPrefix,
				Room:   room,
				PeerID: peer,
			}, logger)
		}, nil
	case "relay":
		return func(ctx context.Context, room, peer string) (transport.Transport, error) {
			return wsclient.Dial(ctx, *relayURL, room, peer, logger)
		}, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", kind)
	}
}

func inspect(cfg *config.Config, matchID string, logger *zap.Logger) int {
	in, err := selfplay.Inspect(game.NewReplayRecorder(logger, cfg.Replay.Dir), matchID)
	if err != nil {
		logger.Error("replay check failed", zap.String("match_id", matchID), zap.Error(err))
		return 1
	}
	fmt.Printf("%s: %d snapshots, seq %d to %d, all checksums valid\n", in.MatchID, in.Snapshots, in.FirstSeq, in.LastSeq)
	fmt.Printf("players: %s\n", strings.Join(in.Players, ", "))
	if in.Winner != "" {
		fmt.Printf("winner: %s\n", in.Winner)
	} else {
		fmt.Printf("unfinished: %s\n", in.Final.State.Message)
	}
	return 0
}
