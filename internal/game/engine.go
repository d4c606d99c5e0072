package game

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ErrMatchRunning is returned by Start when the engine already dealt a match.
var ErrMatchRunning = errors.New("game: match already started")

// Engine owns the canonical state of one room on the host. Every accepted
// call produces a new Snapshot with the next sequence number.
type Engine struct {
	logger   *zap.Logger
	matchID  string
	machine  *Machine
	recorder *ReplayRecorder

	mu      sync.RWMutex
	players []string
	last    Snapshot
	round   int
	started bool
}

// NewEngine creates an engine for matchID. recorder may be nil.
func NewEngine(matchID string, machine *Machine, recorder *ReplayRecorder, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		logger:   logger.With(zap.String("match_id", matchID)),
		matchID:  matchID,
		machine:  machine,
		recorder: recorder,
	}
}

// Start deals the first match for the seated names.
func (e *Engine) Start(players []string) (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return Snapshot{}, ErrMatchRunning
	}
	state, err := e.machine.Initialize(players)
	if err != nil {
		return Snapshot{}, err
	}

	e.players = append([]string(nil), players...)
	e.started = true
	e.beginRoundLocked()

	e.logger.Info("match started", zap.Strings("players", players))
	return e.commitLocked(state), nil
}

// Apply runs one intent through the machine. The bool is false when no
// match has been started; rule violations still produce a snapshot so the
// acting player sees the advisory message.
func (e *Engine) Apply(in Intent) (Snapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started {
		return Snapshot{}, false
	}
	if in.Kind == IntentRestart {
		return e.restartLocked(in.Player), true
	}

	prev := e.last.State
	next := e.machine.Apply(prev, in)

	e.logger.Debug("intent applied",
		zap.Stringer("intent", in),
		zap.Int("player_id", in.Player),
		zap.String("turn_state", string(next.TurnState)),
		zap.String("message", next.Message),
	)

	snap := e.commitLocked(next)
	if next.Finished() && !prev.Finished() {
		e.logger.Info("match won", zap.String("winner", next.Winner), zap.Uint64("seq", snap.Seq))
		e.saveReplayLocked()
	}
	return snap, true
}

// Restart re-deals with the same seated names. It is the host's RESTART.
func (e *Engine) Restart() (Snapshot, error) {
	snap, ok := e.Apply(Intent{Kind: IntentRestart, Player: 0})
	if !ok {
		return Snapshot{}, errors.New("game: no match to restart")
	}
	return snap, nil
}

// Snapshot returns the latest canonical snapshot. Callers must not mutate it.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.last
}

// Started reports whether a match has been dealt.
func (e *Engine) Started() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.started
}

// Players returns the seated names.
func (e *Engine) Players() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return append([]string(nil), e.players...)
}

// restartLocked lets the host restart at any time and guests only once the
// match is over.
func (e *Engine) restartLocked(player int) Snapshot {
	if player != 0 && !e.last.State.Finished() {
		refused := e.last.State.Clone()
		refused.Message = "Only the host can restart a running match."
		return e.commitLocked(refused)
	}

	state, err := e.machine.Initialize(e.players)
	if err != nil {
		// players were validated by Start, so this only trips on a bug.
		e.logger.Error("restart failed", zap.Error(err))
		refused := e.last.State.Clone()
		refused.Message = "Restart failed."
		return e.commitLocked(refused)
	}

	if !e.last.State.Finished() {
		e.saveReplayLocked()
	}
	e.beginRoundLocked()
	e.logger.Info("match restarted", zap.Int("round", e.round), zap.Int("player_id", player))
	return e.commitLocked(state)
}

func (e *Engine) commitLocked(state GameState) Snapshot {
	e.last = NewSnapshot(e.last.Seq+1, state)
	if e.recorder != nil {
		e.recorder.Record(e.replayID(), e.last)
	}
	return e.last
}

func (e *Engine) beginRoundLocked() {
	e.round++
	if e.recorder != nil {
		e.recorder.StartRecording(e.replayID())
	}
}

func (e *Engine) saveReplayLocked() {
	if e.recorder == nil || !e.recorder.IsRecording(e.replayID()) {
		return
	}
	if err := e.recorder.Save(e.replayID()); err != nil {
		e.logger.Warn("failed to save replay", zap.Error(err))
	}
}

func (e *Engine) replayID() string {
	return fmt.Sprintf("%s-%d", e.matchID, e.round)
}
