package game

import (
	"compress/gzip"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

const replayVersion = 1

// Replay is the ordered list of snapshots a host produced for one match.
type Replay struct {
	MatchID      string
	Snapshots    []Snapshot
	CurrentIndex int
	mu           sync.RWMutex
}

// NewReplay creates an empty replay.
func NewReplay(matchID string) *Replay {
	return &Replay{
		MatchID:   matchID,
		Snapshots: make([]Snapshot, 0, 64),
	}
}

// Record appends a snapshot.
func (r *Replay) Record(snap Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Snapshots = append(r.Snapshots, snap)
}

// Start rewinds to the first snapshot.
func (r *Replay) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.CurrentIndex = 0
}

// Next returns the snapshot at the cursor and moves past it.
func (r *Replay) Next() (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.CurrentIndex < len(r.Snapshots) {
		snap := r.Snapshots[r.CurrentIndex]
		r.CurrentIndex++
		return snap, true
	}
	return Snapshot{}, false
}

// Size returns the number of recorded snapshots.
func (r *Replay) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.Snapshots)
}

// At returns the snapshot at index.
func (r *Replay) At(index int) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if index >= 0 && index < len(r.Snapshots) {
		return r.Snapshots[index], true
	}
	return Snapshot{}, false
}

// SaveToFile writes <directory>/<match>.replay as gzip-compressed gob.
func (r *Replay) SaveToFile(directory string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if err := os.MkdirAll(directory, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.Create(replayPath(directory, r.MatchID))
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	gz := gzip.NewWriter(file)
	defer gz.Close()

	enc := gob.NewEncoder(gz)
	meta := replayMetadata{
		MatchID:       r.MatchID,
		Timestamp:     time.Now(),
		Version:       replayVersion,
		SnapshotCount: len(r.Snapshots),
	}
	if err := enc.Encode(&meta); err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	for i := range r.Snapshots {
		if err := enc.Encode(&r.Snapshots[i]); err != nil {
			return fmt.Errorf("failed to encode snapshot %d: %w", i, err)
		}
	}
	return nil
}

// LoadReplayFromFile reads a replay written by SaveToFile. Snapshots whose
// checksum no longer matches are rejected.
func LoadReplayFromFile(directory, matchID string) (*Replay, error) {
	file, err := os.Open(replayPath(directory, matchID))
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	gz, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gz.Close()

	dec := gob.NewDecoder(gz)
	var meta replayMetadata
	if err := dec.Decode(&meta); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	if meta.Version != replayVersion {
		return nil, fmt.Errorf("unsupported replay version: %d", meta.Version)
	}

	replay := NewReplay(meta.MatchID)
	for i := 0; i < meta.SnapshotCount; i++ {
		var snap Snapshot
		if err := dec.Decode(&snap); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot %d: %w", i, err)
		}
		if !snap.Verify() {
			return nil, fmt.Errorf("snapshot %d (seq %d) failed checksum", i, snap.Seq)
		}
		replay.Snapshots = append(replay.Snapshots, snap)
	}
	return replay, nil
}

func replayPath(directory, matchID string) string {
	return filepath.Join(directory, fmt.Sprintf("%s.replay", matchID))
}

type replayMetadata struct {
	MatchID       string
	Timestamp     time.Time
	Version       int
	SnapshotCount int
}

// ReplayRecorder keeps one in-memory replay per match and flushes it to
// saveDir when the match ends.
type ReplayRecorder struct {
	logger  *zap.Logger
	mu      sync.RWMutex
	replays map[string]*Replay
	saveDir string
}

// NewReplayRecorder creates a recorder writing to saveDir.
func NewReplayRecorder(logger *zap.Logger, saveDir string) *ReplayRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReplayRecorder{
		logger:  logger,
		replays: make(map[string]*Replay),
		saveDir: saveDir,
	}
}

// StartRecording begins a fresh replay for matchID, discarding any unsaved one.
func (rr *ReplayRecorder) StartRecording(matchID string) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	rr.replays[matchID] = NewReplay(matchID)
	rr.logger.Info("started replay recording", zap.String("match_id", matchID))
}

// Record appends snap to matchID's replay if it is being recorded.
func (rr *ReplayRecorder) Record(matchID string, snap Snapshot) {
	rr.mu.RLock()
	replay := rr.replays[matchID]
	rr.mu.RUnlock()

	if replay == nil {
		return
	}
	replay.Record(snap)
	rr.logger.Debug("recorded replay snapshot",
		zap.String("match_id", matchID),
		zap.Uint64("seq", snap.Seq),
		zap.Int("snapshot_count", replay.Size()),
	)
}

// IsRecording reports whether matchID has an open replay.
func (rr *ReplayRecorder) IsRecording(matchID string) bool {
	rr.mu.RLock()
	defer rr.mu.RUnlock()

	_, ok := rr.replays[matchID]
	return ok
}

// Save writes matchID's replay to disk and drops it from memory.
func (rr *ReplayRecorder) Save(matchID string) error {
	rr.mu.Lock()
	replay, ok := rr.replays[matchID]
	if !ok {
		rr.mu.Unlock()
		return fmt.Errorf("no replay found for match %s", matchID)
	}
	delete(rr.replays, matchID)
	rr.mu.Unlock()

	if err := replay.SaveToFile(rr.saveDir); err != nil {
		return fmt.Errorf("failed to save replay: %w", err)
	}

	rr.logger.Info("saved replay to disk",
		zap.String("match_id", matchID),
		zap.Int("snapshot_count", replay.Size()),
		zap.String("directory", rr.saveDir),
	)
	return nil
}

// Load reads a saved replay from the recorder's directory.
func (rr *ReplayRecorder) Load(matchID string) (*Replay, error) {
	replay, err := LoadReplayFromFile(rr.saveDir, matchID)
	if err != nil {
		return nil, err
	}
	rr.logger.Info("loaded replay from disk",
		zap.String("match_id", matchID),
		zap.Int("snapshot_count", replay.Size()),
	)
	return replay, nil
}
