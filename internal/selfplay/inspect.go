package selfplay

import (
	"fmt"

	"github.com/crazyremix/remix-server/internal/game"
)

// Inspection summarizes a recorded round.
type Inspection struct {
	MatchID   string
	Snapshots int
	FirstSeq  uint64
	LastSeq   uint64
	Players   []string
	Winner    string
	Final     game.Snapshot
}

// Inspect loads matchID from the recorder's directory and walks every
// snapshot, checking the checksum and that seqs increase by one.
func Inspect(recorder *game.ReplayRecorder, matchID string) (Inspection, error) {
	replay, err := recorder.Load(matchID)
	if err != nil {
		return Inspection{}, fmt.Errorf("load replay %s: %w", matchID, err)
	}
	if replay.Size() == 0 {
		return Inspection{}, fmt.Errorf("replay %s is empty", matchID)
	}

	var prev uint64
	replay.Start()
	for i := 0; ; i++ {
		snap, ok := replay.Next()
		if !ok {
			break
		}
		if !snap.Verify() {
			return Inspection{}, fmt.Errorf("replay %s: snapshot %d (seq %d) failed checksum", matchID, i, snap.Seq)
		}
		if i > 0 && snap.Seq != prev+1 {
			return Inspection{}, fmt.Errorf("replay %s: seq %d follows %d", matchID, snap.Seq, prev)
		}
		prev = snap.Seq
	}

	first, _ := replay.At(0)
	last, _ := replay.At(replay.Size() - 1)
	names := make([]string, len(last.State.Players))
	for i, p := range last.State.Players {
		names[i] = p.Name
	}
	return Inspection{
		MatchID:   replay.MatchID,
		Snapshots: replay.Size(),
		FirstSeq:  first.Seq,
		LastSeq:   last.Seq,
		Players:   names,
		Winner:    last.State.Winner,
		Final:     last,
	}, nil
}
