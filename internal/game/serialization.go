package game

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/crazyremix/remix-server/internal/game/cards"
)

// Snapshot is a canonical state stamped with the host's sequence number and
// a checksum of its content. It is what travels on the wire and in storage.
type Snapshot struct {
	Seq      uint64    `json:"seq"`
	State    GameState `json:"state"`
	Checksum string    `json:"checksum"`
}

// NewSnapshot stamps state with seq and its checksum.
func NewSnapshot(seq uint64, state GameState) Snapshot {
	return Snapshot{Seq: seq, State: state, Checksum: Checksum(state)}
}

// Verify reports whether the stored checksum matches the state.
func (s Snapshot) Verify() bool {
	return s.Checksum != "" && s.Checksum == Checksum(s.State)
}

// Checksum is a SHA-256 over a canonical text form of the state. Card ids
// are included so a reordered hand produces a different checksum.
func Checksum(state GameState) string {
	sum := sha256.Sum256([]byte(canonical(state)))
	return hex.EncodeToString(sum[:])
}

func canonical(s GameState) string {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "GAME:%s|%d|%d|%s|%d|%d|%t|%s\n",
		s.ActiveSuit,
		s.ActivePlayerIndex,
		s.Direction,
		s.TurnState,
		s.PendingDraws,
		s.PendingSkips,
		s.HasDrawnThisTurn,
		s.Winner,
	)
	fmt.Fprintf(&buf, "MESSAGE:%q\n", s.Message)

	// Seat order is significant, so players are not sorted.
	for _, p := range s.Players {
		fmt.Fprintf(&buf, "PLAYER:%d|%q|", p.ID, p.Name)
		writeCards(&buf, p.Hand)
	}
	buf.WriteString("DECK:")
	writeCards(&buf, s.Deck)
	buf.WriteString("DISCARD:")
	writeCards(&buf, s.DiscardPile)

	return buf.String()
}

func writeCards(buf *bytes.Buffer, list []cards.Card) {
	for i, c := range list {
		if i > 0 {
			buf.WriteByte(',')
		}
		fmt.Fprintf(buf, "%s%s/%s", c.Rank, c.Suit, c.ID)
	}
	buf.WriteByte('\n')
}
