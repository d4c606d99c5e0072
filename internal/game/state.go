package game

import (
	"github.com/crazyremix/remix-server/internal/game/cards"
)

// TurnState is the decision the active player currently faces.
type TurnState string

const (
	TurnPlaying       TurnState = "PLAYING"
	TurnSuitSelection TurnState = "SUIT_SELECTION"
	TurnDrawPending   TurnState = "DRAW_PENDING"
	TurnChainDecision TurnState = "CHAIN_DECISION"
)

const (
	MinPlayers = 2
	MaxPlayers = 4

	hostHandSize  = 6
	guestHandSize = 5
)

// Player is a seat at the table. ID is the seat index; 0 is the host.
type Player struct {
	ID   int          `json:"id"`
	Name string       `json:"name"`
	Hand []cards.Card `json:"hand"`
}

// GameState is the full canonical snapshot of a match. It is self-contained
// so a client can render from any single copy of it.
type GameState struct {
	Players           []Player     `json:"players"`
	Deck              []cards.Card `json:"deck"`
	DiscardPile       []cards.Card `json:"discardPile"`
	ActiveSuit        cards.Suit   `json:"activeSuit"`
	ActivePlayerIndex int          `json:"activePlayerIndex"`
	Direction         int          `json:"direction"`
	TurnState         TurnState    `json:"turnState"`
	PendingDraws      int          `json:"pendingDraws"`
	PendingSkips      int          `json:"pendingSkips"`
	HasDrawnThisTurn  bool         `json:"hasDrawnThisTurn"`
	Winner            string       `json:"winner,omitempty"`
	Message           string       `json:"message"`
}

// Clone returns a deep copy; no slice is shared with s.
func (s GameState) Clone() GameState {
	out := s
	if s.Players == nil {
		out.Deck = cloneCards(s.Deck)
		out.DiscardPile = cloneCards(s.DiscardPile)
		return out
	}
	out.Players = make([]Player, len(s.Players))
	for i, p := range s.Players {
		out.Players[i] = Player{ID: p.ID, Name: p.Name, Hand: cloneCards(p.Hand)}
	}
	out.Deck = cloneCards(s.Deck)
	out.DiscardPile = cloneCards(s.DiscardPile)
	return out
}

// Finished reports whether the match has a winner.
func (s GameState) Finished() bool {
	return s.Winner != ""
}

// TopCard returns the top of the discard pile, or nil if it is empty.
func (s GameState) TopCard() *cards.Card {
	if len(s.DiscardPile) == 0 {
		return nil
	}
	top := s.DiscardPile[len(s.DiscardPile)-1]
	return &top
}

// ActivePlayer returns the player whose turn it is.
func (s GameState) ActivePlayer() (Player, bool) {
	if s.ActivePlayerIndex < 0 || s.ActivePlayerIndex >= len(s.Players) {
		return Player{}, false
	}
	return s.Players[s.ActivePlayerIndex], true
}

// CardCount sums every hand, the deck and the discard pile.
func (s GameState) CardCount() int {
	n := len(s.Deck) + len(s.DiscardPile)
	for _, p := range s.Players {
		n += len(p.Hand)
	}
	return n
}

// PlayerNames returns the seated names in seat order.
func (s GameState) PlayerNames() []string {
	names := make([]string, len(s.Players))
	for i, p := range s.Players {
		names[i] = p.Name
	}
	return names
}

// PendingEffect is what the active player must resolve before normal play
// resumes. The variants are NoEffect, SuitChoice, DrawAttack and SkipChain;
// GameState.PendingDraws, PendingSkips and TurnState are their wire form.
type PendingEffect interface {
	turnState() TurnState
}

// NoEffect is ordinary play.
type NoEffect struct{}

// SuitChoice waits for the player who dropped a wild card to name a suit.
type SuitChoice struct{}

// DrawAttack is a stack of forced draws the active player must counter or take.
type DrawAttack struct {
	Draws int
}

// SkipChain is an open chain of 7s. Skips players will be jumped when the
// chain closes and Draws cards go to the next player.
type SkipChain struct {
	Skips int
	Draws int
}

func (NoEffect) turnState() TurnState   { return TurnPlaying }
func (SuitChoice) turnState() TurnState { return TurnSuitSelection }
func (DrawAttack) turnState() TurnState { return TurnDrawPending }
func (SkipChain) turnState() TurnState  { return TurnChainDecision }

// Pending decodes the wire fields into the matching effect variant.
func (s GameState) Pending() PendingEffect {
	switch s.TurnState {
	case TurnSuitSelection:
		return SuitChoice{}
	case TurnDrawPending:
		return DrawAttack{Draws: s.PendingDraws}
	case TurnChainDecision:
		return SkipChain{Skips: s.PendingSkips, Draws: s.PendingDraws}
	default:
		return NoEffect{}
	}
}

// setPending is the only place the pending counters are written.
func (s *GameState) setPending(p PendingEffect) {
	s.TurnState = p.turnState()
	switch p := p.(type) {
	case DrawAttack:
		s.PendingDraws, s.PendingSkips = p.Draws, 0
	case SkipChain:
		s.PendingDraws, s.PendingSkips = p.Draws, p.Skips
	default:
		s.PendingDraws, s.PendingSkips = 0, 0
	}
}

func cloneCards(in []cards.Card) []cards.Card {
	if in == nil {
		return nil
	}
	out := make([]cards.Card, len(in))
	copy(out, in)
	return out
}
