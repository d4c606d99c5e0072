package cards

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Suit is one of the four French suits. The zero value means "no suit".
type Suit string

const (
	NoSuit   Suit = ""
	Spades   Suit = "♠"
	Hearts   Suit = "♥"
	Diamonds Suit = "♦"
	Clubs    Suit = "♣"
)

// Suits lists the suits in deck order.
var Suits = []Suit{Spades, Hearts, Diamonds, Clubs}

var suitAliases = map[string]Suit{
	"♠": Spades, "S": Spades, "SPADES": Spades,
	"♥": Hearts, "H": Hearts, "HEARTS": Hearts,
	"♦": Diamonds, "D": Diamonds, "DIAMONDS": Diamonds,
	"♣": Clubs, "C": Clubs, "CLUBS": Clubs,
}

// Valid reports whether s is one of the four suits.
func (s Suit) Valid() bool {
	switch s {
	case Spades, Hearts, Diamonds, Clubs:
		return true
	default:
		return false
	}
}

// ParseSuit accepts a suit symbol, its initial or its English name.
func ParseSuit(raw string) (Suit, error) {
	if s, ok := suitAliases[strings.ToUpper(strings.TrimSpace(raw))]; ok {
		return s, nil
	}
	return NoSuit, fmt.Errorf("unknown suit %q", raw)
}

// Rank is the face value of a card.
type Rank string

const (
	Two   Rank = "2"
	Three Rank = "3"
	Four  Rank = "4"
	Five  Rank = "5"
	Six   Rank = "6"
	Seven Rank = "7"
	Eight Rank = "8"
	Nine  Rank = "9"
	Ten   Rank = "10"
	Jack  Rank = "J"
	Queen Rank = "Q"
	King  Rank = "K"
	Ace   Rank = "A"
)

// Ranks lists the ranks in deck order.
var Ranks = []Rank{Two, Three, Four, Five, Six, Seven, Eight, Nine, Ten, Jack, Queen, King, Ace}

// DeckSize is the number of cards in a full deck.
const DeckSize = 52

// Card is an immutable playing card. ID only exists so clients can
// reconcile lists; rule logic compares suit and rank.
type Card struct {
	Suit Suit   `json:"suit"`
	Rank Rank   `json:"rank"`
	ID   string `json:"id"`
}

// New creates a card with a fresh synthetic id.
func New(suit Suit, rank Rank) Card {
	return Card{
		Suit: suit,
		Rank: rank,
		ID:   fmt.Sprintf("%s%s-%s", rank, suit, uuid.NewString()[:8]),
	}
}

// Same reports rule equality: same suit and rank, ids ignored.
func (c Card) Same(other Card) bool {
	return c.Suit == other.Suit && c.Rank == other.Rank
}

// IsWild reports whether the card is an 8 or a Jack.
func (c Card) IsWild() bool {
	return c.Rank == Eight || c.Rank == Jack
}

// IsAceOfSpades reports whether the card is A♠.
func (c Card) IsAceOfSpades() bool {
	return c.Rank == Ace && c.Suit == Spades
}

func (c Card) String() string {
	return string(c.Rank) + string(c.Suit)
}
