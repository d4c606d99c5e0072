package game

import (
	"fmt"

	"github.com/crazyremix/remix-server/internal/game/cards"
)

// IntentKind names a player decision.
type IntentKind string

const (
	IntentPlayCard   IntentKind = "PLAY_CARD"
	IntentDraw       IntentKind = "DRAW"
	IntentSkip       IntentKind = "SKIP"
	IntentChainPass  IntentKind = "CHAIN_PASS"
	IntentSelectSuit IntentKind = "SELECT_SUIT"
	IntentRestart    IntentKind = "RESTART"
)

// Intent is one decision by the player in seat Player. CardIndex and
// SuitChoice belong to PLAY_CARD, Suit to SELECT_SUIT.
type Intent struct {
	Kind       IntentKind `json:"kind"`
	Player     int        `json:"player"`
	CardIndex  int        `json:"cardIndex,omitempty"`
	SuitChoice cards.Suit `json:"suitChoice,omitempty"`
	Suit       cards.Suit `json:"suit,omitempty"`
}

func (i Intent) String() string {
	switch i.Kind {
	case IntentPlayCard:
		if i.SuitChoice != cards.NoSuit {
			return fmt.Sprintf("%s[%d]%s", i.Kind, i.CardIndex, i.SuitChoice)
		}
		return fmt.Sprintf("%s[%d]", i.Kind, i.CardIndex)
	case IntentSelectSuit:
		return fmt.Sprintf("%s(%s)", i.Kind, i.Suit)
	default:
		return string(i.Kind)
	}
}

// PlayCard builds a PLAY_CARD intent. choice may be cards.NoSuit.
func PlayCard(player, index int, choice cards.Suit) Intent {
	return Intent{Kind: IntentPlayCard, Player: player, CardIndex: index, SuitChoice: choice}
}

// Draw builds a DRAW intent.
func Draw(player int) Intent {
	return Intent{Kind: IntentDraw, Player: player}
}

// Skip builds a SKIP (pass) intent.
func Skip(player int) Intent {
	return Intent{Kind: IntentSkip, Player: player}
}

// ChainPass builds a CHAIN_PASS intent.
func ChainPass(player int) Intent {
	return Intent{Kind: IntentChainPass, Player: player}
}

// SelectSuit builds a SELECT_SUIT intent.
func SelectSuit(player int, suit cards.Suit) Intent {
	return Intent{Kind: IntentSelectSuit, Player: player, Suit: suit}
}
