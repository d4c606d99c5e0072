package rules

import (
	"fmt"

	"github.com/crazyremix/remix-server/internal/game/cards"
)

// LegalityResult is the outcome of a legality check. Reason is meant for
// the player and is empty when the move is legal.
type LegalityResult struct {
	Legal  bool
	Reason string
}

func legal() LegalityResult {
	return LegalityResult{Legal: true}
}

func illegal(format string, args ...any) LegalityResult {
	return LegalityResult{Legal: false, Reason: fmt.Sprintf(format, args...)}
}

// IsLegalMove reports whether card may be played on top during normal play.
func IsLegalMove(card cards.Card, top *cards.Card, activeSuit cards.Suit) bool {
	return CheckMove(card, top, activeSuit).Legal
}

// CheckMove validates a normal play. With no top card every card is legal.
// Eights and Jacks are always legal. A 2 needs the active suit, A♠ needs
// spades to be active; neither is made legal by a rank match alone.
// Everything else matches rank or active suit.
func CheckMove(card cards.Card, top *cards.Card, activeSuit cards.Suit) LegalityResult {
	if top == nil {
		return legal()
	}
	if card.IsWild() {
		return legal()
	}
	if card.Rank == cards.Two {
		if card.Suit != activeSuit {
			return illegal("A 2 can only be played on %s", suitLabel(activeSuit))
		}
		return legal()
	}
	if card.IsAceOfSpades() {
		if activeSuit != cards.Spades {
			return illegal("Ace of Spades can only be played on ♠")
		}
		return legal()
	}
	if card.Rank == top.Rank || card.Suit == activeSuit {
		return legal()
	}
	return illegal("Invalid move! Play %s or a %s", suitLabel(activeSuit), top.Rank)
}

// CheckCounter validates a counter against an outstanding draw attack.
// Only 2s and A♠ counter. When spades are active only 2♠ or A♠ may answer;
// A♠ itself is only playable while spades are active.
func CheckCounter(card cards.Card, activeSuit cards.Suit) LegalityResult {
	switch EffectOf(card) {
	case EffectDraw2, EffectDraw5:
	default:
		return illegal("Can only play 2 or Ace of Spades to counter!")
	}

	spadesActive := activeSuit == cards.Spades
	if card.IsAceOfSpades() && !spadesActive {
		return illegal("Ace of Spades can only counter spade draw cards!")
	}
	if card.Rank == cards.Two && spadesActive && card.Suit != cards.Spades {
		return illegal("To counter A♠, you must play 2♠ or A♠!")
	}
	return legal()
}

// CheckChain validates a card played while a chain of 7s is open.
func CheckChain(card cards.Card, activeSuit cards.Suit) LegalityResult {
	if card.Suit != activeSuit {
		return illegal("Must play %s to chain!", suitLabel(activeSuit))
	}
	return legal()
}

func suitLabel(s cards.Suit) string {
	if s == cards.NoSuit {
		return "the active suit"
	}
	return string(s)
}
