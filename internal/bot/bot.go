// Package bot picks moves for seats without a human behind them.
package bot

import (
	"github.com/crazyremix/remix-server/internal/game"
	"github.com/crazyremix/remix-server/internal/game/cards"
	"github.com/crazyremix/remix-server/internal/game/rules"
)

// Strategy returns the intent seat should send for state s. ok is false when
// it is not that seat's turn or the match is over.
type Strategy func(s game.GameState, seat int) (in game.Intent, ok bool)

var _ Strategy = FirstLegal

// FirstLegal counters a draw attack when it can, closes chains right away,
// and otherwise plays the first legal card in hand. Wilds name the suit the
// seat holds most of. With nothing playable it draws once, then passes.
func FirstLegal(s game.GameState, seat int) (game.Intent, bool) {
	if s.Finished() || seat != s.ActivePlayerIndex || seat < 0 || seat >= len(s.Players) {
		return game.Intent{}, false
	}
	hand := s.Players[seat].Hand

	switch s.TurnState {
	case game.TurnSuitSelection:
		return game.SelectSuit(seat, preferredSuit(hand)), true

	case game.TurnDrawPending:
		for i, c := range hand {
			if rules.CheckCounter(c, s.ActiveSuit).Legal {
				return game.PlayCard(seat, i, cards.NoSuit), true
			}
		}
		return game.ChainPass(seat), true

	case game.TurnChainDecision:
		return game.ChainPass(seat), true
	}

	top := s.TopCard()
	for i, c := range hand {
		if !rules.CheckMove(c, top, s.ActiveSuit).Legal {
			continue
		}
		choice := cards.NoSuit
		if c.IsWild() {
			choice = preferredSuit(without(hand, i))
		}
		return game.PlayCard(seat, i, choice), true
	}

	canDraw := len(s.Deck) > 0 || len(s.DiscardPile) > 1
	if !s.HasDrawnThisTurn && canDraw {
		return game.Draw(seat), true
	}
	return game.Skip(seat), true
}

// preferredSuit is the most common non-wild suit in hand, spades when the
// hand has none.
func preferredSuit(hand []cards.Card) cards.Suit {
	counts := make(map[cards.Suit]int, len(cards.Suits))
	for _, c := range hand {
		if !c.IsWild() {
			counts[c.Suit]++
		}
	}
	best := cards.Spades
	for _, suit := range cards.Suits {
		if counts[suit] > counts[best] {
			best = suit
		}
	}
	return best
}

func without(hand []cards.Card, idx int) []cards.Card {
	out := make([]cards.Card, 0, len(hand)-1)
	out = append(out, hand[:idx]...)
	return append(out, hand[idx+1:]...)
}
