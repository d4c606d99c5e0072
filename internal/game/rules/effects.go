package rules

import (
	"fmt"

	"github.com/crazyremix/remix-server/internal/game/cards"
)

// Effect classifies what a card does once it lands on the discard pile.
type Effect int

const (
	EffectNone Effect = iota
	EffectWild
	EffectDraw2
	EffectDraw5
	EffectSkip
	EffectChainSkip
)

var effectNames = map[Effect]string{
	EffectNone:      "NONE",
	EffectWild:      "WILD",
	EffectDraw2:     "DRAW_2",
	EffectDraw5:     "DRAW_5",
	EffectSkip:      "SKIP",
	EffectChainSkip: "CHAIN_SKIP",
}

func (e Effect) String() string {
	if name, ok := effectNames[e]; ok {
		return name
	}
	return fmt.Sprintf("EFFECT_%d", int(e))
}

// DrawCount is the number of cards a draw effect adds to the stack.
func (e Effect) DrawCount() int {
	switch e {
	case EffectDraw2:
		return 2
	case EffectDraw5:
		return 5
	default:
		return 0
	}
}

// EffectOf maps a card to its effect. Only A♠ is suit-sensitive.
func EffectOf(card cards.Card) Effect {
	switch {
	case card.IsWild():
		return EffectWild
	case card.Rank == cards.Two:
		return EffectDraw2
	case card.IsAceOfSpades():
		return EffectDraw5
	case card.Rank == cards.Five:
		return EffectSkip
	case card.Rank == cards.Seven:
		return EffectChainSkip
	default:
		return EffectNone
	}
}
