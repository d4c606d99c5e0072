package game

import (
	"errors"
	"fmt"

	"github.com/crazyremix/remix-server/internal/game/cards"
	"github.com/crazyremix/remix-server/internal/game/rules"
)

// ErrPlayerCount is returned by Initialize for fewer than MinPlayers or more
// than MaxPlayers names.
var ErrPlayerCount = errors.New("game: need 2 to 4 players")

// Machine applies intents to game states. Apply never mutates its input and
// never fails: an illegal intent yields a copy of the previous state with an
// advisory Message. The only state a Machine carries is its shuffler.
type Machine struct {
	rng cards.Shuffler
}

// NewMachine creates a machine that shuffles with rng.
func NewMachine(rng cards.Shuffler) *Machine {
	return &Machine{rng: rng}
}

// Initialize deals a fresh match for the given seat names. Seat 0 gets six
// cards, every other seat five, and the discard pile starts empty.
func (m *Machine) Initialize(names []string) (GameState, error) {
	if len(names) < MinPlayers || len(names) > MaxPlayers {
		return GameState{}, fmt.Errorf("%w: got %d", ErrPlayerCount, len(names))
	}

	deck := cards.Shuffle(cards.NewDeck(), m.rng)
	players := make([]Player, len(names))
	for i, name := range names {
		size := guestHandSize
		if i == 0 {
			size = hostHandSize
		}
		var hand []cards.Card
		hand, deck = cards.Draw(deck, size)
		players[i] = Player{ID: i, Name: name, Hand: hand}
	}

	return GameState{
		Players:           players,
		Deck:              deck,
		DiscardPile:       []cards.Card{},
		ActiveSuit:        cards.NoSuit,
		ActivePlayerIndex: 0,
		Direction:         1,
		TurnState:         TurnPlaying,
		Message:           fmt.Sprintf("Game started! %s plays first.", names[0]),
	}, nil
}

// Apply resolves one intent against prev and returns the next state.
func (m *Machine) Apply(prev GameState, in Intent) GameState {
	if len(prev.Players) == 0 {
		return reject(prev, "No match in progress.")
	}
	if in.Kind == IntentRestart {
		return reject(prev, "Only the host can restart.")
	}
	if prev.Finished() {
		return reject(prev, fmt.Sprintf("%s already won. Restart to play again.", prev.Winner))
	}
	if in.Player != prev.ActivePlayerIndex {
		return reject(prev, "Not your turn!")
	}

	s := prev.Clone()
	switch p := s.Pending().(type) {
	case NoEffect:
		return m.resolvePlaying(prev, s, in)
	case SuitChoice:
		return m.resolveSuitChoice(prev, s, in)
	case DrawAttack:
		return m.resolveDrawAttack(prev, s, p, in)
	case SkipChain:
		return m.resolveSkipChain(prev, s, p, in)
	default:
		return reject(prev, fmt.Sprintf("Unknown turn state %q.", prev.TurnState))
	}
}

func (m *Machine) resolvePlaying(prev, s GameState, in Intent) GameState {
	me := s.ActivePlayerIndex
	name := s.Players[me].Name

	switch in.Kind {
	case IntentPlayCard:
		card, ok := cardAt(s, in.CardIndex)
		if !ok {
			return reject(prev, fmt.Sprintf("No card at position %d.", in.CardIndex))
		}
		top := s.TopCard()
		if res := rules.CheckMove(card, top, s.ActiveSuit); !res.Legal {
			return reject(prev, res.Reason)
		}

		effect := rules.EffectOf(card)
		wildOnWild := effect == rules.EffectWild && top != nil && top.IsWild()
		if effect == rules.EffectWild && !wildOnWild && in.SuitChoice != cards.NoSuit && !in.SuitChoice.Valid() {
			return reject(prev, fmt.Sprintf("Unknown suit %q.", in.SuitChoice))
		}

		discard(&s, in.CardIndex)
		if !wildOnWild {
			s.ActiveSuit = card.Suit
		}
		s.Message = fmt.Sprintf("%s played %s.", name, card)
		if len(s.Players[me].Hand) == 0 {
			return win(s, name)
		}

		switch effect {
		case rules.EffectWild:
			switch {
			case wildOnWild:
				advance(&s, 0)
			case in.SuitChoice != cards.NoSuit:
				s.ActiveSuit = in.SuitChoice
				s.Message = fmt.Sprintf("%s played %s and chose %s.", name, card, in.SuitChoice)
				advance(&s, 0)
			default:
				s.setPending(SuitChoice{})
				s.Message = fmt.Sprintf("%s played %s. Choose a suit.", name, card)
				return s
			}
		case rules.EffectChainSkip:
			s.setPending(SkipChain{Skips: 1})
			s.Message = fmt.Sprintf("%s played %s. Chain %s or pass.", name, card, s.ActiveSuit)
			return s
		case rules.EffectSkip:
			advance(&s, 1)
		case rules.EffectDraw2, rules.EffectDraw5:
			s.setPending(DrawAttack{Draws: effect.DrawCount()})
			advance(&s, 0)
		default:
			advance(&s, 0)
		}
		return announceTurn(s)

	case IntentDraw:
		if m.drawInto(&s, me, 1) == 0 {
			return reject(prev, "No cards left to draw.")
		}
		s.HasDrawnThisTurn = true
		s.Message = fmt.Sprintf("%s drew a card.", name)
		return s

	case IntentSkip:
		if !s.HasDrawnThisTurn {
			m.drawInto(&s, me, 1)
			s.Message = fmt.Sprintf("%s passed and drew a penalty card.", name)
		} else {
			s.Message = fmt.Sprintf("%s passed.", name)
		}
		advance(&s, 0)
		return announceTurn(s)

	case IntentChainPass:
		return reject(prev, "There is nothing to pass.")
	case IntentSelectSuit:
		return reject(prev, "There is no suit to choose.")
	default:
		return reject(prev, fmt.Sprintf("Unknown action %q.", in.Kind))
	}
}

func (m *Machine) resolveSuitChoice(prev, s GameState, in Intent) GameState {
	if in.Kind != IntentSelectSuit {
		return reject(prev, "Choose a suit first!")
	}
	if !in.Suit.Valid() {
		return reject(prev, fmt.Sprintf("Unknown suit %q.", in.Suit))
	}
	s.ActiveSuit = in.Suit
	s.Message = fmt.Sprintf("%s chose %s.", s.Players[s.ActivePlayerIndex].Name, in.Suit)
	advance(&s, 0)
	return announceTurn(s)
}

func (m *Machine) resolveDrawAttack(prev, s GameState, attack DrawAttack, in Intent) GameState {
	me := s.ActivePlayerIndex
	name := s.Players[me].Name

	switch in.Kind {
	case IntentPlayCard:
		card, ok := cardAt(s, in.CardIndex)
		if !ok {
			return reject(prev, fmt.Sprintf("No card at position %d.", in.CardIndex))
		}
		if res := rules.CheckCounter(card, s.ActiveSuit); !res.Legal {
			return reject(prev, res.Reason)
		}
		discard(&s, in.CardIndex)
		s.ActiveSuit = card.Suit
		s.Message = fmt.Sprintf("%s countered with %s!", name, card)
		if len(s.Players[me].Hand) == 0 {
			return win(s, name)
		}
		s.setPending(DrawAttack{Draws: attack.Draws + rules.EffectOf(card).DrawCount()})
		advance(&s, 0)
		return announceTurn(s)

	case IntentChainPass:
		got := m.drawInto(&s, me, attack.Draws)
		s.setPending(NoEffect{})
		s.HasDrawnThisTurn = false
		s.Message = fmt.Sprintf("%s drew %d cards. Play or pass.", name, got)
		return s

	default:
		return reject(prev, fmt.Sprintf("Counter with a 2 or A♠, or take %d cards.", attack.Draws))
	}
}

func (m *Machine) resolveSkipChain(prev, s GameState, chain SkipChain, in Intent) GameState {
	me := s.ActivePlayerIndex
	name := s.Players[me].Name

	switch in.Kind {
	case IntentPlayCard:
		card, ok := cardAt(s, in.CardIndex)
		if !ok {
			return reject(prev, fmt.Sprintf("No card at position %d.", in.CardIndex))
		}
		if res := rules.CheckChain(card, s.ActiveSuit); !res.Legal {
			return reject(prev, res.Reason)
		}
		discard(&s, in.CardIndex)
		s.Message = fmt.Sprintf("%s chained %s.", name, card)
		if len(s.Players[me].Hand) == 0 {
			return win(s, name)
		}

		if chain.Skips > 0 {
			chain.Skips--
		}
		switch effect := rules.EffectOf(card); effect {
		case rules.EffectChainSkip:
			chain.Skips++
		case rules.EffectDraw2, rules.EffectDraw5:
			chain.Draws += effect.DrawCount()
		}
		s.setPending(chain)
		return s

	case IntentChainPass:
		victim := NextIndex(me, s.Direction, 0, len(s.Players))
		if chain.Draws > 0 {
			got := m.drawInto(&s, victim, chain.Draws)
			s.Message = fmt.Sprintf("Chain ended. %s drew %d cards.", s.Players[victim].Name, got)
		} else {
			s.Message = "Chain ended."
		}
		s.setPending(NoEffect{})
		advance(&s, chain.Skips)
		return announceTurn(s)

	default:
		return reject(prev, fmt.Sprintf("Chain a %s card or pass.", s.ActiveSuit))
	}
}

// drawInto moves up to n cards from the deck into seat idx's hand,
// reshuffling the discard pile under its top card when the deck runs short.
// It returns how many cards were actually drawn.
func (m *Machine) drawInto(s *GameState, idx, n int) int {
	if n <= 0 {
		return 0
	}
	if len(s.Deck) < n && len(s.DiscardPile) > 1 {
		last := len(s.DiscardPile) - 1
		top := s.DiscardPile[last]
		s.Deck = append(s.Deck, cards.Shuffle(s.DiscardPile[:last], m.rng)...)
		s.DiscardPile = []cards.Card{top}
	}
	drawn, rest := cards.Draw(s.Deck, n)
	s.Deck = rest
	s.Players[idx].Hand = append(s.Players[idx].Hand, drawn...)
	return len(drawn)
}

// NextIndex returns the seat reached from active by moving 1+skips seats in
// direction, always within [0, count).
func NextIndex(active, direction, skips, count int) int {
	if count <= 0 {
		return 0
	}
	if direction < 0 {
		direction = -1
	} else {
		direction = 1
	}
	next := (active + direction*(1+skips)) % count
	if next < 0 {
		next += count
	}
	return next
}

// advance passes the turn, jumping skips extra seats. A draw attack stays
// pending for the new active player; anything else returns to normal play.
func advance(s *GameState, skips int) {
	s.ActivePlayerIndex = NextIndex(s.ActivePlayerIndex, s.Direction, skips, len(s.Players))
	s.HasDrawnThisTurn = false
	if attack, ok := s.Pending().(DrawAttack); ok {
		s.setPending(attack)
		return
	}
	s.setPending(NoEffect{})
}

func announceTurn(s GameState) GameState {
	next := s.Players[s.ActivePlayerIndex].Name
	if attack, ok := s.Pending().(DrawAttack); ok {
		s.Message = fmt.Sprintf("%s %s must counter or draw %d.", s.Message, next, attack.Draws)
		return s
	}
	s.Message = fmt.Sprintf("%s %s's turn.", s.Message, next)
	return s
}

func win(s GameState, name string) GameState {
	s.setPending(NoEffect{})
	s.HasDrawnThisTurn = false
	s.Winner = name
	s.Message = fmt.Sprintf("%s wins!", name)
	return s
}

func reject(prev GameState, msg string) GameState {
	out := prev.Clone()
	out.Message = msg
	return out
}

func cardAt(s GameState, idx int) (cards.Card, bool) {
	hand := s.Players[s.ActivePlayerIndex].Hand
	if idx < 0 || idx >= len(hand) {
		return cards.Card{}, false
	}
	return hand[idx], true
}

// discard moves the active player's card at idx onto the discard pile.
func discard(s *GameState, idx int) {
	p := &s.Players[s.ActivePlayerIndex]
	card := p.Hand[idx]
	p.Hand = append(p.Hand[:idx:idx], p.Hand[idx+1:]...)
	s.DiscardPile = append(s.DiscardPile, card)
}
