package game

import (
	"math/rand/v2"
	"testing"

	"github.com/crazyremix/remix-server/internal/game/cards"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var seatNames = []string{"Alice", "Bob", "Cara", "Dan"}

func newTestMachine() *Machine {
	return NewMachine(rand.New(rand.NewPCG(7, 11)))
}

func c(s cards.Suit, r cards.Rank) cards.Card {
	return cards.Card{Suit: s, Rank: r, ID: string(r) + string(s)}
}

// table builds a PLAYING state from explicit hands and discard pile; the deck
// holds every remaining card so the 52-card total is preserved.
func table(t *testing.T, hands [][]cards.Card, discardPile []cards.Card, active cards.Suit) GameState {
	t.Helper()
	used := append([]cards.Card{}, discardPile...)
	players := make([]Player, len(hands))
	for i, h := range hands {
		players[i] = Player{ID: i, Name: seatNames[i], Hand: h}
		used = append(used, h...)
	}
	var deck []cards.Card
	for _, d := range cards.NewDeck() {
		taken := false
		for _, u := range used {
			if u.Same(d) {
				taken = true
				break
			}
		}
		if !taken {
			deck = append(deck, d)
		}
	}
	s := GameState{
		Players:     players,
		Deck:        deck,
		DiscardPile: discardPile,
		ActiveSuit:  active,
		Direction:   1,
		TurnState:   TurnPlaying,
	}
	require.Equal(t, cards.DeckSize, s.CardCount())
	return s
}

// assertUnchanged checks that next equals prev apart from the advisory message.
func assertUnchanged(t *testing.T, prev, next GameState) {
	t.Helper()
	assert.NotEmpty(t, next.Message)
	next.Message = prev.Message
	assert.Equal(t, prev, next)
}

func TestInitialize(t *testing.T) {
	m := newTestMachine()

	s, err := m.Initialize(seatNames[:2])
	require.NoError(t, err)

	require.Len(t, s.Players, 2)
	assert.Len(t, s.Players[0].Hand, 6)
	assert.Len(t, s.Players[1].Hand, 5)
	assert.Len(t, s.Deck, 41)
	assert.Empty(t, s.DiscardPile)
	assert.Equal(t, cards.NoSuit, s.ActiveSuit)
	assert.Equal(t, 0, s.ActivePlayerIndex)
	assert.Equal(t, 1, s.Direction)
	assert.Equal(t, TurnPlaying, s.TurnState)
	assert.Equal(t, cards.DeckSize, s.CardCount())
	assert.Equal(t, []string{"Alice", "Bob"}, s.PlayerNames())

	s4, err := m.Initialize(seatNames)
	require.NoError(t, err)
	assert.Len(t, s4.Deck, 52-6-5*3)
	for i, p := range s4.Players {
		assert.Equal(t, i, p.ID)
	}
}

func TestInitializeRejectsPlayerCount(t *testing.T) {
	m := newTestMachine()
	_, err := m.Initialize([]string{"Solo"})
	assert.ErrorIs(t, err, ErrPlayerCount)
	_, err = m.Initialize([]string{"a", "b", "c", "d", "e"})
	assert.ErrorIs(t, err, ErrPlayerCount)
}

func TestOpeningMoveAcceptsAnyCard(t *testing.T) {
	m := newTestMachine()
	s, err := m.Initialize(seatNames[:2])
	require.NoError(t, err)

	for i := range s.Players[0].Hand {
		next := m.Apply(s, PlayCard(0, i, cards.Hearts))
		require.Len(t, next.DiscardPile, 1, "card %s", s.Players[0].Hand[i])
		assert.Len(t, next.Players[0].Hand, 5)
		assert.Equal(t, cards.DeckSize, next.CardCount())
	}
}

func TestWildWithoutChoiceWaitsForSuit(t *testing.T) {
	m := newTestMachine()
	s := table(t, [][]cards.Card{
		{c(cards.Spades, cards.Eight), c(cards.Hearts, cards.King)},
		{c(cards.Clubs, cards.Four)},
	}, []cards.Card{c(cards.Hearts, cards.Nine)}, cards.Hearts)

	s = m.Apply(s, PlayCard(0, 0, cards.NoSuit))
	assert.Equal(t, TurnSuitSelection, s.TurnState)
	assert.Equal(t, 0, s.ActivePlayerIndex)
	assert.Equal(t, cards.Spades, s.ActiveSuit)

	blocked := m.Apply(s, Draw(0))
	assertUnchanged(t, s, blocked)

	s = m.Apply(s, SelectSuit(0, cards.Hearts))
	assert.Equal(t, cards.Hearts, s.ActiveSuit)
	assert.Equal(t, 1, s.ActivePlayerIndex)
	assert.Equal(t, TurnPlaying, s.TurnState)
}

func TestWildWithChoiceAdvances(t *testing.T) {
	m := newTestMachine()
	s := table(t, [][]cards.Card{
		{c(cards.Diamonds, cards.Jack), c(cards.Hearts, cards.King)},
		{c(cards.Clubs, cards.Four)},
	}, []cards.Card{c(cards.Hearts, cards.Nine)}, cards.Hearts)

	s = m.Apply(s, PlayCard(0, 0, cards.Clubs))
	assert.Equal(t, cards.Clubs, s.ActiveSuit)
	assert.Equal(t, 1, s.ActivePlayerIndex)
	assert.Equal(t, TurnPlaying, s.TurnState)
}

func TestWildOnWildKeepsActiveSuit(t *testing.T) {
	m := newTestMachine()
	s := table(t, [][]cards.Card{
		{c(cards.Spades, cards.Eight), c(cards.Hearts, cards.King)},
		{c(cards.Clubs, cards.Four)},
	}, []cards.Card{c(cards.Hearts, cards.Jack)}, cards.Clubs)

	s = m.Apply(s, PlayCard(0, 0, cards.Diamonds))
	assert.Equal(t, cards.Clubs, s.ActiveSuit)
	assert.Equal(t, 1, s.ActivePlayerIndex)
	assert.Equal(t, TurnPlaying, s.TurnState)
}

func TestInvalidSuitChoiceIsRejected(t *testing.T) {
	m := newTestMachine()
	s := table(t, [][]cards.Card{
		{c(cards.Spades, cards.Eight), c(cards.Hearts, cards.King)},
		{c(cards.Clubs, cards.Four)},
	}, []cards.Card{c(cards.Hearts, cards.Nine)}, cards.Hearts)

	assertUnchanged(t, s, m.Apply(s, PlayCard(0, 0, cards.Suit("X"))))

	waiting := m.Apply(s, PlayCard(0, 0, cards.NoSuit))
	require.Equal(t, TurnSuitSelection, waiting.TurnState)
	assertUnchanged(t, waiting, m.Apply(waiting, SelectSuit(0, cards.Suit("stars"))))
	assertUnchanged(t, waiting, m.Apply(waiting, SelectSuit(0, cards.NoSuit)))
}

func TestDrawAttackStacksAndResolves(t *testing.T) {
	m := newTestMachine()
	s := table(t, [][]cards.Card{
		{c(cards.Diamonds, cards.Two), c(cards.Diamonds, cards.King)},
		{c(cards.Clubs, cards.Two), c(cards.Hearts, cards.Four)},
		{c(cards.Clubs, cards.Nine), c(cards.Hearts, cards.Three)},
	}, []cards.Card{c(cards.Diamonds, cards.Nine)}, cards.Diamonds)

	s = m.Apply(s, PlayCard(0, 0, cards.NoSuit))
	assert.Equal(t, TurnDrawPending, s.TurnState)
	assert.Equal(t, 2, s.PendingDraws)
	assert.Equal(t, 1, s.ActivePlayerIndex)

	s = m.Apply(s, PlayCard(1, 0, cards.NoSuit))
	assert.Equal(t, TurnDrawPending, s.TurnState)
	assert.Equal(t, 4, s.PendingDraws)
	assert.Equal(t, 2, s.ActivePlayerIndex)
	assert.Equal(t, cards.Clubs, s.ActiveSuit)

	s = m.Apply(s, ChainPass(2))
	assert.Len(t, s.Players[2].Hand, 6)
	assert.Equal(t, 0, s.PendingDraws)
	assert.Equal(t, TurnPlaying, s.TurnState)
	assert.Equal(t, 2, s.ActivePlayerIndex)
	assert.False(t, s.HasDrawnThisTurn)
	assert.Equal(t, cards.DeckSize, s.CardCount())
}

func TestDrawAttackOnlyAcceptsCounters(t *testing.T) {
	m := newTestMachine()
	s := table(t, [][]cards.Card{
		{c(cards.Spades, cards.Ace), c(cards.Diamonds, cards.King)},
		{c(cards.Hearts, cards.Two), c(cards.Spades, cards.Two), c(cards.Spades, cards.King), c(cards.Clubs, cards.Eight)},
	}, []cards.Card{c(cards.Spades, cards.Nine)}, cards.Spades)

	s = m.Apply(s, PlayCard(0, 0, cards.NoSuit))
	require.Equal(t, TurnDrawPending, s.TurnState)
	require.Equal(t, 5, s.PendingDraws)

	assertUnchanged(t, s, m.Apply(s, PlayCard(1, 0, cards.NoSuit)))
	assertUnchanged(t, s, m.Apply(s, PlayCard(1, 2, cards.NoSuit)))
	assertUnchanged(t, s, m.Apply(s, PlayCard(1, 3, cards.Hearts)))
	assertUnchanged(t, s, m.Apply(s, Draw(1)))
	assertUnchanged(t, s, m.Apply(s, Skip(1)))

	s = m.Apply(s, PlayCard(1, 1, cards.NoSuit))
	assert.Equal(t, 7, s.PendingDraws)
	assert.Equal(t, 0, s.ActivePlayerIndex)
	assert.Equal(t, TurnDrawPending, s.TurnState)
}

func TestAceOfSpadesCannotCounterOffSpades(t *testing.T) {
	m := newTestMachine()
	s := table(t, [][]cards.Card{
		{c(cards.Hearts, cards.Two), c(cards.Diamonds, cards.King)},
		{c(cards.Spades, cards.Ace), c(cards.Hearts, cards.Four)},
	}, []cards.Card{c(cards.Hearts, cards.Nine)}, cards.Hearts)

	s = m.Apply(s, PlayCard(0, 0, cards.NoSuit))
	require.Equal(t, TurnDrawPending, s.TurnState)
	assertUnchanged(t, s, m.Apply(s, PlayCard(1, 0, cards.NoSuit)))
}

func TestSkipCardJumpsNextPlayer(t *testing.T) {
	m := newTestMachine()
	s := table(t, [][]cards.Card{
		{c(cards.Hearts, cards.Five), c(cards.Diamonds, cards.King)},
		{c(cards.Clubs, cards.Four)},
		{c(cards.Clubs, cards.Six)},
	}, []cards.Card{c(cards.Hearts, cards.Nine)}, cards.Hearts)

	s = m.Apply(s, PlayCard(0, 0, cards.NoSuit))
	assert.Equal(t, 2, s.ActivePlayerIndex)
	assert.Equal(t, TurnPlaying, s.TurnState)
	assert.Equal(t, 0, s.PendingSkips)
}

func TestSkipChainAccumulatesAndCharges(t *testing.T) {
	m := newTestMachine()
	s := table(t, [][]cards.Card{
		{c(cards.Hearts, cards.Seven), c(cards.Hearts, cards.Two), c(cards.Hearts, cards.King), c(cards.Clubs, cards.Three)},
		{c(cards.Clubs, cards.Four)},
		{c(cards.Clubs, cards.Six)},
	}, []cards.Card{c(cards.Hearts, cards.Nine)}, cards.Hearts)

	s = m.Apply(s, PlayCard(0, 0, cards.NoSuit))
	require.Equal(t, TurnChainDecision, s.TurnState)
	assert.Equal(t, 1, s.PendingSkips)
	assert.Equal(t, 0, s.ActivePlayerIndex)

	assertUnchanged(t, s, m.Apply(s, PlayCard(0, 2, cards.NoSuit)))

	s = m.Apply(s, PlayCard(0, 0, cards.NoSuit))
	assert.Equal(t, TurnChainDecision, s.TurnState)
	assert.Equal(t, 0, s.PendingSkips)
	assert.Equal(t, 2, s.PendingDraws)
	assert.Equal(t, 0, s.ActivePlayerIndex)

	s = m.Apply(s, ChainPass(0))
	assert.Len(t, s.Players[1].Hand, 3)
	assert.Equal(t, 1, s.ActivePlayerIndex)
	assert.Equal(t, TurnPlaying, s.TurnState)
	assert.Equal(t, 0, s.PendingDraws)
	assert.Equal(t, 0, s.PendingSkips)
	assert.Equal(t, cards.DeckSize, s.CardCount())
}

func TestSkipChainPassConsumesPendingSkip(t *testing.T) {
	m := newTestMachine()
	s := table(t, [][]cards.Card{
		{c(cards.Hearts, cards.Seven), c(cards.Hearts, cards.King)},
		{c(cards.Clubs, cards.Four)},
		{c(cards.Clubs, cards.Six)},
	}, []cards.Card{c(cards.Hearts, cards.Nine)}, cards.Hearts)

	s = m.Apply(s, PlayCard(0, 0, cards.NoSuit))
	s = m.Apply(s, ChainPass(0))
	assert.Equal(t, 2, s.ActivePlayerIndex)
	assert.Len(t, s.Players[1].Hand, 1)
	assert.Equal(t, TurnPlaying, s.TurnState)
}

func TestDrawThenPass(t *testing.T) {
	m := newTestMachine()
	s := table(t, [][]cards.Card{
		{c(cards.Clubs, cards.King)},
		{c(cards.Clubs, cards.Four)},
	}, []cards.Card{c(cards.Hearts, cards.Nine)}, cards.Hearts)

	s = m.Apply(s, Draw(0))
	assert.Len(t, s.Players[0].Hand, 2)
	assert.True(t, s.HasDrawnThisTurn)
	assert.Equal(t, 0, s.ActivePlayerIndex)

	s = m.Apply(s, Skip(0))
	assert.Len(t, s.Players[0].Hand, 2)
	assert.Equal(t, 1, s.ActivePlayerIndex)
	assert.False(t, s.HasDrawnThisTurn)

	s = m.Apply(s, Skip(1))
	assert.Len(t, s.Players[1].Hand, 2, "passing without drawing costs a card")
	assert.Equal(t, 0, s.ActivePlayerIndex)
}

func TestEmptyHandWins(t *testing.T) {
	m := newTestMachine()
	s := table(t, [][]cards.Card{
		{c(cards.Hearts, cards.Two)},
		{c(cards.Clubs, cards.Four)},
	}, []cards.Card{c(cards.Hearts, cards.Nine)}, cards.Hearts)

	s = m.Apply(s, PlayCard(0, 0, cards.NoSuit))
	require.True(t, s.Finished())
	assert.Equal(t, "Alice", s.Winner)
	assert.Equal(t, TurnPlaying, s.TurnState)
	assert.Equal(t, 0, s.PendingDraws)

	for _, in := range []Intent{Draw(0), Draw(1), Skip(1), PlayCard(1, 0, cards.NoSuit), ChainPass(1)} {
		assertUnchanged(t, s, m.Apply(s, in))
	}
}

func TestReshuffleKeepsTopCard(t *testing.T) {
	m := newTestMachine()
	s := table(t, [][]cards.Card{
		{c(cards.Clubs, cards.King)},
		{c(cards.Clubs, cards.Four)},
	}, []cards.Card{c(cards.Clubs, cards.Three), c(cards.Diamonds, cards.Four), c(cards.Hearts, cards.Nine)}, cards.Hearts)
	// Park the deck in the first hand so the draw has to reshuffle.
	s.Players[0].Hand = append(s.Players[0].Hand, s.Deck...)
	s.Deck = nil

	next := m.Apply(s, Draw(0))
	assert.Len(t, next.Players[0].Hand, len(s.Players[0].Hand)+1)
	require.Len(t, next.DiscardPile, 1)
	assert.Equal(t, c(cards.Hearts, cards.Nine), next.DiscardPile[0])
	assert.Len(t, next.Deck, 1)
	assert.Equal(t, cards.DeckSize, next.CardCount())
}

func TestDrawWithNothingLeft(t *testing.T) {
	m := newTestMachine()
	s := table(t, [][]cards.Card{
		{c(cards.Clubs, cards.King)},
		{c(cards.Clubs, cards.Four)},
	}, []cards.Card{c(cards.Hearts, cards.Nine)}, cards.Hearts)
	s.Players[1].Hand = append(s.Players[1].Hand, s.Deck...)
	s.Deck = nil

	assertUnchanged(t, s, m.Apply(s, Draw(0)))

	// A pass still works with an exhausted table.
	next := m.Apply(s, Skip(0))
	assert.Equal(t, 1, next.ActivePlayerIndex)
	assert.Equal(t, cards.DeckSize, next.CardCount())
}

func TestRuleViolationsLeaveStateUnchanged(t *testing.T) {
	m := newTestMachine()
	s := table(t, [][]cards.Card{
		{c(cards.Clubs, cards.King), c(cards.Hearts, cards.Four)},
		{c(cards.Clubs, cards.Four)},
	}, []cards.Card{c(cards.Hearts, cards.Nine)}, cards.Hearts)

	tests := []struct {
		name string
		in   Intent
	}{
		{"wrong turn", Draw(1)},
		{"negative index", PlayCard(0, -1, cards.NoSuit)},
		{"index past hand", PlayCard(0, 99, cards.NoSuit)},
		{"illegal card", PlayCard(0, 0, cards.NoSuit)},
		{"chain pass outside chain", ChainPass(0)},
		{"select suit while playing", SelectSuit(0, cards.Hearts)},
		{"unknown kind", Intent{Kind: "TELEPORT", Player: 0}},
		{"restart", Intent{Kind: IntentRestart, Player: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertUnchanged(t, s, m.Apply(s, tt.in))
		})
	}
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	m := newTestMachine()
	s, err := m.Initialize(seatNames[:3])
	require.NoError(t, err)
	before := s.Clone()

	next := m.Apply(s, PlayCard(0, 0, cards.Spades))
	next = m.Apply(next, Draw(next.ActivePlayerIndex))
	_ = m.Apply(next, Skip(next.ActivePlayerIndex))

	assert.Equal(t, before, s)
}

func TestApplyWithoutMatch(t *testing.T) {
	m := newTestMachine()
	out := m.Apply(GameState{}, Draw(0))
	assert.Empty(t, out.Players)
	assert.NotEmpty(t, out.Message)
}

func TestNextIndexStaysInRange(t *testing.T) {
	for count := MinPlayers; count <= MaxPlayers; count++ {
		for _, dir := range []int{1, -1} {
			for active := 0; active < count; active++ {
				for skips := 0; skips < 25; skips++ {
					next := NextIndex(active, dir, skips, count)
					assert.GreaterOrEqual(t, next, 0)
					assert.Less(t, next, count)
				}
			}
		}
	}
	assert.Equal(t, 3, NextIndex(0, -1, 0, 4))
	assert.Equal(t, 2, NextIndex(0, 1, 1, 4))
	assert.Equal(t, 0, NextIndex(1, 1, 0, 2))
}

// TestRandomIntentsPreserveInvariants throws arbitrary, mostly illegal
// intents at the machine and checks the structural invariants after each.
func TestRandomIntentsPreserveInvariants(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 5))
	m := NewMachine(rng)
	kinds := []IntentKind{IntentPlayCard, IntentPlayCard, IntentPlayCard, IntentDraw, IntentSkip, IntentChainPass, IntentSelectSuit}
	suits := append([]cards.Suit{cards.NoSuit, "?"}, cards.Suits...)

	for match := 0; match < 20; match++ {
		count := MinPlayers + match%(MaxPlayers-MinPlayers+1)
		s, err := m.Initialize(seatNames[:count])
		require.NoError(t, err)

		for step := 0; step < 400 && !s.Finished(); step++ {
			in := Intent{
				Kind:       kinds[rng.IntN(len(kinds))],
				Player:     s.ActivePlayerIndex,
				CardIndex:  rng.IntN(10) - 1,
				SuitChoice: suits[rng.IntN(len(suits))],
				Suit:       suits[rng.IntN(len(suits))],
			}
			if rng.IntN(10) == 0 {
				in.Player = rng.IntN(count)
			}
			s = m.Apply(s, in)

			require.Equal(t, cards.DeckSize, s.CardCount(), "match %d step %d", match, step)
			require.GreaterOrEqual(t, s.ActivePlayerIndex, 0)
			require.Less(t, s.ActivePlayerIndex, count)
			require.GreaterOrEqual(t, s.PendingDraws, 0)
			require.GreaterOrEqual(t, s.PendingSkips, 0)
			if s.TurnState == TurnPlaying || s.TurnState == TurnSuitSelection {
				require.Zero(t, s.PendingDraws)
				require.Zero(t, s.PendingSkips)
			}
		}
	}
}
