package cards

// Shuffler is satisfied by *math/rand/v2.Rand and *math/rand.Rand.
type Shuffler interface {
	Shuffle(n int, swap func(i, j int))
}

// NewDeck returns the 52-card deck in suit-major order.
func NewDeck() []Card {
	deck := make([]Card, 0, DeckSize)
	for _, s := range Suits {
		for _, r := range Ranks {
			deck = append(deck, New(s, r))
		}
	}
	return deck
}

// Shuffle returns a uniformly permuted copy of deck. The input is left untouched.
func Shuffle(deck []Card, rng Shuffler) []Card {
	out := make([]Card, len(deck))
	copy(out, deck)
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// Draw takes up to n cards from the tail of deck. The first drawn card is
// the last element of deck. The remainder is a fresh slice.
func Draw(deck []Card, n int) (drawn, rest []Card) {
	if n < 0 {
		n = 0
	}
	if n > len(deck) {
		n = len(deck)
	}
	split := len(deck) - n
	drawn = make([]Card, 0, n)
	for i := len(deck) - 1; i >= split; i-- {
		drawn = append(drawn, deck[i])
	}
	rest = make([]Card, split)
	copy(rest, deck[:split])
	return drawn, rest
}
