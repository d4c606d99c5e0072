package selfplay

import (
	"sort"

	"github.com/crazyremix/remix-server/internal/game"
)

// Standing is one seat's record over a series.
type Standing struct {
	Name   string `json:"name"`
	Wins   int    `json:"wins"`
	Losses int    `json:"losses"`
	// CardsLeft sums the cards held at the end of lost rounds; fewer is better.
	CardsLeft int `json:"cardsLeft"`
}

// Standings tallies finished rounds. Seat order is kept for ties.
type Standings struct {
	order   []string
	players map[string]*Standing
	rounds  int
}

func newStandings(names []string) *Standings {
	s := &Standings{
		order:   append([]string(nil), names...),
		players: make(map[string]*Standing, len(names)),
	}
	for _, name := range names {
		s.players[name] = &Standing{Name: name}
	}
	return s
}

// Record scores a finished round. Unfinished states are ignored.
func (s *Standings) Record(final game.GameState) {
	if !final.Finished() {
		return
	}
	s.rounds++
	for _, p := range final.Players {
		st, ok := s.players[p.Name]
		if !ok {
			continue
		}
		if p.Name == final.Winner {
			st.Wins++
			continue
		}
		st.Losses++
		st.CardsLeft += len(p.Hand)
	}
}

// Rounds is the number of recorded rounds.
func (s *Standings) Rounds() int { return s.rounds }

// Table returns the standings best first: most wins, then fewest cards left.
func (s *Standings) Table() []Standing {
	out := make([]Standing, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, *s.players[name])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Wins != out[j].Wins {
			return out[i].Wins > out[j].Wins
		}
		return out[i].CardsLeft < out[j].CardsLeft
	})
	return out
}
