package miniapp

import (
	"encoding/json"
	"slices"
)

const CardGameID = "card-game"

type CardPhase string

const (
	CardIdle    CardPhase = "idle"
	CardJoining CardPhase = "joining"
	CardPlaying CardPhase = "playing"
	CardResults CardPhase = "results"
)

type PlayerStatus string

const (
	StatusPlaying   PlayerStatus = "playing"
	StatusStood     PlayerStatus = "stood"
	StatusBust      PlayerStatus = "bust"
	StatusBlackjack PlayerStatus = "blackjack"
)

type Outcome string

const (
	OutcomeWin  Outcome = "win"
	OutcomeLose Outcome = "lose"
	OutcomePush Outcome = "push"
)

var (
	suits = []string{"S", "H", "D", "C"}
	ranks = []string{"A", "2", "3", "4", "5", "6", "7", "8", "9", "10", "J", "Q", "K"}
)

type Card struct {
	Rank string `json:"rank"`
	Suit string `json:"suit"`
}

func (c Card) value() int {
	switch c.Rank {
	case "A":
		return 11
	case "J", "Q", "K", "10":
		return 10
	}
	return int(c.Rank[0] - '0')
}

type CardPlayer struct {
	ID      string       `json:"id"`
	Name    string       `json:"name"`
	Hand    []Card       `json:"hand"`
	Total   int          `json:"total"`
	Status  PlayerStatus `json:"status"`
	Outcome Outcome      `json:"outcome,omitempty"`
}

// Dealer's second card is the hole card while Hidden is set.
type Dealer struct {
	Hand   []Card `json:"hand"`
	Total  int    `json:"total"`
	Hidden bool   `json:"hidden"`
}

// MarshalJSON leaves the hole card out while it is face down.
func (d Dealer) MarshalJSON() ([]byte, error) {
	type wire Dealer
	w := wire(d)
	if d.Hidden && len(d.Hand) > 1 {
		w.Hand = slices.Delete(slices.Clone(d.Hand), 1, 2)
	}
	return json.Marshal(w)
}

type CardState struct {
	Phase   CardPhase    `json:"phase"`
	Players []CardPlayer `json:"players"`
	Dealer  Dealer       `json:"dealer"`
	Turn    int          `json:"turn"` // index into Players, -1 when nobody acts
	Deck    []Card       `json:"-"`
}

// HandTotal counts aces as 11, demoting them to 1 one at a time while over 21.
func HandTotal(hand []Card) int {
	total, aces := 0, 0
	for _, c := range hand {
		total += c.value()
		if c.Rank == "A" {
			aces++
		}
	}
	for total > 21 && aces > 0 {
		total -= 10
		aces--
	}
	return total
}

func NewDeck() []Card {
	deck := make([]Card, 0, len(suits)*len(ranks))
	for _, s := range suits {
		for _, r := range ranks {
			deck = append(deck, Card{Rank: r, Suit: s})
		}
	}
	return deck
}

func CardGame() App {
	return app[CardState]{
		id:     CardGameID,
		def:    func() CardState { return CardState{Phase: CardIdle, Players: []CardPlayer{}, Turn: -1} },
		reduce: reduceCards,
	}
}

func (s CardState) clone() CardState {
	out := s
	out.Deck = slices.Clone(s.Deck)
	out.Dealer.Hand = slices.Clone(s.Dealer.Hand)
	out.Players = make([]CardPlayer, len(s.Players))
	for i, p := range s.Players {
		p.Hand = slices.Clone(p.Hand)
		out.Players[i] = p
	}
	return out
}

func reduceCards(s CardState, a Action, env Env) (CardState, bool) {
	switch a.Name {
	case "start-round":
		if s.Phase == CardJoining || s.Phase == CardPlaying {
			return s, false
		}
		return CardState{
			Phase:   CardJoining,
			Players: []CardPlayer{},
			Turn:    -1,
			Deck:    shuffledDeck(env),
		}, true

	case "join":
		if s.Phase != CardJoining || a.Actor.ID == "" {
			return s, false
		}
		for _, p := range s.Players {
			if p.ID == string(a.Actor.ID) {
				return s, false
			}
		}
		next := s.clone()
		next.Players = append(next.Players, CardPlayer{
			ID:     string(a.Actor.ID),
			Name:   a.Actor.Name,
			Hand:   []Card{},
			Status: StatusPlaying,
		})
		return next, true

	case "deal":
		if s.Phase != CardJoining || len(s.Players) == 0 {
			return s, false
		}
		next := s.clone()
		next.Dealer = Dealer{Hidden: true}
		for range 2 {
			for i := range next.Players {
				next.Players[i].Hand = append(next.Players[i].Hand, next.draw(env))
			}
			next.Dealer.Hand = append(next.Dealer.Hand, next.draw(env))
		}
		for i := range next.Players {
			p := &next.Players[i]
			p.Total = HandTotal(p.Hand)
			if p.Total == 21 {
				p.Status = StatusBlackjack
			}
		}
		next.Dealer.Total = HandTotal(next.Dealer.Hand[:1])
		next.Phase = CardPlaying
		next.Turn = -1
		next.advanceTurn(env)
		return next, true

	case "hit":
		if !s.actorsTurn(a) {
			return s, false
		}
		next := s.clone()
		p := &next.Players[next.Turn]
		p.Hand = append(p.Hand, next.draw(env))
		p.Total = HandTotal(p.Hand)
		switch {
		case p.Total > 21:
			p.Status = StatusBust
		case p.Total == 21:
			p.Status = StatusStood
		}
		if p.Status != StatusPlaying {
			next.advanceTurn(env)
		}
		return next, true

	case "stand":
		if !s.actorsTurn(a) {
			return s, false
		}
		next := s.clone()
		next.Players[next.Turn].Status = StatusStood
		next.advanceTurn(env)
		return next, true

	case "reset":
		if s.Phase == CardIdle {
			return s, false
		}
		return CardState{Phase: CardIdle, Players: []CardPlayer{}, Turn: -1}, true
	}
	return s, false
}

func (s CardState) actorsTurn(a Action) bool {
	return s.Phase == CardPlaying && s.Turn >= 0 && s.Turn < len(s.Players) &&
		s.Players[s.Turn].ID == string(a.Actor.ID)
}

// advanceTurn moves to the next unresolved player after Turn. When none is
// left the dealer plays out and the round goes to results.
func (s *CardState) advanceTurn(env Env) {
	for i := s.Turn + 1; i < len(s.Players); i++ {
		if s.Players[i].Status == StatusPlaying {
			s.Turn = i
			return
		}
	}
	s.Turn = -1
	s.dealerPlay(env)
}

func (s *CardState) dealerPlay(env Env) {
	s.Dealer.Hidden = false
	s.Dealer.Total = HandTotal(s.Dealer.Hand)
	for s.Dealer.Total < 17 {
		s.Dealer.Hand = append(s.Dealer.Hand, s.draw(env))
		s.Dealer.Total = HandTotal(s.Dealer.Hand)
	}
	dealerBJ := s.Dealer.Total == 21 && len(s.Dealer.Hand) == 2
	for i := range s.Players {
		p := &s.Players[i]
		switch {
		case p.Status == StatusBust:
			p.Outcome = OutcomeLose
		case p.Status == StatusBlackjack && !dealerBJ:
			p.Outcome = OutcomeWin
		case p.Status == StatusBlackjack:
			p.Outcome = OutcomePush
		case dealerBJ:
			p.Outcome = OutcomeLose
		case s.Dealer.Total > 21 || p.Total > s.Dealer.Total:
			p.Outcome = OutcomeWin
		case p.Total == s.Dealer.Total:
			p.Outcome = OutcomePush
		default:
			p.Outcome = OutcomeLose
		}
	}
	s.Phase = CardResults
}

func (s *CardState) draw(env Env) Card {
	if len(s.Deck) == 0 {
		s.Deck = shuffledDeck(env)
	}
	c := s.Deck[0]
	s.Deck = s.Deck[1:]
	return c
}

func shuffledDeck(env Env) []Card {
	deck := NewDeck()
	env.Rand.Shuffle(len(deck), func(i, j int) { deck[i], deck[j] = deck[j], deck[i] })
	return deck
}
