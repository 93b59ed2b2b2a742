package miniapp

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	DiceBankID = "dice-bank"
	MaxRolls   = 500

	maxDiceCount = 100
	maxDiceSides = 1000
)

var diceSpecRe = regexp.MustCompile(`^(\d*)d(\d+)([+-]\d+)?$`)

type Roll struct {
	ID        string `json:"id"`
	ActorID   string `json:"actorId"`
	ActorName string `json:"actorName"`
	Dice      string `json:"dice"`
	Rolls     []int  `json:"rolls,omitempty"`
	Modifier  int    `json:"modifier,omitempty"`
	Result    int    `json:"result"`
	Fudged    bool   `json:"fudged,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// DiceState is the roll log, newest first.
type DiceState struct {
	Rolls []Roll `json:"rolls"`
}

type DiceSpec struct {
	Count    int
	Sides    int
	Modifier int
}

func (d DiceSpec) String() string {
	s := strconv.Itoa(d.Count) + "d" + strconv.Itoa(d.Sides)
	switch {
	case d.Modifier > 0:
		s += "+" + strconv.Itoa(d.Modifier)
	case d.Modifier < 0:
		s += strconv.Itoa(d.Modifier)
	}
	return s
}

// ParseDice reads NdM with an optional +K/-K modifier. N defaults to 1.
func ParseDice(spec string) (DiceSpec, bool) {
	m := diceSpecRe.FindStringSubmatch(strings.ToLower(strings.ReplaceAll(spec, " ", "")))
	if m == nil {
		return DiceSpec{}, false
	}
	d := DiceSpec{Count: 1}
	if m[1] != "" {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return DiceSpec{}, false
		}
		d.Count = n
	}
	sides, err := strconv.Atoi(m[2])
	if err != nil {
		return DiceSpec{}, false
	}
	d.Sides = sides
	if m[3] != "" {
		mod, err := strconv.Atoi(m[3])
		if err != nil {
			return DiceSpec{}, false
		}
		d.Modifier = mod
	}
	if d.Count < 1 || d.Count > maxDiceCount || d.Sides < 2 || d.Sides > maxDiceSides {
		return DiceSpec{}, false
	}
	return d, true
}

func DiceBank() App {
	return app[DiceState]{
		id:     DiceBankID,
		def:    func() DiceState { return DiceState{Rolls: []Roll{}} },
		reduce: reduceDice,
	}
}

type dicePayload struct {
	Dice   string `json:"dice"`
	Result *int   `json:"result"`
	ID     string `json:"id"`
}

func reduceDice(s DiceState, a Action, env Env) (DiceState, bool) {
	switch a.Name {
	case "roll":
		p, ok := decode[dicePayload](a.Payload)
		if !ok {
			return s, false
		}
		spec, ok := ParseDice(p.Dice)
		if !ok {
			return s, false
		}
		r := newRoll(a, env, spec.String())
		r.Modifier = spec.Modifier
		r.Rolls = make([]int, spec.Count)
		for i := range r.Rolls {
			r.Rolls[i] = env.Rand.IntN(spec.Sides) + 1
			r.Result += r.Rolls[i]
		}
		r.Result += spec.Modifier
		return DiceState{Rolls: prependRoll(s.Rolls, r)}, true

	case "fudge":
		p, ok := decode[dicePayload](a.Payload)
		if !ok || p.Result == nil {
			return s, false
		}
		dice := p.Dice
		if spec, ok := ParseDice(p.Dice); ok {
			dice = spec.String()
		}
		r := newRoll(a, env, dice)
		r.Result = *p.Result
		r.Fudged = true
		return DiceState{Rolls: prependRoll(s.Rolls, r)}, true

	case "remove":
		p, ok := decode[dicePayload](a.Payload)
		if !ok {
			return s, false
		}
		for i, r := range s.Rolls {
			if r.ID == p.ID {
				out := make([]Roll, 0, len(s.Rolls)-1)
				out = append(out, s.Rolls[:i]...)
				out = append(out, s.Rolls[i+1:]...)
				return DiceState{Rolls: out}, true
			}
		}
		return s, false

	case "clear":
		if len(s.Rolls) == 0 {
			return s, false
		}
		return DiceState{Rolls: []Roll{}}, true
	}
	return s, false
}

func newRoll(a Action, env Env, dice string) Roll {
	return Roll{
		ID:        env.NewID(),
		ActorID:   string(a.Actor.ID),
		ActorName: a.Actor.Name,
		Dice:      dice,
		Timestamp: env.Now().UnixMilli(),
	}
}

// prependRoll returns a new slice with r first, capped at MaxRolls.
func prependRoll(rolls []Roll, r Roll) []Roll {
	n := len(rolls) + 1
	if n > MaxRolls {
		n = MaxRolls
	}
	out := make([]Roll, 0, n)
	out = append(out, r)
	return append(out, rolls[:n-1]...)
}
