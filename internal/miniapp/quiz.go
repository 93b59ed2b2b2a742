package miniapp

import "slices"

const QuizID = "quiz"

type QuizPhase string

const (
	QuizIdle     QuizPhase = "idle"
	QuizQuestion QuizPhase = "question"
	QuizResults  QuizPhase = "results"
)

type QuizAnswer struct {
	ActorID   string `json:"actorId"`
	ActorName string `json:"actorName"`
	Option    int    `json:"option"`
	At        int64  `json:"at"`
}

type QuizState struct {
	Phase     QuizPhase    `json:"phase"`
	Question  string       `json:"question,omitempty"`
	Options   []string     `json:"options,omitempty"`
	Correct   int          `json:"correct"`
	TimeLimit int          `json:"timeLimit,omitempty"` // seconds
	StartedAt int64        `json:"startedAt,omitempty"`
	Answers   []QuizAnswer `json:"answers"`
}

func Quiz() App {
	return app[QuizState]{
		id:     QuizID,
		def:    func() QuizState { return QuizState{Phase: QuizIdle, Answers: []QuizAnswer{}} },
		reduce: reduceQuiz,
	}
}

func reduceQuiz(s QuizState, a Action, env Env) (QuizState, bool) {
	switch a.Name {
	case "start-question":
		if s.Phase == QuizQuestion {
			return s, false
		}
		p, ok := decode[struct {
			Question     string   `json:"question"`
			Options      []string `json:"options"`
			CorrectIndex int      `json:"correctIndex"`
			TimeLimit    int      `json:"timeLimit"`
		}](a.Payload)
		if !ok || p.Question == "" || len(p.Options) < 2 {
			return s, false
		}
		if p.CorrectIndex < 0 || p.CorrectIndex >= len(p.Options) || p.TimeLimit < 0 {
			return s, false
		}
		return QuizState{
			Phase:     QuizQuestion,
			Question:  p.Question,
			Options:   slices.Clone(p.Options),
			Correct:   p.CorrectIndex,
			TimeLimit: p.TimeLimit,
			StartedAt: env.Now().UnixMilli(),
			Answers:   []QuizAnswer{},
		}, true

	case "submit-answer":
		if s.Phase != QuizQuestion || a.Actor.ID == "" {
			return s, false
		}
		p, ok := decode[struct {
			Option *int `json:"option"`
		}](a.Payload)
		if !ok || p.Option == nil || *p.Option < 0 || *p.Option >= len(s.Options) {
			return s, false
		}
		for _, ans := range s.Answers {
			if ans.ActorID == string(a.Actor.ID) {
				return s, false
			}
		}
		next := s
		next.Answers = append(slices.Clone(s.Answers), QuizAnswer{
			ActorID:   string(a.Actor.ID),
			ActorName: a.Actor.Name,
			Option:    *p.Option,
			At:        env.Now().UnixMilli(),
		})
		return next, true

	case "reveal-results":
		if s.Phase != QuizQuestion {
			return s, false
		}
		next := s
		next.Phase = QuizResults
		return next, true

	case "reset":
		if s.Phase == QuizIdle && len(s.Answers) == 0 {
			return s, false
		}
		return QuizState{Phase: QuizIdle, Answers: []QuizAnswer{}}, true
	}
	return s, false
}
