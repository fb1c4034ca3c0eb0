package server

import (
	"time"

	"github.com/financebuddy/financebuddy/pkg/flow"
	"github.com/financebuddy/financebuddy/pkg/quiz"
	"github.com/financebuddy/financebuddy/pkg/session"
)

// questionView is a question as the API exposes it. The answer key and
// explanation stay hidden until the flow reveals them.
type questionView struct {
	ID         string            `json:"id"`
	Question   string            `json:"question"`
	Options    map[string]string `json:"options"`
	Difficulty string            `json:"difficulty"`

	SourceReferences []quiz.SourceReference `json:"sourceReferences,omitempty"`
	CommonKnowledge  bool                   `json:"commonKnowledge,omitempty"`

	CorrectAnswer string `json:"correctAnswer,omitempty"`
	UserAnswer    string `json:"userAnswer,omitempty"`
	Correct       *bool  `json:"correct,omitempty"`

	Explanation *explanationView `json:"explanation,omitempty"`
}

type explanationView struct {
	Text             string                 `json:"explanation"`
	WhyWrong         map[string]string      `json:"whyWrong,omitempty"`
	SourceReferences []quiz.SourceReference `json:"sourceReferences,omitempty"`
	Fallback         bool                   `json:"fallback,omitempty"`
}

// sessionView is the session summary returned by most endpoints.
type sessionView struct {
	ID              string         `json:"id"`
	Topic           string         `json:"topic"`
	QuestionCount   int            `json:"questionCount"`
	Difficulty      string         `json:"difficulty,omitempty"`
	Step            session.Step   `json:"step"`
	Progress        int            `json:"progress"`
	StepDescription string         `json:"stepDescription"`
	AllowedActions  []flow.Action  `json:"allowedActions"`
	Score           *session.Score `json:"score,omitempty"`
	FollowupCount   int            `json:"followupCount,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	ExpiresAt       time.Time      `json:"expiresAt"`
}

type followupView struct {
	Question string    `json:"question"`
	Answer   string    `json:"answer"`
	Grounded bool      `json:"grounded"`
	AskedAt  time.Time `json:"askedAt"`
}

// viewOptions control how much of a question a response may show.
type viewOptions struct {
	revealAnswers       bool
	includeExplanations bool
	includeUserAnswers  bool
}

func newSessionView(state *flow.ViewState) sessionView {
	sess := state.Session
	return sessionView{
		ID:              sess.ID,
		Topic:           sess.Topic,
		QuestionCount:   sess.QuestionCount,
		Difficulty:      sess.Difficulty,
		Step:            sess.Step,
		Progress:        state.Progress,
		StepDescription: state.StepDescription,
		AllowedActions:  state.AllowedActions,
		Score:           sess.Score,
		FollowupCount:   len(sess.Followups),
		CreatedAt:       sess.CreatedAt,
		ExpiresAt:       sess.ExpiresAt,
	}
}

func questionViews(sess *session.Session, opts viewOptions) []questionView {
	views := make([]questionView, 0, len(sess.Questions))
	for _, q := range sess.Questions {
		view := questionView{
			ID:               q.ID,
			Question:         q.Text,
			Options:          q.Options,
			Difficulty:       q.Difficulty,
			SourceReferences: q.SourceReferences,
			CommonKnowledge:  q.CommonKnowledge,
		}

		if opts.revealAnswers {
			view.CorrectAnswer = q.CorrectAnswer
		}
		if opts.includeUserAnswers && sess.UserAnswers != nil {
			if answer, ok := sess.UserAnswers[q.ID]; ok {
				view.UserAnswer = answer
				correct := answer == q.CorrectAnswer
				view.Correct = &correct
			}
		}
		if opts.includeExplanations {
			if exp, ok := sess.Explanations[q.ID]; ok {
				view.Explanation = &explanationView{
					Text:             exp.Text,
					WhyWrong:         exp.WhyWrong,
					SourceReferences: exp.SourceReferences,
					Fallback:         exp.Fallback,
				}
			}
		}
		views = append(views, view)
	}
	return views
}

func followupViews(sess *session.Session) []followupView {
	views := make([]followupView, 0, len(sess.Followups))
	for _, ex := range sess.Followups {
		views = append(views, followupView{
			Question: ex.Question,
			Answer:   ex.Answer,
			Grounded: ex.Grounded,
			AskedAt:  ex.AskedAt,
		})
	}
	return views
}
