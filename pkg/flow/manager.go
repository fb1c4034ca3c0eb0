package flow

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/financebuddy/financebuddy/pkg/apierr"
	"github.com/financebuddy/financebuddy/pkg/llm"
	"github.com/financebuddy/financebuddy/pkg/prompt"
	"github.com/financebuddy/financebuddy/pkg/quiz"
	"github.com/financebuddy/financebuddy/pkg/retrieval"
	"github.com/financebuddy/financebuddy/pkg/session"
)

const (
	// defaultTransitionTimeout bounds one full flow action end to end.
	defaultTransitionTimeout = 60 * time.Second

	followupContextLimit = 5
	followupMinScore     = 0.5

	explainConcurrency = 4
)

// ErrorState is a downstream failure materialized into view state.
type ErrorState struct {
	Kind    apierr.Kind `json:"kind"`
	Message string      `json:"message"`

	AllowedActions []string `json:"allowedActions,omitempty"`
}

// ViewState is the UI-facing snapshot published after every change.
type ViewState struct {
	SessionID       string           `json:"sessionId"`
	CurrentStep     session.Step     `json:"currentStep"`
	Progress        int              `json:"progress"`
	StepDescription string           `json:"stepDescription"`
	IsLoading       bool             `json:"isLoading"`
	Error           *ErrorState      `json:"error,omitempty"`
	AllowedActions  []Action         `json:"allowedActions"`
	Session         *session.Session `json:"session,omitempty"`
}

// Subscriber receives view-state notifications.
type Subscriber func(ViewState)

// ManagerConfig tunes the flow manager.
type ManagerConfig struct {
	// TransitionTimeout bounds a full flow action; defaults to 60s.
	TransitionTimeout time.Duration

	// SessionTTLExtension, when positive, extends the session on every
	// successful action.
	SessionTTLExtension time.Duration
}

// Manager executes flow actions against sessions, serializing per session
// and publishing view state to subscribers.
type Manager struct {
	store     session.Store
	generator *quiz.Generator
	explainer *quiz.Explainer
	retriever *retrieval.Retriever
	adapter   llm.Adapter
	cfg       ManagerConfig
	logger    *slog.Logger

	// subMu guards subscribers and keeps notifications ordered; delivery is
	// synchronous under the lock so no subscriber is called after it
	// unsubscribes.
	subMu   sync.Mutex
	subs    []managedSubscriber
	nextSub int

	// lockMu guards locks; each entry is a one-slot semaphore keyed by
	// session id for the fail-fast busy behavior.
	lockMu sync.Mutex
	locks  map[string]chan struct{}
}

type managedSubscriber struct {
	id int
	fn Subscriber
}

// NewManager creates a flow manager.
func NewManager(store session.Store, generator *quiz.Generator, explainer *quiz.Explainer, retriever *retrieval.Retriever, adapter llm.Adapter, cfg ManagerConfig) *Manager {
	if cfg.TransitionTimeout <= 0 {
		cfg.TransitionTimeout = defaultTransitionTimeout
	}
	return &Manager{
		store:     store,
		generator: generator,
		explainer: explainer,
		retriever: retriever,
		adapter:   adapter,
		cfg:       cfg,
		logger:    slog.Default().With("component", "flow.manager"),
		locks:     make(map[string]chan struct{}),
	}
}

// Subscribe registers a view-state subscriber and returns its unsubscribe
// function.
func (m *Manager) Subscribe(fn Subscriber) func() {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	id := m.nextSub
	m.nextSub++
	m.subs = append(m.subs, managedSubscriber{id: id, fn: fn})

	return func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		for i, sub := range m.subs {
			if sub.id == id {
				m.subs = append(m.subs[:i], m.subs[i+1:]...)
				return
			}
		}
	}
}

func (m *Manager) notify(state ViewState) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, sub := range m.subs {
		sub.fn(state)
	}
}

// Create starts a new session at the input step.
func (m *Manager) Create(ctx context.Context, topic string, questionCount int, difficulty, userID string) (*ViewState, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, apierr.New(apierr.KindValidation, "topic must not be empty")
	}
	if questionCount < 1 {
		return nil, apierr.New(apierr.KindValidation, "question count must be positive")
	}

	sess := &session.Session{
		Topic:         topic,
		QuestionCount: questionCount,
		Difficulty:    difficulty,
		UserID:        userID,
		Step:          session.StepInput,
	}
	if err := m.store.Create(ctx, sess); err != nil {
		return nil, err
	}

	m.logger.Info("Session created", "session_id", sess.ID, "topic", topic, "count", questionCount)
	state := m.viewOf(sess, false, nil)
	m.notify(state)
	return &state, nil
}

// View returns the current view state without running an action.
func (m *Manager) View(ctx context.Context, sessionID string) (*ViewState, error) {
	sess, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	state := m.viewOf(sess, false, nil)
	return &state, nil
}

// Generate runs generate_questions: retrieve context, generate and attach
// questions.
func (m *Manager) Generate(ctx context.Context, sessionID string) (*ViewState, error) {
	return m.run(ctx, sessionID, ActionGenerateQuestions, func(ctx context.Context, sess *session.Session) error {
		result, err := m.generator.Generate(ctx, sess.Topic, sess.QuestionCount, sess.Difficulty)
		if err != nil {
			return err
		}
		sess.Questions = result.Questions
		return nil
	})
}

// Reveal runs reveal_answers: record the student's answers and score them.
func (m *Manager) Reveal(ctx context.Context, sessionID string, answers map[string]string) (*ViewState, error) {
	return m.run(ctx, sessionID, ActionRevealAnswers, func(_ context.Context, sess *session.Session) error {
		if err := checkAnswers(sess.Questions, answers); err != nil {
			return err
		}

		sess.UserAnswers = answers
		score := &session.Score{Total: len(sess.Questions)}
		for _, q := range sess.Questions {
			if answers[q.ID] == q.CorrectAnswer {
				score.Correct++
			}
		}
		if score.Total > 0 {
			score.Percent = math.Round(100 * float64(score.Correct) / float64(score.Total))
		}
		sess.Score = score
		return nil
	})
}

// Explain runs show_explanations: fill an explanation for every question.
func (m *Manager) Explain(ctx context.Context, sessionID string) (*ViewState, error) {
	return m.run(ctx, sessionID, ActionShowExplanations, func(ctx context.Context, sess *session.Session) error {
		explanations := make([]*quiz.Explanation, len(sess.Questions))

		g, groupCtx := errgroup.WithContext(ctx)
		g.SetLimit(explainConcurrency)
		for i, q := range sess.Questions {
			g.Go(func() error {
				exp, err := m.explainer.Explain(groupCtx, sess.Topic, q, quiz.ExplainOptions{})
				if err != nil {
					return err
				}
				explanations[i] = exp
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		sess.Explanations = make(map[string]quiz.Explanation, len(explanations))
		for _, exp := range explanations {
			sess.Explanations[exp.QuestionID] = *exp
		}
		return nil
	})
}

// Followup answers a follow-up question, appending the exchange. The action
// is ask_followup from the explanations step and continue_followup after.
func (m *Manager) Followup(ctx context.Context, sessionID, question string) (*ViewState, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, apierr.New(apierr.KindValidation, "follow-up question must not be empty")
	}

	current, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	action := ActionAskFollowup
	if current.Step == session.StepFollowup {
		action = ActionContinueFollowup
	}

	return m.run(ctx, sessionID, action, func(ctx context.Context, sess *session.Session) error {
		retrieved, err := m.retriever.RetrieveEnhanced(ctx, sess.Topic+" "+question, retrieval.Options{
			Limit:    followupContextLimit,
			MinScore: followupMinScore,
		})
		if err != nil {
			return err
		}

		history := make([]prompt.FollowupExchange, len(sess.Followups))
		for i, ex := range sess.Followups {
			history[i] = prompt.FollowupExchange{Question: ex.Question, Answer: ex.Answer}
		}

		payload, err := m.adapter.GenerateFollowup(ctx, prompt.Followup(prompt.FollowupRequest{
			Topic:    sess.Topic,
			Question: question,
			History:  history,
			Context:  retrieved.Documents,
		}))
		if err != nil {
			return err
		}

		sess.Followups = append(sess.Followups, session.FollowupExchange{
			Question: question,
			Answer:   payload.Answer,
			Grounded: payload.Grounded,
			AskedAt:  time.Now().UTC(),
		})
		return nil
	})
}

// Restart replaces the session with a fresh one at the input step,
// preserving topic, count and difficulty.
func (m *Manager) Restart(ctx context.Context, sessionID string) (*ViewState, error) {
	release, err := m.acquire(sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	old, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	fresh := &session.Session{
		Topic:         old.Topic,
		QuestionCount: old.QuestionCount,
		Difficulty:    old.Difficulty,
		UserID:        old.UserID,
		Step:          session.StepInput,
	}
	if err := m.store.Create(ctx, fresh); err != nil {
		return nil, err
	}
	if err := m.store.Delete(ctx, sessionID); err != nil {
		return nil, err
	}

	m.logger.Info("Session restarted", "old_session_id", sessionID, "session_id", fresh.ID)
	state := m.viewOf(fresh, false, nil)
	m.notify(state)
	return &state, nil
}

// Clear deletes the session.
func (m *Manager) Clear(ctx context.Context, sessionID string) error {
	release, err := m.acquire(sessionID)
	if err != nil {
		return err
	}
	defer release()

	if err := m.store.Delete(ctx, sessionID); err != nil {
		return err
	}

	m.notify(ViewState{
		SessionID:       sessionID,
		CurrentStep:     session.StepInput,
		StepDescription: StepDescription(session.StepInput),
		AllowedActions:  AllowedActions(session.StepInput),
	})
	return nil
}

// run executes one advancing flow action: acquire the session lock, validate
// the transition, publish the loading state, apply the effect under
// compare-and-swap, and publish the outcome. Downstream errors are
// materialized into view state without advancing the step.
func (m *Manager) run(ctx context.Context, sessionID string, action Action, effect func(context.Context, *session.Session) error) (*ViewState, error) {
	release, err := m.acquire(sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	current, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := ValidateAction(current.Step, action); err != nil {
		state := m.viewOf(current, false, err)
		m.notify(state)
		return nil, err
	}

	m.notify(m.viewOf(current, true, nil))

	ctx, cancel := context.WithTimeout(ctx, m.cfg.TransitionTimeout)
	defer cancel()

	next, _ := NextStep(current.Step, action)
	updated, err := m.store.Update(ctx, sessionID, func(sess *session.Session) error {
		if err := effect(ctx, sess); err != nil {
			return err
		}
		sess.Step = next
		return nil
	})
	if err != nil {
		m.logger.Warn("Flow action failed",
			"session_id", sessionID, "action", action, "error", err)
		state := m.viewOf(current, false, err)
		m.notify(state)
		return nil, err
	}

	if m.cfg.SessionTTLExtension > 0 {
		if extended, err := m.store.Extend(ctx, sessionID, m.cfg.SessionTTLExtension); err == nil {
			updated = extended
		}
	}

	m.logger.Info("Flow action applied",
		"session_id", sessionID, "action", action, "step", updated.Step)
	state := m.viewOf(updated, false, nil)
	m.notify(state)
	return &state, nil
}

// acquire takes the per-session one-slot semaphore or fails fast.
func (m *Manager) acquire(sessionID string) (func(), error) {
	m.lockMu.Lock()
	sem, ok := m.locks[sessionID]
	if !ok {
		sem = make(chan struct{}, 1)
		m.locks[sessionID] = sem
	}
	m.lockMu.Unlock()

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	default:
		return nil, apierr.Newf(apierr.KindBusy,
			"another action is in flight for session %s", sessionID)
	}
}

// viewOf builds the published snapshot for a session.
func (m *Manager) viewOf(sess *session.Session, loading bool, err error) ViewState {
	state := ViewState{
		SessionID:       sess.ID,
		CurrentStep:     sess.Step,
		Progress:        Progress(sess.Step),
		StepDescription: StepDescription(sess.Step),
		IsLoading:       loading,
		AllowedActions:  AllowedActions(sess.Step),
		Session:         sess,
	}
	if err != nil {
		state.Error = &ErrorState{
			Kind:    apierr.KindOf(err),
			Message: err.Error(),
		}
		var apiErr *apierr.Error
		if errors.As(err, &apiErr) {
			state.Error.AllowedActions = apiErr.AllowedActions
		}
	}
	return state
}

func checkAnswers(questions []quiz.Question, answers map[string]string) error {
	if len(answers) == 0 {
		return apierr.New(apierr.KindValidation, "no answers submitted")
	}

	known := make(map[string]bool, len(questions))
	for _, q := range questions {
		known[q.ID] = true
	}
	for id, label := range answers {
		if !known[id] {
			return apierr.Newf(apierr.KindValidation, "answer references unknown question %s", id)
		}
		if !validLabel(label) {
			return apierr.Newf(apierr.KindValidation, "answer %q for question %s is not a valid option label", label, id)
		}
	}
	return nil
}

func validLabel(label string) bool {
	for _, l := range quiz.OptionLabels {
		if label == l {
			return true
		}
	}
	return false
}
