package flow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/financebuddy/financebuddy/pkg/apierr"
	"github.com/financebuddy/financebuddy/pkg/corpus"
	"github.com/financebuddy/financebuddy/pkg/embedder"
	"github.com/financebuddy/financebuddy/pkg/llm"
	"github.com/financebuddy/financebuddy/pkg/quiz"
	"github.com/financebuddy/financebuddy/pkg/retrieval"
	"github.com/financebuddy/financebuddy/pkg/session"
	"github.com/financebuddy/financebuddy/pkg/vector"
)

func seededFlowRetriever(t *testing.T) *retrieval.Retriever {
	t.Helper()
	store := vector.NewMemoryStore("test")
	keyword := retrieval.NewKeywordIndex()
	processor := corpus.NewProcessor(embedder.NewStubEmbedder(), store, keyword, corpus.ProcessorConfig{})

	docs := []corpus.Document{
		{
			Title:   "Margin requirements",
			Content: "Regulation T sets the initial margin requirement at fifty percent of the purchase price.",
			Type:    corpus.TypeTextbook,
			Source:  "series7/margin.md",
		},
		{
			Title:   "Margin question",
			Content: "Question: What is the initial margin requirement? Answer: Fifty percent of the purchase price.",
			Type:    corpus.TypeQAPair,
			Source:  "qa/margin.json#0",
		},
		{
			Title:   "Regulation T",
			Content: "Regulation T governs the extension of credit by broker-dealers and the initial margin requirement.",
			Type:    corpus.TypeRegulation,
			Source:  "regs/reg-t.txt",
		},
	}
	for _, doc := range docs {
		_, err := processor.Process(context.Background(), doc)
		require.NoError(t, err)
	}
	return retrieval.New(embedder.NewStubEmbedder(), store, keyword, retrieval.Config{})
}

func newTestManager(t *testing.T, adapter llm.Adapter) (*Manager, *session.MemoryStore) {
	t.Helper()
	store := session.NewMemoryStore(time.Hour, session.WithoutJanitor())
	t.Cleanup(func() { _ = store.Close() })

	retriever := seededFlowRetriever(t)
	generator := quiz.NewGenerator(retriever, adapter, quiz.GeneratorConfig{MinScore: 0.1})
	explainer := quiz.NewExplainer(retriever, adapter)
	return NewManager(store, generator, explainer, retriever, adapter, ManagerConfig{}), store
}

func TestFullFlowScenario(t *testing.T) {
	m, _ := newTestManager(t, llm.NewStubAdapter())
	ctx := context.Background()

	state, err := m.Create(ctx, "margin requirement", 2, "intermediate", "user-1")
	require.NoError(t, err)
	assert.Equal(t, session.StepInput, state.CurrentStep)
	assert.Equal(t, 0, state.Progress)
	id := state.SessionID

	state, err = m.Generate(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, session.StepQuestions, state.CurrentStep)
	assert.Equal(t, 25, state.Progress)
	require.Len(t, state.Session.Questions, 2)

	answers := map[string]string{
		state.Session.Questions[0].ID: state.Session.Questions[0].CorrectAnswer,
		state.Session.Questions[1].ID: "B",
	}
	state, err = m.Reveal(ctx, id, answers)
	require.NoError(t, err)
	assert.Equal(t, session.StepAnswers, state.CurrentStep)
	require.NotNil(t, state.Session.Score)
	assert.Equal(t, 1, state.Session.Score.Correct)
	assert.Equal(t, 2, state.Session.Score.Total)
	assert.InDelta(t, 50.0, state.Session.Score.Percent, 1e-9)

	state, err = m.Explain(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, session.StepExplanations, state.CurrentStep)
	assert.Len(t, state.Session.Explanations, 2)
	for _, q := range state.Session.Questions {
		assert.NotEmpty(t, state.Session.Explanations[q.ID].Text)
	}

	state, err = m.Followup(ctx, id, "Does this apply to bonds?")
	require.NoError(t, err)
	assert.Equal(t, session.StepFollowup, state.CurrentStep)
	assert.Equal(t, 100, state.Progress)
	require.Len(t, state.Session.Followups, 1)

	state, err = m.Followup(ctx, id, "What about options?")
	require.NoError(t, err)
	require.Len(t, state.Session.Followups, 2)
	assert.Equal(t, "Does this apply to bonds?", state.Session.Followups[0].Question)
}

func TestRevealRoundsScorePercent(t *testing.T) {
	m, _ := newTestManager(t, llm.NewStubAdapter())
	ctx := context.Background()

	created, err := m.Create(ctx, "margin requirement", 3, "", "")
	require.NoError(t, err)
	state, err := m.Generate(ctx, created.SessionID)
	require.NoError(t, err)
	require.Len(t, state.Session.Questions, 3)

	qs := state.Session.Questions
	answers := map[string]string{
		qs[0].ID: qs[0].CorrectAnswer,
		qs[1].ID: qs[1].CorrectAnswer,
		qs[2].ID: "B", // stub questions key on A
	}
	state, err = m.Reveal(ctx, created.SessionID, answers)
	require.NoError(t, err)

	require.NotNil(t, state.Session.Score)
	assert.Equal(t, 2, state.Session.Score.Correct)
	assert.Equal(t, 3, state.Session.Score.Total)
	assert.Equal(t, 67.0, state.Session.Score.Percent)
}

func TestInvalidTransitionSurfacesAllowedActions(t *testing.T) {
	m, _ := newTestManager(t, llm.NewStubAdapter())
	ctx := context.Background()

	state, err := m.Create(ctx, "margin", 1, "", "")
	require.NoError(t, err)

	_, err = m.Reveal(ctx, state.SessionID, map[string]string{"x": "A"})
	require.Error(t, err)
	assert.Equal(t, apierr.KindInvalidTransition, apierr.KindOf(err))

	apiErr, ok := err.(*apierr.Error)
	require.True(t, ok)
	assert.Contains(t, apiErr.AllowedActions, "generate_questions")
}

func TestBusySession(t *testing.T) {
	m, _ := newTestManager(t, llm.NewStubAdapter())
	ctx := context.Background()

	state, err := m.Create(ctx, "margin", 1, "", "")
	require.NoError(t, err)

	release, err := m.acquire(state.SessionID)
	require.NoError(t, err)
	defer release()

	_, err = m.Generate(ctx, state.SessionID)
	require.Error(t, err)
	assert.Equal(t, apierr.KindBusy, apierr.KindOf(err))
}

func TestDownstreamErrorDoesNotAdvance(t *testing.T) {
	m, store := newTestManager(t, &llm.StubAdapter{Fail: assert.AnError})
	ctx := context.Background()

	var states []ViewState
	unsubscribe := m.Subscribe(func(s ViewState) { states = append(states, s) })
	defer unsubscribe()

	created, err := m.Create(ctx, "margin", 1, "", "")
	require.NoError(t, err)

	_, err = m.Generate(ctx, created.SessionID)
	require.Error(t, err)

	sess, err := store.Get(ctx, created.SessionID)
	require.NoError(t, err)
	assert.Equal(t, session.StepInput, sess.Step)
	assert.Empty(t, sess.Questions)

	last := states[len(states)-1]
	require.NotNil(t, last.Error)
	assert.False(t, last.IsLoading)
	assert.Equal(t, session.StepInput, last.CurrentStep)
}

func TestSubscribersSeeLoadingThenOutcome(t *testing.T) {
	m, _ := newTestManager(t, llm.NewStubAdapter())
	ctx := context.Background()

	created, err := m.Create(ctx, "margin", 1, "", "")
	require.NoError(t, err)

	var states []ViewState
	unsubscribe := m.Subscribe(func(s ViewState) { states = append(states, s) })

	_, err = m.Generate(ctx, created.SessionID)
	require.NoError(t, err)

	require.Len(t, states, 2)
	assert.True(t, states[0].IsLoading)
	assert.Equal(t, session.StepInput, states[0].CurrentStep)
	assert.False(t, states[1].IsLoading)
	assert.Equal(t, session.StepQuestions, states[1].CurrentStep)

	unsubscribe()
	_, err = m.Reveal(ctx, created.SessionID, map[string]string{
		states[1].Session.Questions[0].ID: "A",
	})
	require.NoError(t, err)
	assert.Len(t, states, 2, "no notification after unsubscribe")
}

func TestRevealValidation(t *testing.T) {
	m, _ := newTestManager(t, llm.NewStubAdapter())
	ctx := context.Background()

	created, err := m.Create(ctx, "margin", 1, "", "")
	require.NoError(t, err)
	state, err := m.Generate(ctx, created.SessionID)
	require.NoError(t, err)
	qid := state.Session.Questions[0].ID

	_, err = m.Reveal(ctx, created.SessionID, nil)
	assert.Equal(t, apierr.KindValidation, apierr.KindOf(err))

	_, err = m.Reveal(ctx, created.SessionID, map[string]string{qid: "Z"})
	assert.Equal(t, apierr.KindValidation, apierr.KindOf(err))

	_, err = m.Reveal(ctx, created.SessionID, map[string]string{"ghost": "A"})
	assert.Equal(t, apierr.KindValidation, apierr.KindOf(err))

	// The failed attempts did not advance the step.
	view, err := m.View(ctx, created.SessionID)
	require.NoError(t, err)
	assert.Equal(t, session.StepQuestions, view.CurrentStep)
}

func TestRestartPreservesTopicWithNewID(t *testing.T) {
	m, store := newTestManager(t, llm.NewStubAdapter())
	ctx := context.Background()

	created, err := m.Create(ctx, "municipal bonds", 3, "advanced", "user-9")
	require.NoError(t, err)
	_, err = m.Generate(ctx, created.SessionID)
	require.NoError(t, err)

	state, err := m.Restart(ctx, created.SessionID)
	require.NoError(t, err)

	assert.NotEqual(t, created.SessionID, state.SessionID)
	assert.Equal(t, session.StepInput, state.CurrentStep)
	assert.Equal(t, "municipal bonds", state.Session.Topic)
	assert.Equal(t, 3, state.Session.QuestionCount)
	assert.Equal(t, "advanced", state.Session.Difficulty)
	assert.Empty(t, state.Session.Questions)

	_, err = store.Get(ctx, created.SessionID)
	assert.Equal(t, apierr.KindNotFound, apierr.KindOf(err))
}

func TestClearDeletesSession(t *testing.T) {
	m, store := newTestManager(t, llm.NewStubAdapter())
	ctx := context.Background()

	created, err := m.Create(ctx, "margin", 1, "", "")
	require.NoError(t, err)

	require.NoError(t, m.Clear(ctx, created.SessionID))

	_, err = store.Get(ctx, created.SessionID)
	assert.Equal(t, apierr.KindNotFound, apierr.KindOf(err))

	_, err = m.View(ctx, created.SessionID)
	assert.Equal(t, apierr.KindNotFound, apierr.KindOf(err))
}
