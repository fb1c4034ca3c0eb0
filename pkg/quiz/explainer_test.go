package quiz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/financebuddy/financebuddy/pkg/llm"
)

func sampleQuestion() Question {
	return Question{
		ID:            "q-1",
		Text:          "What is the initial margin requirement under Regulation T?",
		Options:       map[string]string{"A": "50%", "B": "25%", "C": "75%", "D": "100%"},
		CorrectAnswer: "A",
		Difficulty:    "intermediate",
	}
}

func TestExplainGeneratesFromContext(t *testing.T) {
	stub := &llm.StubAdapter{Explanation: &llm.ExplanationPayload{
		Explanation: "Regulation T sets the initial requirement at fifty percent.",
		WhyWrong:    map[string]string{"B": "That is the maintenance minimum."},
		Sources:     []int{1},
	}}
	e := NewExplainer(seededRetriever(t), stub)

	exp, err := e.Explain(context.Background(), "margin", sampleQuestion(), ExplainOptions{})
	require.NoError(t, err)

	assert.False(t, exp.Fallback)
	assert.Equal(t, "q-1", exp.QuestionID)
	assert.Contains(t, exp.Text, "fifty percent")
	assert.Equal(t, "That is the maintenance minimum.", exp.WhyWrong["B"])
	require.Len(t, exp.SourceReferences, 1)
	assert.NotEmpty(t, exp.SourceReferences[0].ID)
}

func TestExplainFallbackOnAdapterError(t *testing.T) {
	e := NewExplainer(seededRetriever(t), &llm.StubAdapter{Fail: assert.AnError})

	exp, err := e.Explain(context.Background(), "margin", sampleQuestion(), ExplainOptions{})
	require.NoError(t, err)

	assert.True(t, exp.Fallback)
	assert.Equal(t, "The correct answer is A: 50%.", exp.Text)
	assert.Empty(t, exp.SourceReferences)
}

func TestExplainFallbackOnLengthBudget(t *testing.T) {
	stub := &llm.StubAdapter{Explanation: &llm.ExplanationPayload{
		Explanation: "This explanation runs well past the configured character budget for the request.",
	}}
	e := NewExplainer(seededRetriever(t), stub)

	exp, err := e.Explain(context.Background(), "margin", sampleQuestion(), ExplainOptions{MaxLength: 40})
	require.NoError(t, err)
	assert.True(t, exp.Fallback)
}

func TestExplainFallbackOnUnresolvableSources(t *testing.T) {
	stub := &llm.StubAdapter{Explanation: &llm.ExplanationPayload{
		Explanation: "A short explanation.",
		Sources:     []int{42},
	}}
	e := NewExplainer(seededRetriever(t), stub)

	exp, err := e.Explain(context.Background(), "margin", sampleQuestion(), ExplainOptions{})
	require.NoError(t, err)
	assert.True(t, exp.Fallback)
}

func TestExplainRejectsInvalidQuestion(t *testing.T) {
	e := NewExplainer(seededRetriever(t), llm.NewStubAdapter())

	q := sampleQuestion()
	q.CorrectAnswer = "Z"
	_, err := e.Explain(context.Background(), "margin", q, ExplainOptions{})
	assert.Error(t, err)
}
