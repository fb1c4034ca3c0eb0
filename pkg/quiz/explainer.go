package quiz

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/financebuddy/financebuddy/pkg/llm"
	"github.com/financebuddy/financebuddy/pkg/prompt"
	"github.com/financebuddy/financebuddy/pkg/retrieval"
)

const (
	explainContextLimit    = 5
	explainMinScore        = 0.5
	defaultMaxLength       = 800
	defaultExplainStyle    = "concise"
	defaultExplainAudience = "certification exam candidates"
)

// ExplainOptions tunes one explanation request.
type ExplainOptions struct {
	Style    string
	Audience string

	// MaxLength caps the explanation text in characters.
	MaxLength int
}

// Explainer produces explanations for questions that lack one.
type Explainer struct {
	retriever *retrieval.Retriever
	adapter   llm.Adapter
	logger    *slog.Logger
}

// NewExplainer creates an explanation generator.
func NewExplainer(retriever *retrieval.Retriever, adapter llm.Adapter) *Explainer {
	return &Explainer{
		retriever: retriever,
		adapter:   adapter,
		logger:    slog.Default().With("component", "quiz.explainer"),
	}
}

// Explain retrieves per-question context and generates an explanation.
// Generation or validation failure falls back to a deterministic template;
// the fallback is visible on the returned Explanation.
func (e *Explainer) Explain(ctx context.Context, topic string, q Question, opts ExplainOptions) (*Explanation, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if opts.Style == "" {
		opts.Style = defaultExplainStyle
	}
	if opts.Audience == "" {
		opts.Audience = defaultExplainAudience
	}
	if opts.MaxLength <= 0 {
		opts.MaxLength = defaultMaxLength
	}

	query := strings.TrimSpace(topic + " " + q.Text)
	retrieved, err := e.retriever.RetrieveEnhanced(ctx, query, retrieval.Options{
		Limit:    explainContextLimit,
		MinScore: explainMinScore,
	})
	if err != nil {
		e.logger.Warn("Explanation retrieval failed, using fallback template",
			"question_id", q.ID, "error", err)
		return e.fallback(q), nil
	}

	payload, err := e.adapter.GenerateExplanation(ctx, prompt.Explanation(prompt.ExplanationRequest{
		Question:      q.Text,
		Options:       q.Options,
		CorrectAnswer: q.CorrectAnswer,
		Style:         opts.Style,
		Audience:      opts.Audience,
		MaxLength:     opts.MaxLength,
		Context:       retrieved.Documents,
	}))
	if err != nil {
		e.logger.Warn("Explanation generation failed, using fallback template",
			"question_id", q.ID, "error", err)
		return e.fallback(q), nil
	}

	if err := e.checkPayload(payload, opts, len(retrieved.Documents)); err != nil {
		e.logger.Warn("Explanation rejected, using fallback template",
			"question_id", q.ID, "reason", err)
		return e.fallback(q), nil
	}

	refs := make([]SourceReference, 0, len(payload.Sources))
	for _, n := range payload.Sources {
		doc := retrieved.Documents[n-1]
		refs = append(refs, SourceReference{ID: doc.ID, Title: doc.Title})
	}

	return &Explanation{
		QuestionID:       q.ID,
		Text:             strings.TrimSpace(payload.Explanation),
		WhyWrong:         payload.WhyWrong,
		SourceReferences: refs,
	}, nil
}

// checkPayload rejects explanations that overrun the length budget or
// cite sources outside the retrieved context.
func (e *Explainer) checkPayload(payload *llm.ExplanationPayload, opts ExplainOptions, contextSize int) error {
	if n := len(strings.TrimSpace(payload.Explanation)); n > opts.MaxLength {
		return fmt.Errorf("explanation is %d characters, budget is %d", n, opts.MaxLength)
	}
	for _, n := range payload.Sources {
		if n < 1 || n > contextSize {
			return fmt.Errorf("source reference %d outside context of %d documents", n, contextSize)
		}
	}
	return nil
}

// fallback builds the deterministic template explanation.
func (e *Explainer) fallback(q Question) *Explanation {
	return &Explanation{
		QuestionID: q.ID,
		Text:       fmt.Sprintf("The correct answer is %s: %s.", q.CorrectAnswer, strings.TrimSuffix(q.Options[q.CorrectAnswer], ".")),
		Fallback:   true,
	}
}
