package quiz

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/financebuddy/financebuddy/pkg/apierr"
	"github.com/financebuddy/financebuddy/pkg/llm"
	"github.com/financebuddy/financebuddy/pkg/prompt"
	"github.com/financebuddy/financebuddy/pkg/retrieval"
)

const (
	// contextFactor sizes the retrieved context relative to the question
	// count.
	contextFactor = 3

	// maxTopUps bounds the re-requests used to replace dropped questions.
	maxTopUps = 2

	defaultMinScore    = 0.6
	maxQuestionsPerGen = 20
)

// GeneratorConfig tunes question generation.
type GeneratorConfig struct {
	// MinScore filters retrieved context; defaults to 0.6.
	MinScore float64

	// DefaultDifficulty is used when the request carries none.
	DefaultDifficulty string

	// MaxQuestions caps the per-request question count; defaults to 20.
	MaxQuestions int

	// FallbackEnabled permits generation with empty context instead of
	// failing with an insufficient-context error.
	FallbackEnabled bool

	// CrossCheck asks the model to solve each accepted question
	// independently and drops questions whose answer key it cannot
	// reproduce. Doubles the LLM calls per question.
	CrossCheck bool
}

// GenerationStats reports what generation cost and dropped.
type GenerationStats struct {
	Requested   int `json:"requested"`
	Generated   int `json:"generated"`
	Dropped     int `json:"dropped"`
	TopUps      int `json:"topUps"`
	ContextSize int `json:"contextSize"`

	// Degraded mirrors the retrieval path: true when context came from the
	// keyword fallback only.
	Degraded bool `json:"degraded,omitempty"`
}

// GenerationResult carries the validated questions plus the context they
// were grounded on.
type GenerationResult struct {
	Questions []Question
	Stats     GenerationStats
	Context   *retrieval.RetrievedContext
}

// Generator produces validated questions from balanced retrieved context.
type Generator struct {
	retriever *retrieval.Retriever
	adapter   llm.Adapter
	cfg       GeneratorConfig
	logger    *slog.Logger
}

// NewGenerator creates a question generator.
func NewGenerator(retriever *retrieval.Retriever, adapter llm.Adapter, cfg GeneratorConfig) *Generator {
	if cfg.MinScore <= 0 {
		cfg.MinScore = defaultMinScore
	}
	if cfg.MaxQuestions <= 0 {
		cfg.MaxQuestions = maxQuestionsPerGen
	}
	return &Generator{
		retriever: retriever,
		adapter:   adapter,
		cfg:       cfg,
		logger:    slog.Default().With("component", "quiz.generator"),
	}
}

// Generate retrieves balanced context for the topic and asks the model for
// count questions, validating each and topping up dropped ones.
func (g *Generator) Generate(ctx context.Context, topic string, count int, difficulty string) (*GenerationResult, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, apierr.New(apierr.KindValidation, "topic must not be empty")
	}
	if count < 1 || count > g.cfg.MaxQuestions {
		return nil, apierr.Newf(apierr.KindValidation, "question count %d outside 1..%d", count, g.cfg.MaxQuestions)
	}
	if difficulty == "" {
		difficulty = g.cfg.DefaultDifficulty
	}

	retrieved, err := g.retriever.RetrieveBalanced(ctx, topic, retrieval.Options{
		Limit:    contextFactor * count,
		MinScore: g.cfg.MinScore,
	})
	if err != nil {
		return nil, err
	}
	if len(retrieved.Documents) == 0 && !g.cfg.FallbackEnabled {
		return nil, apierr.Newf(apierr.KindInsufficientContext,
			"no study material found for topic %q", topic)
	}

	stats := GenerationStats{
		Requested:   count,
		ContextSize: len(retrieved.Documents),
		Degraded:    retrieved.Degraded,
	}

	questions := make([]Question, 0, count)
	for {
		need := count - len(questions)
		payload, err := g.adapter.GenerateQuestions(ctx, prompt.Questions(prompt.QuestionRequest{
			Topic:      topic,
			Count:      need,
			Difficulty: difficulty,
			Context:    retrieved.Documents,
		}))
		if err != nil {
			if len(questions) == 0 {
				return nil, err
			}
			g.logger.Warn("Top-up generation failed",
				"topic", topic, "have", len(questions), "want", count, "error", err)
			break
		}

		for _, gq := range payload.Questions {
			q, err := g.acceptQuestion(gq, difficulty, retrieved.Documents)
			if err != nil {
				stats.Dropped++
				g.logger.Debug("Dropped generated question", "topic", topic, "reason", err)
				continue
			}
			if g.cfg.CrossCheck && !g.crossCheck(ctx, q, retrieved.Documents) {
				stats.Dropped++
				continue
			}
			questions = append(questions, *q)
			if len(questions) == count {
				break
			}
		}

		if len(questions) >= count || stats.TopUps >= maxTopUps {
			break
		}
		stats.TopUps++
	}

	// A quiz must carry exactly the requested number of questions; a short
	// batch after the top-up budget is a generation failure, not a partial
	// success.
	if len(questions) < count {
		return nil, apierr.Newf(apierr.KindGeneration,
			"generated %d of %d valid questions after retries", len(questions), count)
	}

	stats.Generated = len(questions)
	g.logger.Info("Generated questions",
		"topic", topic,
		"requested", count,
		"generated", stats.Generated,
		"dropped", stats.Dropped,
		"top_ups", stats.TopUps,
		"context_size", stats.ContextSize)

	return &GenerationResult{Questions: questions, Stats: stats, Context: retrieved}, nil
}

// acceptQuestion validates one model question against the retrieved context
// and converts it into the stored form.
func (g *Generator) acceptQuestion(gq llm.GeneratedQuestion, difficulty string, docs []retrieval.ScoredDocument) (*Question, error) {
	q := Question{
		ID:            uuid.NewString(),
		Text:          strings.TrimSpace(gq.Question),
		Options:       gq.Options,
		CorrectAnswer: gq.CorrectAnswer,
		Explanation:   strings.TrimSpace(gq.Explanation),
		Difficulty:    gq.Difficulty,
	}
	if q.Difficulty == "" {
		q.Difficulty = difficulty
	}

	if err := q.Validate(); err != nil {
		return nil, err
	}
	if q.Explanation == "" {
		return nil, fmt.Errorf("explanation is empty")
	}

	refs, err := resolveSources(gq.Sources, docs)
	if err != nil {
		return nil, err
	}
	q.SourceReferences = refs

	if len(docs) > 0 && !optionGrounded(q.Options[q.CorrectAnswer], docs) {
		q.CommonKnowledge = true
	}

	return &q, nil
}

// crossCheck has the model solve the question blind and compares its answer
// against the generated key. A transport failure keeps the question: the
// check exists to catch wrong keys, not to amplify provider flakiness.
func (g *Generator) crossCheck(ctx context.Context, q *Question, docs []retrieval.ScoredDocument) bool {
	answer, err := g.adapter.GenerateAnswer(ctx, prompt.Answer(prompt.AnswerRequest{
		Question: q.Text,
		Options:  q.Options,
		Context:  docs,
	}))
	if err != nil {
		g.logger.Warn("Answer cross-check unavailable, keeping question",
			"question_id", q.ID, "error", err)
		return true
	}
	if answer.CorrectAnswer != q.CorrectAnswer {
		g.logger.Debug("Dropped question on answer cross-check mismatch",
			"question_id", q.ID,
			"generated_key", q.CorrectAnswer,
			"solved_key", answer.CorrectAnswer)
		return false
	}
	return true
}

// resolveSources maps 1-based source numbers back to document references.
// With no context to cite (fallback generation) sources are ignored.
func resolveSources(sources []int, docs []retrieval.ScoredDocument) ([]SourceReference, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("question cites no sources")
	}

	refs := make([]SourceReference, 0, len(sources))
	seen := make(map[int]bool, len(sources))
	for _, n := range sources {
		if n < 1 || n > len(docs) {
			return nil, fmt.Errorf("source reference %d outside context of %d documents", n, len(docs))
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		refs = append(refs, SourceReference{ID: docs[n-1].ID, Title: docs[n-1].Title})
	}
	return refs, nil
}

// optionGrounded reports whether the option text, or a majority of its
// meaningful words, appears in the retrieved context.
func optionGrounded(option string, docs []retrieval.ScoredDocument) bool {
	needle := strings.ToLower(strings.TrimSpace(option))
	if needle == "" {
		return false
	}

	var haystack strings.Builder
	for _, doc := range docs {
		haystack.WriteString(strings.ToLower(doc.Content))
		haystack.WriteByte('\n')
	}
	text := haystack.String()

	if strings.Contains(text, needle) {
		return true
	}

	words := strings.Fields(needle)
	if len(words) == 0 {
		return false
	}
	var found int
	for _, w := range words {
		if len(w) < 3 || strings.Contains(text, w) {
			found++
		}
	}
	return found*2 > len(words)
}
