package llm

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
)

var (
	countPattern      = regexp.MustCompile(`exactly (\d+) questions about "([^"]+)"`)
	difficultyPattern = regexp.MustCompile(`at (\w+) difficulty`)
)

// StubAdapter returns deterministic canned payloads. It backs tests and the
// no-API-key fallback mode; the payloads always satisfy the shape contracts.
//
// Set Fail to make every operation return that error, or override a single
// payload field to pin a specific response.
type StubAdapter struct {
	Fail        error
	Questions   *QuestionsPayload
	Answer      *AnswerPayload
	Explanation *ExplanationPayload
	Followup    *FollowupPayload
}

// NewStubAdapter creates a stub adapter with derived payloads.
func NewStubAdapter() *StubAdapter {
	return &StubAdapter{}
}

// GenerateQuestions returns one placeholder question per requested count,
// parsed back out of the rendered prompt.
func (s *StubAdapter) GenerateQuestions(_ context.Context, prompt string) (*QuestionsPayload, error) {
	if s.Fail != nil {
		return nil, s.Fail
	}
	if s.Questions != nil {
		return s.Questions, nil
	}

	count := 1
	topic := "the material"
	if m := countPattern.FindStringSubmatch(prompt); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			count = n
		}
		topic = m[2]
	}
	difficulty := "intermediate"
	if m := difficultyPattern.FindStringSubmatch(prompt); m != nil {
		difficulty = m[1]
	}

	payload := &QuestionsPayload{Questions: make([]GeneratedQuestion, count)}
	for i := range payload.Questions {
		payload.Questions[i] = GeneratedQuestion{
			Question: fmt.Sprintf("Practice question %d: which statement about %s is correct?", i+1, topic),
			Options: map[string]string{
				"A": fmt.Sprintf("The statement supported by the study material on %s", topic),
				"B": "A statement that contradicts the study material",
				"C": "A statement about an unrelated product",
				"D": "A statement with the right terms but the wrong figures",
			},
			CorrectAnswer: "A",
			Explanation:   fmt.Sprintf("Option A restates what the study material says about %s.", topic),
			Difficulty:    difficulty,
			Sources:       []int{1},
		}
	}
	return payload, nil
}

// GenerateAnswer always picks option A with a fixed rationale.
func (s *StubAdapter) GenerateAnswer(_ context.Context, _ string) (*AnswerPayload, error) {
	if s.Fail != nil {
		return nil, s.Fail
	}
	if s.Answer != nil {
		return s.Answer, nil
	}
	return &AnswerPayload{
		CorrectAnswer: "A",
		Rationale:     "Option A matches the reference material.",
	}, nil
}

// GenerateExplanation returns a fixed explanation payload.
func (s *StubAdapter) GenerateExplanation(_ context.Context, _ string) (*ExplanationPayload, error) {
	if s.Fail != nil {
		return nil, s.Fail
	}
	if s.Explanation != nil {
		return s.Explanation, nil
	}
	return &ExplanationPayload{
		Explanation: "The correct option restates the requirement described in the study material.",
		WhyWrong: map[string]string{
			"B": "It contradicts the study material.",
			"C": "It concerns an unrelated product.",
			"D": "It quotes the wrong figures.",
		},
		Sources: []int{1},
	}, nil
}

// GenerateFollowup returns a fixed grounded answer.
func (s *StubAdapter) GenerateFollowup(_ context.Context, _ string) (*FollowupPayload, error) {
	if s.Fail != nil {
		return nil, s.Fail
	}
	if s.Followup != nil {
		return s.Followup, nil
	}
	return &FollowupPayload{
		Answer:   "Based on the study material, yes; see the cited source for the details.",
		Sources:  []int{1},
		Grounded: true,
	}, nil
}

// Model returns the stub model name.
func (s *StubAdapter) Model() string {
	return "stub-canned-json"
}

// Close releases resources held by the adapter.
func (s *StubAdapter) Close() error {
	return nil
}

var _ Adapter = (*StubAdapter)(nil)
