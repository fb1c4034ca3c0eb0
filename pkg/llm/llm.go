// Copyright 2025 FinanceBuddy Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package llm defines the structured-generation contract the tutoring flow
// depends on, plus the provider adapters that satisfy it.
//
// Adapters own JSON-shape conformance: a malformed or schema-violating
// response is retried with a corrective instruction before the error is
// surfaced, so callers only ever see validated payloads.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
)

const (
	// defaultCallTimeout bounds a single generation call.
	defaultCallTimeout = 30 * time.Second

	// maxAttempts is the per-call budget for transport failures and
	// schema-validation re-prompts combined.
	maxAttempts = 3
)

var optionLabels = []string{"A", "B", "C", "D"}

// GeneratedQuestion is one multiple-choice question as returned by the model.
type GeneratedQuestion struct {
	Question      string            `json:"question"`
	Options       map[string]string `json:"options"`
	CorrectAnswer string            `json:"correctAnswer"`
	Explanation   string            `json:"explanation"`
	Difficulty    string            `json:"difficulty"`
	Sources       []int             `json:"sources"`
}

// QuestionsPayload is the question generation response contract.
type QuestionsPayload struct {
	Questions []GeneratedQuestion `json:"questions"`
}

// AnswerPayload is the answer validation response contract.
type AnswerPayload struct {
	CorrectAnswer string `json:"correctAnswer"`
	Rationale     string `json:"rationale"`
}

// ExplanationPayload is the explanation response contract.
type ExplanationPayload struct {
	Explanation string            `json:"explanation"`
	WhyWrong    map[string]string `json:"whyWrong,omitempty"`
	Sources     []int             `json:"sources,omitempty"`
}

// FollowupPayload is the follow-up tutoring response contract.
type FollowupPayload struct {
	Answer   string `json:"answer"`
	Sources  []int  `json:"sources,omitempty"`
	Grounded bool   `json:"grounded"`
}

// Adapter generates validated structured payloads from rendered prompts.
//
// Every operation retries transient provider failures and schema-validation
// failures up to its per-call budget, re-prompting with a corrective
// instruction on the latter. Implementations must honor ctx cancellation.
type Adapter interface {
	GenerateQuestions(ctx context.Context, prompt string) (*QuestionsPayload, error)
	GenerateAnswer(ctx context.Context, prompt string) (*AnswerPayload, error)
	GenerateExplanation(ctx context.Context, prompt string) (*ExplanationPayload, error)
	GenerateFollowup(ctx context.Context, prompt string) (*FollowupPayload, error)

	// Model returns the model name being used.
	Model() string

	// Close releases resources held by the adapter.
	Close() error
}

// validateQuestions enforces the question payload shape. Per-question content
// checks (distinct options, source references) belong to the quiz generator;
// this guards the contract the model was asked to satisfy.
func validateQuestions(p *QuestionsPayload) error {
	if len(p.Questions) == 0 {
		return fmt.Errorf("response contains no questions")
	}
	for i, q := range p.Questions {
		if strings.TrimSpace(q.Question) == "" {
			return fmt.Errorf("question %d has empty text", i+1)
		}
		if len(q.Options) != len(optionLabels) {
			return fmt.Errorf("question %d has %d options, want %d", i+1, len(q.Options), len(optionLabels))
		}
		for _, label := range optionLabels {
			if strings.TrimSpace(q.Options[label]) == "" {
				return fmt.Errorf("question %d is missing option %s", i+1, label)
			}
		}
		if _, ok := q.Options[q.CorrectAnswer]; !ok {
			return fmt.Errorf("question %d declares correct answer %q which is not an option label", i+1, q.CorrectAnswer)
		}
	}
	return nil
}

func validateAnswer(p *AnswerPayload) error {
	for _, label := range optionLabels {
		if p.CorrectAnswer == label {
			return nil
		}
	}
	return fmt.Errorf("correct answer %q is not one of A, B, C, D", p.CorrectAnswer)
}

func validateExplanation(p *ExplanationPayload) error {
	if strings.TrimSpace(p.Explanation) == "" {
		return fmt.Errorf("response has empty explanation")
	}
	return nil
}

func validateFollowup(p *FollowupPayload) error {
	if strings.TrimSpace(p.Answer) == "" {
		return fmt.Errorf("response has empty answer")
	}
	return nil
}

// decodeAndValidate parses raw model output into the payload type and runs
// the shape check. The returned error doubles as the corrective instruction
// on re-prompt.
func decodeAndValidate[T any](raw string, validate func(*T) error) (*T, error) {
	payload := new(T)
	if err := json.Unmarshal([]byte(stripFences(raw)), payload); err != nil {
		return nil, fmt.Errorf("response is not valid JSON: %w", err)
	}
	if err := validate(payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// stripFences removes a markdown code fence some models wrap JSON output in
// despite the JSON-only instruction.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// correctivePrompt appends a rejection notice so the model fixes its output
// shape instead of repeating the same mistake.
func correctivePrompt(prompt string, cause error) string {
	return prompt + fmt.Sprintf(
		"\n\nYour previous response was rejected: %v. Respond again with JSON only, exactly in the required shape, with no surrounding prose or markdown.\n", cause)
}

// responseSchema derives a provider-compatible JSON schema from a payload
// type. Draft-specific keywords the structured-output endpoints reject are
// stripped.
func responseSchema(v any) map[string]any {
	reflector := &jsonschema.Reflector{DoNotReference: true}
	raw, err := json.Marshal(reflector.Reflect(v))
	if err != nil {
		return nil
	}

	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil
	}
	scrubSchema(schema)
	return schema
}

func scrubSchema(node any) {
	switch n := node.(type) {
	case map[string]any:
		for _, key := range []string{"$schema", "$id", "$defs", "$ref", "additionalProperties", "patternProperties"} {
			delete(n, key)
		}
		for _, v := range n {
			scrubSchema(v)
		}
	case []any:
		for _, v := range n {
			scrubSchema(v)
		}
	}
}
