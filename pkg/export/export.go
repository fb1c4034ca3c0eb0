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

// Package export converts a session's questions to the external quiz
// schema. The schema is a stable contract for downstream quiz tools.
package export

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/financebuddy/financebuddy/pkg/apierr"
	"github.com/financebuddy/financebuddy/pkg/quiz"
	"github.com/financebuddy/financebuddy/pkg/session"
)

// SourceSystem identifies exports produced by this service.
const SourceSystem = "FinanceBuddy"

// answerCount is fixed by the external schema.
const answerCount = 4

// Question is one exported question: answers in A..D order, correct as a
// zero-based index into answers.
type Question struct {
	Question string   `json:"question"`
	Answers  []string `json:"answers"`
	Correct  int      `json:"correct"`
}

// Metadata carries export provenance, and the explanations keyed by
// question index when requested.
type Metadata struct {
	Topic        string    `json:"topic"`
	Difficulty   string    `json:"difficulty,omitempty"`
	SourceSystem string    `json:"sourceSystem"`
	ExportedAt   time.Time `json:"exportedAt"`

	// Seed reproduces a randomized order.
	Seed *int64 `json:"seed,omitempty"`

	Explanations map[int]string `json:"explanations,omitempty"`
}

// Quiz is the exported document.
type Quiz struct {
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
	Metadata  Metadata   `json:"metadata"`
}

// Options select and shape the exported questions.
type Options struct {
	IncludeExplanations bool

	// DifficultyFilter retains only questions of this difficulty.
	DifficultyFilter string

	// MaxQuestions keeps the first N after filtering and randomization.
	MaxQuestions int

	// RandomizeOrder shuffles with Seed; a zero Seed is replaced with a
	// time-derived one. The effective seed lands in metadata.
	RandomizeOrder bool
	Seed           int64

	// Deduplicate drops repeated question texts, keeping the first.
	Deduplicate bool
}

// Export builds the external quiz from a session.
func Export(sess *session.Session, opts Options) (*Quiz, error) {
	selected := make([]quiz.Question, 0, len(sess.Questions))
	seen := make(map[string]bool, len(sess.Questions))
	for _, q := range sess.Questions {
		if opts.DifficultyFilter != "" && q.Difficulty != opts.DifficultyFilter {
			continue
		}
		if opts.Deduplicate {
			key := strings.ToLower(strings.TrimSpace(q.Text))
			if seen[key] {
				continue
			}
			seen[key] = true
		}
		selected = append(selected, q)
	}

	meta := Metadata{
		Topic:        sess.Topic,
		Difficulty:   opts.DifficultyFilter,
		SourceSystem: SourceSystem,
		ExportedAt:   time.Now().UTC(),
	}

	if opts.RandomizeOrder {
		seed := opts.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		rand.New(rand.NewSource(seed)).Shuffle(len(selected), func(i, j int) {
			selected[i], selected[j] = selected[j], selected[i]
		})
		meta.Seed = &seed
	}

	if opts.MaxQuestions > 0 && len(selected) > opts.MaxQuestions {
		selected = selected[:opts.MaxQuestions]
	}

	if len(selected) == 0 {
		return nil, apierr.New(apierr.KindEmptyExport, "no questions to export")
	}

	questions := make([]Question, 0, len(selected))
	for _, q := range selected {
		exported, err := convert(q)
		if err != nil {
			return nil, err
		}
		questions = append(questions, *exported)

		if opts.IncludeExplanations {
			if text := explanationFor(sess, q); text != "" {
				if meta.Explanations == nil {
					meta.Explanations = make(map[int]string)
				}
				meta.Explanations[len(questions)-1] = text
			}
		}
	}

	return &Quiz{
		Title:     fmt.Sprintf("Practice quiz: %s", sess.Topic),
		Questions: questions,
		Metadata:  meta,
	}, nil
}

// convert maps the labeled options to the positional external form.
func convert(q quiz.Question) (*Question, error) {
	if err := q.Validate(); err != nil {
		return nil, apierr.Wrap(apierr.KindValidation,
			fmt.Sprintf("question %s fails export invariants", q.ID), err)
	}

	answers := make([]string, 0, answerCount)
	correct := -1
	for i, label := range quiz.OptionLabels {
		answers = append(answers, q.Options[label])
		if label == q.CorrectAnswer {
			correct = i
		}
	}
	if correct < 0 || correct >= answerCount {
		return nil, apierr.Newf(apierr.KindValidation,
			"question %s has no positional correct answer", q.ID)
	}

	return &Question{Question: q.Text, Answers: answers, Correct: correct}, nil
}

// explanationFor prefers the session's generated explanation over the one
// attached at question generation time.
func explanationFor(sess *session.Session, q quiz.Question) string {
	if exp, ok := sess.Explanations[q.ID]; ok && exp.Text != "" {
		return exp.Text
	}
	return q.Explanation
}
