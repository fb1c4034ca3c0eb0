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

// Package quiz turns retrieved study material into validated multiple-choice
// questions and explanations.
package quiz

import (
	"fmt"
	"strings"
)

// OptionLabels are the four answer keys every question carries.
var OptionLabels = []string{"A", "B", "C", "D"}

// SourceReference points a question back at the corpus chunk it was
// generated from.
type SourceReference struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Question is one validated multiple-choice question.
type Question struct {
	ID            string            `json:"id"`
	Text          string            `json:"question"`
	Options       map[string]string `json:"options"`
	CorrectAnswer string            `json:"correctAnswer"`
	Explanation   string            `json:"explanation,omitempty"`
	Difficulty    string            `json:"difficulty"`

	// SourceReferences lists the retrieved documents the question cites.
	SourceReferences []SourceReference `json:"sourceReferences,omitempty"`

	// CommonKnowledge marks a question whose correct option text could not
	// be located in the retrieved context.
	CommonKnowledge bool `json:"commonKnowledge,omitempty"`
}

// Validate checks the structural invariants every stored question satisfies.
func (q *Question) Validate() error {
	if strings.TrimSpace(q.Text) == "" {
		return fmt.Errorf("question text is empty")
	}
	if len(q.Options) != len(OptionLabels) {
		return fmt.Errorf("question has %d options, want %d", len(q.Options), len(OptionLabels))
	}

	seen := make(map[string]string, len(OptionLabels))
	for _, label := range OptionLabels {
		text := strings.TrimSpace(q.Options[label])
		if text == "" {
			return fmt.Errorf("option %s is empty", label)
		}
		if prev, dup := seen[strings.ToLower(text)]; dup {
			return fmt.Errorf("options %s and %s have the same text", prev, label)
		}
		seen[strings.ToLower(text)] = label
	}

	if _, ok := q.Options[q.CorrectAnswer]; !ok {
		return fmt.Errorf("correct answer %q is not an option label", q.CorrectAnswer)
	}
	return nil
}

// Explanation is a validated answer explanation.
type Explanation struct {
	QuestionID string            `json:"questionId"`
	Text       string            `json:"explanation"`
	WhyWrong   map[string]string `json:"whyWrong,omitempty"`

	SourceReferences []SourceReference `json:"sourceReferences,omitempty"`

	// Fallback marks a deterministic template explanation used when
	// generation failed.
	Fallback bool `json:"fallback,omitempty"`
}
