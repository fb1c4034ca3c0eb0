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

// Package session provides study session state and its stores.
//
// A session tracks one pass through the tutoring flow: the topic, the
// generated questions, the student's answers, explanations, and follow-up
// exchanges. Stores are pluggable; updates are compare-and-swap so
// concurrent flow actions on the same session fail fast instead of
// interleaving.
package session

import (
	"context"
	"time"

	"github.com/financebuddy/financebuddy/pkg/quiz"
)

// DefaultTTL is the session lifetime when the store is given none.
const DefaultTTL = 60 * time.Minute

// Step is the position in the tutoring flow.
type Step string

const (
	StepInput        Step = "input"
	StepQuestions    Step = "questions"
	StepAnswers      Step = "answers"
	StepExplanations Step = "explanations"
	StepFollowup     Step = "followup"
)

// FollowupExchange is one answered follow-up question.
type FollowupExchange struct {
	Question string    `json:"question"`
	Answer   string    `json:"answer"`
	Grounded bool      `json:"grounded"`
	AskedAt  time.Time `json:"askedAt"`
}

// Score summarizes the student's answers once revealed.
type Score struct {
	Correct int     `json:"correct"`
	Total   int     `json:"total"`
	Percent float64 `json:"percent"`
}

// Session is one student's pass through the tutoring flow.
type Session struct {
	ID            string `json:"id"`
	UserID        string `json:"userId,omitempty"`
	Topic         string `json:"topic"`
	QuestionCount int    `json:"questionCount"`
	Difficulty    string `json:"difficulty"`

	Step Step `json:"step"`

	// Version increments on every successful update; the stores use it for
	// compare-and-swap.
	Version int64 `json:"version"`

	Questions []quiz.Question `json:"questions,omitempty"`

	// UserAnswers maps question id to the chosen option label.
	UserAnswers map[string]string `json:"userAnswers,omitempty"`

	// Explanations maps question id to its explanation.
	Explanations map[string]quiz.Explanation `json:"explanations,omitempty"`

	Followups []FollowupExchange `json:"followups,omitempty"`

	Score *Score `json:"score,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Clone deep-copies the session so callers can mutate snapshots freely.
func (s *Session) Clone() *Session {
	out := *s

	if s.Questions != nil {
		out.Questions = make([]quiz.Question, len(s.Questions))
		copy(out.Questions, s.Questions)
	}
	if s.UserAnswers != nil {
		out.UserAnswers = make(map[string]string, len(s.UserAnswers))
		for k, v := range s.UserAnswers {
			out.UserAnswers[k] = v
		}
	}
	if s.Explanations != nil {
		out.Explanations = make(map[string]quiz.Explanation, len(s.Explanations))
		for k, v := range s.Explanations {
			out.Explanations[k] = v
		}
	}
	if s.Followups != nil {
		out.Followups = make([]FollowupExchange, len(s.Followups))
		copy(out.Followups, s.Followups)
	}
	if s.Score != nil {
		score := *s.Score
		out.Score = &score
	}
	return &out
}

// Expired reports whether the session is past its TTL.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Mutator applies a change to a session snapshot inside a store update.
type Mutator func(*Session) error

// Store persists sessions.
type Store interface {
	// Create stores a new session, assigning id, version and expiry.
	Create(ctx context.Context, s *Session) error

	// Get returns a copy of the session or a not-found error.
	Get(ctx context.Context, id string) (*Session, error)

	// Update applies the mutator under compare-and-swap. A concurrent
	// conflicting update fails with a conflict error so the caller retries.
	Update(ctx context.Context, id string, mutate Mutator) (*Session, error)

	// Delete removes the session. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error

	// Extend pushes the expiry out by the given duration from now.
	Extend(ctx context.Context, id string, d time.Duration) (*Session, error)

	// CleanupExpired removes expired sessions and reports how many.
	// It is idempotent.
	CleanupExpired(ctx context.Context) int

	// Close stops background maintenance.
	Close() error
}
