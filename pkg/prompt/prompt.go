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

// Package prompt builds the LLM prompts for question generation,
// explanations and follow-up tutoring.
//
// Every template renders retrieved context as enumerated, source-labeled
// blocks and states the exact JSON contract the caller will parse.
package prompt

import (
	"fmt"
	"strings"

	"github.com/financebuddy/financebuddy/pkg/retrieval"
)

// maxSnippetLen truncates one context snippet inside a prompt.
const maxSnippetLen = 1500

// Sanitize strips prompt-injection patterns from user-supplied text before
// it enters a prompt.
func Sanitize(input string) string {
	sanitized := input

	for _, role := range []string{"SYSTEM:", "System:", "system:", "ASSISTANT:", "Assistant:", "assistant:", "USER:", "User:", "user:"} {
		sanitized = strings.ReplaceAll(sanitized, role, "")
	}

	for _, phrase := range []string{
		"Ignore previous instructions", "ignore previous instructions",
		"Ignore all previous", "ignore all previous",
		"Disregard previous", "disregard previous",
	} {
		sanitized = strings.ReplaceAll(sanitized, phrase, "")
	}

	sanitized = strings.ReplaceAll(sanitized, "---", "")
	sanitized = strings.ReplaceAll(sanitized, "===", "")
	sanitized = strings.ReplaceAll(sanitized, "***", "")
	sanitized = strings.ReplaceAll(sanitized, "```", "")

	return strings.TrimSpace(sanitized)
}

// renderContext writes retrieved documents as enumerated source-labeled
// blocks.
func renderContext(b *strings.Builder, docs []retrieval.ScoredDocument) {
	for i, doc := range docs {
		content := doc.Content
		if len(content) > maxSnippetLen {
			content = content[:maxSnippetLen] + "..."
		}

		fmt.Fprintf(b, "[Source %d] %s (%s", i+1, doc.Title, doc.Type)
		if doc.Chapter != "" {
			fmt.Fprintf(b, ", chapter %s", doc.Chapter)
		}
		b.WriteString(")\n")
		b.WriteString(content)
		b.WriteString("\n\n")
	}
}

// QuestionRequest parameterizes the question generation prompt.
type QuestionRequest struct {
	Topic      string
	Count      int
	Difficulty string
	Context    []retrieval.ScoredDocument
}

// Questions builds the multiple-choice question generation prompt.
func Questions(req QuestionRequest) string {
	var b strings.Builder

	b.WriteString("You are an expert tutor for securities and finance certification exams.\n")
	b.WriteString("Write multiple-choice exam questions strictly from the study material below. ")
	b.WriteString("Do not use outside knowledge; every question and answer must be supported by the material.\n\n")

	b.WriteString("Study material:\n\n")
	renderContext(&b, req.Context)

	fmt.Fprintf(&b, "Write exactly %d questions about %q at %s difficulty.\n\n",
		req.Count, Sanitize(req.Topic), req.Difficulty)

	b.WriteString("Rules:\n")
	b.WriteString("- Each question has exactly four options labeled A, B, C, D.\n")
	b.WriteString("- Exactly one option is correct.\n")
	b.WriteString("- Wrong options must be plausible, not obviously absurd.\n")
	b.WriteString("- Include a short explanation of why the correct answer is correct.\n")
	b.WriteString("- Cite the source numbers the question is based on.\n\n")

	b.WriteString("Respond with JSON only, no prose, in this exact shape:\n")
	b.WriteString(`{"questions": [{"question": "...", "options": {"A": "...", "B": "...", "C": "...", "D": "..."}, "correctAnswer": "A", "explanation": "...", "difficulty": "` + req.Difficulty + `", "sources": [1]}]}`)
	b.WriteString("\n")

	return b.String()
}

// AnswerRequest parameterizes the answer validation prompt.
type AnswerRequest struct {
	Question string
	Options  map[string]string
	Context  []retrieval.ScoredDocument
}

// Answer builds the prompt that asks the model to solve a question
// independently. It is used to cross-check generated answer keys.
func Answer(req AnswerRequest) string {
	var b strings.Builder

	b.WriteString("You are an expert tutor for securities and finance certification exams.\n")
	b.WriteString("Solve the exam question below using only the reference material.\n\n")

	b.WriteString("Reference material:\n\n")
	renderContext(&b, req.Context)

	b.WriteString("Question: ")
	b.WriteString(Sanitize(req.Question))
	b.WriteString("\n")
	for _, label := range []string{"A", "B", "C", "D"} {
		if opt, ok := req.Options[label]; ok {
			fmt.Fprintf(&b, "%s. %s\n", label, Sanitize(opt))
		}
	}
	b.WriteString("\n")

	b.WriteString("Respond with JSON only, no prose, in this exact shape:\n")
	b.WriteString(`{"correctAnswer": "A", "rationale": "..."}`)
	b.WriteString("\n")

	return b.String()
}

// ExplanationRequest parameterizes the explanation prompt.
type ExplanationRequest struct {
	Question      string
	Options       map[string]string
	CorrectAnswer string
	Style         string
	Audience      string
	MaxLength     int
	Context       []retrieval.ScoredDocument
}

// Explanation builds the answer explanation prompt.
func Explanation(req ExplanationRequest) string {
	var b strings.Builder

	b.WriteString("You are an expert tutor for securities and finance certification exams.\n")
	b.WriteString("Explain why the correct answer to the exam question below is correct, using only the reference material.\n\n")

	b.WriteString("Reference material:\n\n")
	renderContext(&b, req.Context)

	b.WriteString("Question: ")
	b.WriteString(Sanitize(req.Question))
	b.WriteString("\n")
	for _, label := range []string{"A", "B", "C", "D"} {
		if opt, ok := req.Options[label]; ok {
			fmt.Fprintf(&b, "%s. %s\n", label, Sanitize(opt))
		}
	}
	fmt.Fprintf(&b, "Correct answer: %s\n\n", req.CorrectAnswer)

	style := req.Style
	if style == "" {
		style = "concise"
	}
	audience := req.Audience
	if audience == "" {
		audience = "certification exam candidates"
	}
	maxLength := req.MaxLength
	if maxLength <= 0 {
		maxLength = 800
	}

	fmt.Fprintf(&b, "Write a %s explanation for %s, at most %d characters. ", style, audience, maxLength)
	b.WriteString("Briefly say why each wrong option is wrong. Cite the source numbers used.\n\n")

	b.WriteString("Respond with JSON only, no prose, in this exact shape:\n")
	b.WriteString(`{"explanation": "...", "whyWrong": {"B": "...", "C": "...", "D": "..."}, "sources": [1]}`)
	b.WriteString("\n")

	return b.String()
}

// FollowupExchange is one prior turn of the follow-up conversation.
type FollowupExchange struct {
	Question string
	Answer   string
}

// FollowupRequest parameterizes the follow-up tutoring prompt.
type FollowupRequest struct {
	Topic    string
	Question string
	History  []FollowupExchange
	Context  []retrieval.ScoredDocument
}

// Followup builds the follow-up tutoring prompt.
func Followup(req FollowupRequest) string {
	var b strings.Builder

	b.WriteString("You are an expert tutor for securities and finance certification exams.\n")
	fmt.Fprintf(&b, "The student is studying %q and asked a follow-up question. ", Sanitize(req.Topic))
	b.WriteString("Answer from the study material below; if the material does not cover it, say so rather than guessing.\n\n")

	b.WriteString("Study material:\n\n")
	renderContext(&b, req.Context)

	if len(req.History) > 0 {
		b.WriteString("Earlier in this conversation:\n")
		for _, ex := range req.History {
			fmt.Fprintf(&b, "Student: %s\nTutor: %s\n", Sanitize(ex.Question), ex.Answer)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Student: %s\n\n", Sanitize(req.Question))

	b.WriteString("Respond with JSON only, no prose, in this exact shape:\n")
	b.WriteString(`{"answer": "...", "sources": [1], "grounded": true}`)
	b.WriteString("\n")

	return b.String()
}
