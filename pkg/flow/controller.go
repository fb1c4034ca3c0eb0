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

// Package flow drives the tutoring session state machine and publishes
// view state to subscribers.
package flow

import (
	"github.com/financebuddy/financebuddy/pkg/apierr"
	"github.com/financebuddy/financebuddy/pkg/session"
)

// Action is a user-initiated flow transition.
type Action string

const (
	ActionGenerateQuestions Action = "generate_questions"
	ActionRevealAnswers     Action = "reveal_answers"
	ActionShowExplanations  Action = "show_explanations"
	ActionAskFollowup       Action = "ask_followup"
	ActionContinueFollowup  Action = "continue_followup"
	ActionRestart           Action = "restart"
	ActionClear             Action = "clear"
)

// stepActions maps each step to the actions that advance it. Restart and
// clear are legal from every step and appended by AllowedActions.
var stepActions = map[session.Step][]Action{
	session.StepInput:        {ActionGenerateQuestions},
	session.StepQuestions:    {ActionRevealAnswers},
	session.StepAnswers:      {ActionShowExplanations},
	session.StepExplanations: {ActionAskFollowup},
	session.StepFollowup:     {ActionContinueFollowup},
}

// nextStep maps a valid (step, action) pair to the step it lands on.
var nextStep = map[session.Step]map[Action]session.Step{
	session.StepInput:        {ActionGenerateQuestions: session.StepQuestions},
	session.StepQuestions:    {ActionRevealAnswers: session.StepAnswers},
	session.StepAnswers:      {ActionShowExplanations: session.StepExplanations},
	session.StepExplanations: {ActionAskFollowup: session.StepFollowup},
	session.StepFollowup:     {ActionContinueFollowup: session.StepFollowup},
}

// progress maps each step to the UI progress percentage.
var progress = map[session.Step]int{
	session.StepInput:        0,
	session.StepQuestions:    25,
	session.StepAnswers:      50,
	session.StepExplanations: 75,
	session.StepFollowup:     100,
}

// descriptions maps each step to the UI description line.
var descriptions = map[session.Step]string{
	session.StepInput:        "Choose a topic to study",
	session.StepQuestions:    "Answer the practice questions",
	session.StepAnswers:      "Review the correct answers",
	session.StepExplanations: "Read why each answer is correct",
	session.StepFollowup:     "Ask follow-up questions",
}

// AllowedActions is the single source of truth for what a UI may offer
// at a given step.
func AllowedActions(step session.Step) []Action {
	base := stepActions[step]
	out := make([]Action, 0, len(base)+2)
	out = append(out, base...)
	out = append(out, ActionRestart, ActionClear)
	return out
}

// Progress returns the UI progress percentage for a step.
func Progress(step session.Step) int {
	return progress[step]
}

// StepDescription returns the UI description for a step.
func StepDescription(step session.Step) string {
	return descriptions[step]
}

// ValidateAction rejects actions that are not legal from the current step.
// The returned error carries the allowed set for the response body.
func ValidateAction(step session.Step, action Action) error {
	if action == ActionRestart || action == ActionClear {
		return nil
	}
	if _, ok := nextStep[step][action]; ok {
		return nil
	}

	allowed := AllowedActions(step)
	names := make([]string, len(allowed))
	for i, a := range allowed {
		names[i] = string(a)
	}
	return &apierr.Error{
		Kind:           apierr.KindInvalidTransition,
		Message:        "action " + string(action) + " is not allowed from step " + string(step),
		AllowedActions: names,
	}
}

// NextStep returns the step a valid action lands on. Restart lands on
// input; clear has no destination step.
func NextStep(step session.Step, action Action) (session.Step, bool) {
	if action == ActionRestart {
		return session.StepInput, true
	}
	next, ok := nextStep[step][action]
	return next, ok
}
