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

// Package apierr defines the error taxonomy shared by every component.
//
// Components return typed errors upward; the flow manager materializes them
// into view state and the HTTP layer maps kinds to status codes uniformly.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for propagation and HTTP mapping.
type Kind string

const (
	// KindValidation is a bad input shape; recoverable by the caller.
	KindValidation Kind = "VALIDATION"

	// KindNotFound is an unknown id or expired session.
	KindNotFound Kind = "NOT_FOUND"

	// KindConflict is a compare-and-swap failure on concurrent updates.
	KindConflict Kind = "CONFLICT"

	// KindInvalidTransition is a state machine rejection; the error carries
	// the set of allowed actions.
	KindInvalidTransition Kind = "INVALID_TRANSITION"

	// KindBusy is a fail-fast rejection of a concurrent flow action on the
	// same session.
	KindBusy Kind = "BUSY"

	// KindGeneration means the LLM produced invalid or empty content after
	// all retries.
	KindGeneration Kind = "GENERATION_ERROR"

	// KindInsufficientContext means retrieval produced no usable context and
	// fallback is disabled.
	KindInsufficientContext Kind = "INSUFFICIENT_CONTEXT"

	// KindRetrievalDegraded means the vector store is unavailable.
	KindRetrievalDegraded Kind = "RETRIEVAL_DEGRADED"

	// KindUpstreamUnavailable means an embedding or LLM provider is down
	// after retry exhaustion.
	KindUpstreamUnavailable Kind = "UPSTREAM_UNAVAILABLE"

	// KindTransient is retryable internally and never surfaced unless the
	// retry budget is exhausted.
	KindTransient Kind = "TRANSIENT"

	// KindEmptyExport means an export produced zero questions.
	KindEmptyExport Kind = "EMPTY_EXPORT"

	// KindRateLimited means the client exceeded its request allowance.
	KindRateLimited Kind = "RATE_LIMITED"

	// KindFatal is a startup configuration or schema mismatch error.
	KindFatal Kind = "FATAL"
)

// Error is a classified error with an optional detail payload.
type Error struct {
	Kind    Kind
	Message string

	// AllowedActions is populated for KindInvalidTransition so the response
	// body can tell the UI what is legal from the current step.
	AllowedActions []string

	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the Kind from an error chain.
// Unclassified errors report KindTransient so callers treat them as
// internal failures rather than leaking details.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransient
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// HTTPStatus maps an error kind to its HTTP status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict, KindInvalidTransition, KindBusy:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindGeneration, KindInsufficientContext:
		return http.StatusUnprocessableEntity
	case KindRetrievalDegraded, KindUpstreamUnavailable:
		return http.StatusServiceUnavailable
	case KindFatal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
