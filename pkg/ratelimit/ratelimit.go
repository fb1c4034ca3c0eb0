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

// Package ratelimit bounds per-client request rates with fixed windows.
package ratelimit

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"
)

// Decision is the outcome of an Allow check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int

	// RetryAfter is how long the client must wait when rejected.
	RetryAfter time.Duration
}

// Store persists request counts per client and window.
type Store interface {
	// Increment adds one request for the client in the window ending at
	// windowEnd and returns the new count. A new window resets the count.
	Increment(ctx context.Context, client string, windowEnd time.Time) (int64, error)

	// Cleanup drops windows that ended before now.
	Cleanup(ctx context.Context, now time.Time) error
}

// Limiter enforces a fixed-window request limit per client.
type Limiter struct {
	store  Store
	limit  int
	window time.Duration
	now    func() time.Time
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock overrides the limiter clock for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a limiter allowing limit requests per window.
func New(store Store, limit int, window time.Duration, opts ...Option) *Limiter {
	if window <= 0 {
		window = time.Minute
	}
	l := &Limiter{
		store:  store,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow records one request for the client and reports whether it stays
// within the limit.
func (l *Limiter) Allow(ctx context.Context, client string) (Decision, error) {
	now := l.now()
	windowEnd := now.Truncate(l.window).Add(l.window)

	count, err := l.store.Increment(ctx, client, windowEnd)
	if err != nil {
		return Decision{}, err
	}

	decision := Decision{
		Allowed: count <= int64(l.limit),
		Limit:   l.limit,
	}
	if remaining := int64(l.limit) - count; remaining > 0 {
		decision.Remaining = int(remaining)
	}
	if !decision.Allowed {
		decision.RetryAfter = windowEnd.Sub(now)
	}
	return decision, nil
}

// ClientIP extracts the limiting identity from a request: the first
// X-Forwarded-For hop when present, otherwise the remote address host.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, ok := strings.Cut(fwd, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
