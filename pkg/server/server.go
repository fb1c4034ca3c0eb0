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

// Package server exposes the tutoring flow over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/financebuddy/financebuddy/pkg/apierr"
	"github.com/financebuddy/financebuddy/pkg/export"
	"github.com/financebuddy/financebuddy/pkg/flow"
	"github.com/financebuddy/financebuddy/pkg/ratelimit"
	"github.com/financebuddy/financebuddy/pkg/session"
)

const serviceName = "financebuddy"

// Config configures the HTTP server.
type Config struct {
	Addr    string
	Version string

	// RateLimitPerMinute bounds requests per client IP; zero disables.
	RateLimitPerMinute int
}

// Server routes the tutoring API onto a flow manager.
type Server struct {
	manager *flow.Manager
	store   session.Store
	cfg     Config
	logger  *slog.Logger

	registry   *prometheus.Registry
	httpServer *http.Server
}

// New creates the HTTP server.
func New(manager *flow.Manager, store session.Store, cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}

	s := &Server{
		manager:  manager,
		store:    store,
		cfg:      cfg,
		logger:   slog.Default().With("component", "server"),
		registry: prometheus.NewRegistry(),
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler builds the routed handler; exposed for tests.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	metrics := newHTTPMetrics(s.registry)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(metrics.middleware)
	if s.cfg.RateLimitPerMinute > 0 {
		limiter := ratelimit.New(ratelimit.NewMemoryStore(), s.cfg.RateLimitPerMinute, time.Minute)
		r.Use(rateLimitMiddleware(limiter))
	}

	r.Get("/api/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", s.handleCreateSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Delete("/", s.handleDeleteSession)
			r.Get("/questions", s.handleGetQuestions)
			r.Post("/reveal-answers", s.handleRevealAnswers)
			r.Get("/explanations", s.handleGetExplanations)
			r.Post("/followup", s.handleFollowup)
		})
	})

	r.Route("/api/quiz", func(r chi.Router) {
		r.Post("/export", s.handleExportPost)
		r.Get("/export/{sessionId}", s.handleExportGet)
	})

	return r
}

// Start serves until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server starting", "addr", s.cfg.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server failed: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		return s.Stop(context.Background())
	case err := <-errCh:
		return err
	}
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"service":   serviceName,
		"version":   s.cfg.Version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

type createSessionRequest struct {
	Topic         string `json:"topic"`
	QuestionCount int    `json:"questionCount"`
	Difficulty    string `json:"difficulty"`
	UserID        string `json:"userId"`
}

// handleCreateSession creates a session and immediately generates its
// questions. The response hides answer keys.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apierr.Wrap(apierr.KindValidation, "invalid request body", err))
		return
	}

	created, err := s.manager.Create(r.Context(), req.Topic, req.QuestionCount, req.Difficulty, req.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	state, err := s.manager.Generate(r.Context(), created.SessionID)
	if err != nil {
		// A session without questions is useless; drop it.
		_ = s.store.Delete(r.Context(), created.SessionID)
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"session":   newSessionView(state),
		"questions": questionViews(state.Session, viewOptions{}),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	state, err := s.manager.View(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionView(state))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Clear(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetQuestions(w http.ResponseWriter, r *http.Request) {
	state, err := s.manager.View(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"questions": questionViews(state.Session, viewOptions{}),
	})
}

type revealRequest struct {
	UserAnswers map[string]string `json:"userAnswers"`
}

func (s *Server) handleRevealAnswers(w http.ResponseWriter, r *http.Request) {
	var req revealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apierr.Wrap(apierr.KindValidation, "invalid request body", err))
		return
	}

	state, err := s.manager.Reveal(r.Context(), chi.URLParam(r, "id"), req.UserAnswers)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session":   newSessionView(state),
		"questions": questionViews(state.Session, viewOptions{revealAnswers: true, includeUserAnswers: true}),
		"score":     state.Session.Score,
	})
}

// handleGetExplanations generates explanations on first access and serves
// the stored ones afterwards.
func (s *Server) handleGetExplanations(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	state, err := s.manager.View(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if len(state.Session.Explanations) == 0 {
		state, err = s.manager.Explain(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session": newSessionView(state),
		"questions": questionViews(state.Session, viewOptions{
			revealAnswers:       true,
			includeUserAnswers:  true,
			includeExplanations: true,
		}),
	})
}

type followupRequest struct {
	Question string `json:"question"`
}

func (s *Server) handleFollowup(w http.ResponseWriter, r *http.Request) {
	var req followupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apierr.Wrap(apierr.KindValidation, "invalid request body", err))
		return
	}

	state, err := s.manager.Followup(r.Context(), chi.URLParam(r, "id"), req.Question)
	if err != nil {
		writeError(w, r, err)
		return
	}

	history := followupViews(state.Session)
	latest := history[len(history)-1]
	writeJSON(w, http.StatusOK, map[string]any{
		"question": latest.Question,
		"answer":   latest.Answer,
		"grounded": latest.Grounded,
		"history":  history,
	})
}

type exportRequest struct {
	SessionID string `json:"sessionId"`

	IncludeExplanations bool   `json:"includeExplanations"`
	DifficultyFilter    string `json:"difficultyFilter"`
	MaxQuestions        int    `json:"maxQuestions"`
	RandomizeOrder      bool   `json:"randomizeOrder"`
	Seed                int64  `json:"seed"`
	Deduplicate         bool   `json:"deduplicate"`
}

func (s *Server) handleExportPost(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apierr.Wrap(apierr.KindValidation, "invalid request body", err))
		return
	}
	if req.SessionID == "" {
		writeError(w, r, apierr.New(apierr.KindValidation, "sessionId is required"))
		return
	}

	s.export(w, r, req.SessionID, export.Options{
		IncludeExplanations: req.IncludeExplanations,
		DifficultyFilter:    req.DifficultyFilter,
		MaxQuestions:        req.MaxQuestions,
		RandomizeOrder:      req.RandomizeOrder,
		Seed:                req.Seed,
		Deduplicate:         req.Deduplicate,
	})
}

func (s *Server) handleExportGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	maxQuestions, _ := strconv.Atoi(q.Get("maxQuestions"))
	seed, _ := strconv.ParseInt(q.Get("seed"), 10, 64)

	s.export(w, r, chi.URLParam(r, "sessionId"), export.Options{
		IncludeExplanations: q.Get("includeExplanations") == "true",
		DifficultyFilter:    q.Get("difficulty"),
		MaxQuestions:        maxQuestions,
		RandomizeOrder:      q.Get("randomize") == "true",
		Seed:                seed,
		Deduplicate:         q.Get("deduplicate") == "true",
	})
}

func (s *Server) export(w http.ResponseWriter, r *http.Request, sessionID string, opts export.Options) {
	sess, err := s.store.Get(r.Context(), sessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	exported, err := export.Export(sess, opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exported)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type errorBody struct {
	Kind           apierr.Kind `json:"kind"`
	Message        string      `json:"message"`
	AllowedActions []string    `json:"allowedActions,omitempty"`
	RequestID      string      `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apierr.KindOf(err)
	body := errorBody{
		Kind:      kind,
		Message:   err.Error(),
		RequestID: RequestID(r.Context()),
	}

	var apiErr *apierr.Error
	if errors.As(err, &apiErr) {
		body.AllowedActions = apiErr.AllowedActions
	}

	writeJSON(w, apierr.HTTPStatus(kind), map[string]errorBody{"error": body})
}
