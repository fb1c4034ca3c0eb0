package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/financebuddy/financebuddy/pkg/corpus"
	"github.com/financebuddy/financebuddy/pkg/embedder"
	"github.com/financebuddy/financebuddy/pkg/flow"
	"github.com/financebuddy/financebuddy/pkg/llm"
	"github.com/financebuddy/financebuddy/pkg/quiz"
	"github.com/financebuddy/financebuddy/pkg/retrieval"
	"github.com/financebuddy/financebuddy/pkg/session"
	"github.com/financebuddy/financebuddy/pkg/vector"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	return newTestServerWithConfig(t, Config{Version: "test"})
}

func newTestServerWithConfig(t *testing.T, cfg Config) *httptest.Server {
	t.Helper()

	store := vector.NewMemoryStore("test")
	keyword := retrieval.NewKeywordIndex()
	processor := corpus.NewProcessor(embedder.NewStubEmbedder(), store, keyword, corpus.ProcessorConfig{})
	docs := []corpus.Document{
		{
			Title:   "Margin requirements",
			Content: "Regulation T sets the initial margin requirement at fifty percent of the purchase price.",
			Type:    corpus.TypeTextbook,
			Source:  "series7/margin.md",
		},
		{
			Title:   "Margin question",
			Content: "Question: What is the initial margin requirement? Answer: Fifty percent of the purchase price.",
			Type:    corpus.TypeQAPair,
			Source:  "qa/margin.json#0",
		},
		{
			Title:   "Regulation T",
			Content: "Regulation T governs the extension of credit by broker-dealers and the initial margin requirement.",
			Type:    corpus.TypeRegulation,
			Source:  "regs/reg-t.txt",
		},
	}
	for _, doc := range docs {
		_, err := processor.Process(context.Background(), doc)
		require.NoError(t, err)
	}

	retriever := retrieval.New(embedder.NewStubEmbedder(), store, keyword, retrieval.Config{})
	adapter := llm.NewStubAdapter()
	sessions := session.NewMemoryStore(time.Hour, session.WithoutJanitor())
	t.Cleanup(func() { _ = sessions.Close() })

	manager := flow.NewManager(
		sessions,
		quiz.NewGenerator(retriever, adapter, quiz.GeneratorConfig{MinScore: 0.1}),
		quiz.NewExplainer(retriever, adapter),
		retriever,
		adapter,
		flow.ManagerConfig{},
	)

	srv := httptest.NewServer(New(manager, sessions, cfg).httpServer.Handler)
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()

	var decoded map[string]any
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded), "body: %s", raw)
	}
	return resp, decoded
}

func createSession(t *testing.T, srv *httptest.Server, count int) (string, []any) {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/sessions", map[string]any{
		"topic":         "margin requirement",
		"questionCount": count,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	sess := body["session"].(map[string]any)
	questions := body["questions"].([]any)
	return sess["id"].(string), questions
}

func TestCreateSessionHidesAnswers(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/sessions", map[string]any{
		"topic":         "margin requirement",
		"questionCount": 2,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	sess := body["session"].(map[string]any)
	assert.Equal(t, "questions", sess["step"])
	assert.EqualValues(t, 25, sess["progress"])
	assert.Contains(t, sess["allowedActions"], "reveal_answers")

	questions := body["questions"].([]any)
	require.Len(t, questions, 2)
	for _, raw := range questions {
		q := raw.(map[string]any)
		assert.NotEmpty(t, q["id"])
		assert.NotContains(t, q, "correctAnswer")
		assert.NotContains(t, q, "explanation")
		assert.Len(t, q["options"], 4)
	}
}

func TestCreateSessionValidation(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/sessions", map[string]any{
		"topic": "", "questionCount": 2,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "VALIDATION", errObj["kind"])
	assert.NotEmpty(t, errObj["requestId"])
}

func TestFullSessionLifecycle(t *testing.T) {
	srv := newTestServer(t)
	id, questions := createSession(t, srv, 2)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "questions", body["step"])

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/sessions/"+id+"/questions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body["questions"], 2)

	answers := make(map[string]string)
	for _, raw := range questions {
		answers[raw.(map[string]any)["id"].(string)] = "A"
	}
	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/sessions/"+id+"/reveal-answers", map[string]any{
		"userAnswers": answers,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, body["score"])
	score := body["score"].(map[string]any)
	assert.EqualValues(t, 2, score["total"])
	for _, raw := range body["questions"].([]any) {
		q := raw.(map[string]any)
		assert.Contains(t, q, "correctAnswer")
		assert.Contains(t, q, "userAnswer")
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/sessions/"+id+"/explanations", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	for _, raw := range body["questions"].([]any) {
		q := raw.(map[string]any)
		exp := q["explanation"].(map[string]any)
		assert.NotEmpty(t, exp["explanation"])
	}

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/sessions/"+id+"/followup", map[string]any{
		"question": "Does this apply to bonds?",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Does this apply to bonds?", body["question"])
	assert.NotEmpty(t, body["answer"])
	assert.Len(t, body["history"], 1)

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/sessions/"+id, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", body["error"].(map[string]any)["kind"])
}

func TestInvalidTransitionReturns409(t *testing.T) {
	srv := newTestServer(t)
	id, questions := createSession(t, srv, 1)

	answers := map[string]string{
		questions[0].(map[string]any)["id"].(string): "A",
	}
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/sessions/"+id+"/reveal-answers", map[string]any{
		"userAnswers": answers,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/sessions/"+id+"/reveal-answers", map[string]any{
		"userAnswers": answers,
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	errObj := body["error"].(map[string]any)
	assert.Equal(t, "INVALID_TRANSITION", errObj["kind"])
	assert.Contains(t, errObj["allowedActions"], "show_explanations")
}

func TestExportEndpoints(t *testing.T) {
	srv := newTestServer(t)
	id, _ := createSession(t, srv, 2)

	resp, body := doJSON(t, http.MethodGet,
		fmt.Sprintf("%s/api/quiz/export/%s?randomize=true&seed=7", srv.URL, id), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	meta := body["metadata"].(map[string]any)
	assert.Equal(t, "FinanceBuddy", meta["sourceSystem"])
	assert.EqualValues(t, 7, meta["seed"])
	questions := body["questions"].([]any)
	require.Len(t, questions, 2)
	first := questions[0].(map[string]any)
	assert.Len(t, first["answers"], 4)

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/quiz/export", map[string]any{
		"sessionId":    id,
		"maxQuestions": 1,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["questions"], 1)

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/quiz/export", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION", body["error"].(map[string]any)["kind"])

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/quiz/export/unknown", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "financebuddy", body["service"])
	assert.Equal(t, "test", body["version"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	metricsResp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()

	raw, err := io.ReadAll(metricsResp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "financebuddy_http_requests_total")
}

func TestRateLimitEnforced(t *testing.T) {
	srv := newTestServerWithConfig(t, Config{Version: "test", RateLimitPerMinute: 2})

	// Five requests against a limit of two must hit the limit even if the
	// minute window rolls over mid-test.
	var limited *http.Response
	var body map[string]any
	for i := 0; i < 5; i++ {
		resp, b := doJSON(t, http.MethodGet, srv.URL+"/api/health", nil)
		assert.Equal(t, "2", resp.Header.Get("X-RateLimit-Limit"))
		if resp.StatusCode == http.StatusTooManyRequests {
			limited, body = resp, b
			break
		}
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	require.NotNil(t, limited, "expected a 429 within five requests")
	assert.NotEmpty(t, limited.Header.Get("Retry-After"))
	assert.Equal(t, "RATE_LIMITED", body["error"].(map[string]any)["kind"])
}

func TestRequestIDPropagated(t *testing.T) {
	srv := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "req-123")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "req-123", resp.Header.Get("X-Request-ID"))

	resp2, err := http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.True(t, strings.Count(resp2.Header.Get("X-Request-ID"), "-") >= 4)
}
