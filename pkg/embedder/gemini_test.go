package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGeminiTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *GeminiEmbedder) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	e, err := NewGeminiEmbedder(GeminiConfig{
		APIKey:    "test-key",
		BaseURL:   srv.URL,
		Dimension: 3,
		BatchSize: 2,
	})
	require.NoError(t, err)
	return srv, e
}

func TestGeminiEmbed(t *testing.T) {
	_, e := newGeminiTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, ":embedContent")
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))

		var req geminiEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "models/text-embedding-004", req.Model)
		assert.Equal(t, "suitability rule", req.Content.Parts[0].Text)

		json.NewEncoder(w).Encode(geminiEmbedResponse{
			Embedding: geminiEmbedding{Values: []float32{0.1, 0.2, 0.3}},
		})
	})

	vec, err := e.Embed(context.Background(), "suitability rule")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestGeminiEmbedEmptyText(t *testing.T) {
	_, e := newGeminiTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected for empty text")
	})

	_, err := e.Embed(context.Background(), "")
	assert.Error(t, err)
}

func TestGeminiEmbedBatchChunksAndOrder(t *testing.T) {
	var calls int
	_, e := newGeminiTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Contains(t, r.URL.Path, ":batchEmbedContents")

		var req geminiBatchEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := geminiBatchEmbedResponse{}
		for _, item := range req.Requests {
			// Encode the text length so ordering is observable.
			n := float32(len(item.Content.Parts[0].Text))
			resp.Embeddings = append(resp.Embeddings, geminiEmbedding{Values: []float32{n, 0, 0}})
		}
		json.NewEncoder(w).Encode(resp)
	})

	results, err := e.EmbedBatch(context.Background(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	require.Len(t, results, 3)

	// Batch size 2 means two chunks.
	assert.Equal(t, 2, calls)
	for i, want := range []float32{1, 2, 3} {
		require.NoError(t, results[i].Err)
		assert.Equal(t, want, results[i].Vector[0])
	}
}

func TestGeminiEmbedAPIError(t *testing.T) {
	_, e := newGeminiTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":400,"message":"invalid model","status":"INVALID_ARGUMENT"}}`))
	})

	_, err := e.Embed(context.Background(), "text")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "invalid model"))
}

func TestGeminiEmbedBatchPartialFailure(t *testing.T) {
	var calls int
	_, e := newGeminiTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":{"message":"boom"}}`))
			return
		}
		json.NewEncoder(w).Encode(geminiBatchEmbedResponse{
			Embeddings: []geminiEmbedding{{Values: []float32{1, 2, 3}}},
		})
	})

	results, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, results, 3)

	// First chunk of two failed, second chunk succeeded.
	assert.Error(t, results[0].Err)
	assert.Error(t, results[1].Err)
	assert.NoError(t, results[2].Err)
	assert.Equal(t, []float32{1, 2, 3}, results[2].Vector)
}
