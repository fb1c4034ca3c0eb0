package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/financebuddy/financebuddy/pkg/httpclient"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiModel   = "text-embedding-004"
)

// GeminiEmbedder calls the Gemini embedContent / batchEmbedContents API.
type GeminiEmbedder struct {
	client    *httpclient.Client
	apiKey    string
	baseURL   string
	model     string
	dimension int
	batchSize int
}

// GeminiConfig configures a GeminiEmbedder.
type GeminiConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	Dimension int
	BatchSize int
	Timeout   time.Duration
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiEmbedRequest struct {
	Model   string        `json:"model"`
	Content geminiContent `json:"content"`
}

type geminiBatchEmbedRequest struct {
	Requests []geminiEmbedRequest `json:"requests"`
}

type geminiEmbedding struct {
	Values []float32 `json:"values"`
}

type geminiEmbedResponse struct {
	Embedding geminiEmbedding `json:"embedding"`
}

type geminiBatchEmbedResponse struct {
	Embeddings []geminiEmbedding `json:"embeddings"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// NewGeminiEmbedder creates a Gemini embedder.
func NewGeminiEmbedder(cfg GeminiConfig) (*GeminiEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for Gemini embedder")
	}

	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}

	dimension := cfg.Dimension
	if dimension == 0 {
		// text-embedding-004 produces 768-dimensional vectors.
		dimension = 768
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}

	timeout := 20 * time.Second
	if cfg.Timeout > 0 {
		timeout = cfg.Timeout
	}

	batchSize := 50
	if cfg.BatchSize > 0 {
		batchSize = cfg.BatchSize
	}

	client := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
		httpclient.WithHeaderParser(httpclient.ParseStandardHeaders),
	)

	return &GeminiEmbedder{
		client:    client,
		apiKey:    cfg.APIKey,
		baseURL:   baseURL,
		model:     model,
		dimension: dimension,
		batchSize: batchSize,
	}, nil
}

// Embed converts a single text to a vector embedding.
func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("cannot embed empty text")
	}

	req := geminiEmbedRequest{
		Model:   "models/" + e.model,
		Content: geminiContent{Parts: []geminiPart{{Text: text}}},
	}

	url := fmt.Sprintf("%s/models/%s:embedContent?key=%s", e.baseURL, e.model, e.apiKey)

	var resp geminiEmbedResponse
	if err := e.post(ctx, url, req, &resp); err != nil {
		return nil, err
	}

	if len(resp.Embedding.Values) == 0 {
		return nil, fmt.Errorf("received empty embedding from Gemini")
	}
	return resp.Embedding.Values, nil
}

// EmbedBatch embeds texts in chunks of the configured batch size, preserving
// input order. A failed chunk marks each of its elements failed rather than
// aborting the rest of the batch.
func (e *GeminiEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]BatchResult, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([]BatchResult, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		chunk := texts[start:end]
		req := geminiBatchEmbedRequest{Requests: make([]geminiEmbedRequest, len(chunk))}
		for i, text := range chunk {
			req.Requests[i] = geminiEmbedRequest{
				Model:   "models/" + e.model,
				Content: geminiContent{Parts: []geminiPart{{Text: text}}},
			}
		}

		url := fmt.Sprintf("%s/models/%s:batchEmbedContents?key=%s", e.baseURL, e.model, e.apiKey)

		var resp geminiBatchEmbedResponse
		if err := e.post(ctx, url, req, &resp); err != nil {
			for i := start; i < end; i++ {
				results[i] = BatchResult{Err: err}
			}
			continue
		}

		for i := range chunk {
			if i < len(resp.Embeddings) && len(resp.Embeddings[i].Values) > 0 {
				results[start+i] = BatchResult{Vector: resp.Embeddings[i].Values}
			} else {
				results[start+i] = BatchResult{Err: fmt.Errorf("missing embedding in batch response")}
			}
		}
	}

	return results, nil
}

func (e *GeminiEmbedder) post(ctx context.Context, url string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	// Do returns the final response alongside the error on HTTP-status
	// failures; the body carries the provider's error message.
	resp, err := e.client.Do(httpReq)
	if resp == nil {
		return fmt.Errorf("failed to call Gemini embedding API: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp geminiErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			return fmt.Errorf("Gemini API error: %s (status: %s)", errResp.Error.Message, errResp.Error.Status)
		}
		return fmt.Errorf("Gemini API returned status %d: %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Dimension returns the embedding vector dimension.
func (e *GeminiEmbedder) Dimension() int {
	return e.dimension
}

// Model returns the model name being used.
func (e *GeminiEmbedder) Model() string {
	return e.model
}

// Close releases resources held by the embedder.
func (e *GeminiEmbedder) Close() error {
	return nil
}

var _ Embedder = (*GeminiEmbedder)(nil)
