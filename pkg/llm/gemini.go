package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/financebuddy/financebuddy/pkg/apierr"
	"github.com/financebuddy/financebuddy/pkg/httpclient"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiModel   = "gemini-2.0-flash"
)

// GeminiAdapter calls the Gemini generateContent API with structured output.
type GeminiAdapter struct {
	client      *httpclient.Client
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	timeout     time.Duration
}

// GeminiConfig configures a GeminiAdapter.
type GeminiConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature      *float64       `json:"temperature,omitempty"`
	MaxOutputTokens  int            `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string         `json:"responseMimeType,omitempty"`
	ResponseSchema   map[string]any `json:"responseSchema,omitempty"`
}

type geminiGenerateRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiGenerateResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
	Error      *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// NewGeminiAdapter creates a Gemini structured-generation adapter.
func NewGeminiAdapter(cfg GeminiConfig) (*GeminiAdapter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for Gemini adapter")
	}

	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	client := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
		httpclient.WithHeaderParser(httpclient.ParseStandardHeaders),
	)

	return &GeminiAdapter{
		client:      client,
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
		timeout:     timeout,
	}, nil
}

// GenerateQuestions generates multiple-choice questions from the prompt.
func (a *GeminiAdapter) GenerateQuestions(ctx context.Context, prompt string) (*QuestionsPayload, error) {
	return generate(ctx, a, prompt, responseSchema(&QuestionsPayload{}), validateQuestions)
}

// GenerateAnswer solves a question independently for answer-key validation.
func (a *GeminiAdapter) GenerateAnswer(ctx context.Context, prompt string) (*AnswerPayload, error) {
	return generate(ctx, a, prompt, responseSchema(&AnswerPayload{}), validateAnswer)
}

// GenerateExplanation generates an answer explanation from the prompt.
func (a *GeminiAdapter) GenerateExplanation(ctx context.Context, prompt string) (*ExplanationPayload, error) {
	return generate(ctx, a, prompt, responseSchema(&ExplanationPayload{}), validateExplanation)
}

// GenerateFollowup generates a follow-up tutoring answer from the prompt.
func (a *GeminiAdapter) GenerateFollowup(ctx context.Context, prompt string) (*FollowupPayload, error) {
	return generate(ctx, a, prompt, responseSchema(&FollowupPayload{}), validateFollowup)
}

// Model returns the model name being used.
func (a *GeminiAdapter) Model() string {
	return a.model
}

// Close releases resources held by the adapter.
func (a *GeminiAdapter) Close() error {
	return nil
}

// generate runs the attempt loop shared by all four operations: call, parse,
// validate, and re-prompt with the validation error on shape failures.
func generate[T any](ctx context.Context, a *GeminiAdapter, prompt string, schema map[string]any, validate func(*T) error) (*T, error) {
	current := prompt
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}

		raw, err := a.generateContent(ctx, current, schema)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		payload, err := decodeAndValidate(raw, validate)
		if err != nil {
			lastErr = err
			current = correctivePrompt(prompt, err)
			continue
		}
		return payload, nil
	}

	if apierr.KindOf(lastErr) == apierr.KindUpstreamUnavailable {
		return nil, lastErr
	}
	return nil, apierr.Wrap(apierr.KindGeneration, "model produced no valid response after retries", lastErr)
}

func (a *GeminiAdapter) generateContent(ctx context.Context, prompt string, schema map[string]any) (string, error) {
	genConfig := &geminiGenerationConfig{
		MaxOutputTokens:  a.maxTokens,
		ResponseMimeType: "application/json",
		ResponseSchema:   schema,
	}
	if a.temperature > 0 {
		temp := a.temperature
		genConfig.Temperature = &temp
	}

	req := geminiGenerateRequest{
		Contents:         []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}},
		GenerationConfig: genConfig,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", a.baseURL, a.model, a.apiKey)
	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	// Do returns the final response alongside the error on HTTP-status
	// failures; the body carries the provider's error message.
	resp, err := a.client.Do(httpReq)
	if resp == nil {
		return "", apierr.Wrap(apierr.KindUpstreamUnavailable, "failed to call Gemini API", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var genResp geminiGenerateResponse
	if resp.StatusCode != http.StatusOK {
		if err := json.Unmarshal(respBody, &genResp); err == nil && genResp.Error != nil {
			return "", apierr.Newf(apierr.KindUpstreamUnavailable,
				"Gemini API error: %s (status: %s)", genResp.Error.Message, genResp.Error.Status)
		}
		return "", apierr.Newf(apierr.KindUpstreamUnavailable,
			"Gemini API returned status %d: %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, &genResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if genResp.Error != nil {
		return "", apierr.Newf(apierr.KindUpstreamUnavailable, "Gemini API error: %s", genResp.Error.Message)
	}
	if len(genResp.Candidates) == 0 || len(genResp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("Gemini returned no candidates")
	}

	return genResp.Candidates[0].Content.Parts[0].Text, nil
}

var _ Adapter = (*GeminiAdapter)(nil)
