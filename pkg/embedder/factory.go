package embedder

import (
	"fmt"
	"time"
)

// ProviderType identifies an embedding provider implementation.
type ProviderType string

const (
	// ProviderGemini uses the Gemini embedding API (text-embedding-004).
	ProviderGemini ProviderType = "gemini"

	// ProviderOpenAI uses the OpenAI embeddings API.
	ProviderOpenAI ProviderType = "openai"

	// ProviderStub uses the deterministic offline embedder.
	ProviderStub ProviderType = "stub"
)

// ProviderConfig is the configuration for creating embedders.
type ProviderConfig struct {
	Type      ProviderType
	APIKey    string
	BaseURL   string
	Model     string
	Dimension int
	BatchSize int
	Timeout   time.Duration
}

// Validate checks the configuration.
func (c *ProviderConfig) Validate() error {
	switch c.Type {
	case ProviderGemini, ProviderOpenAI:
		if c.APIKey == "" {
			return fmt.Errorf("%s embedder requires an API key", c.Type)
		}
		return nil
	case ProviderStub:
		return nil
	case "":
		return fmt.Errorf("embedder provider type is required")
	default:
		return fmt.Errorf("unknown embedder provider type: %q", c.Type)
	}
}

// New creates an embedder from configuration.
func New(cfg ProviderConfig) (Embedder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case ProviderGemini:
		return NewGeminiEmbedder(GeminiConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			Dimension: cfg.Dimension,
			BatchSize: cfg.BatchSize,
			Timeout:   cfg.Timeout,
		})
	case ProviderOpenAI:
		return NewOpenAIEmbedder(OpenAIConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			Dimension: cfg.Dimension,
			BatchSize: cfg.BatchSize,
			Timeout:   cfg.Timeout,
		})
	case ProviderStub:
		return NewStubEmbedder(), nil
	default:
		return nil, fmt.Errorf("unknown embedder provider type: %q", cfg.Type)
	}
}
