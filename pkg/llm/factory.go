package llm

import (
	"fmt"
	"time"
)

// ProviderType identifies an LLM adapter implementation.
type ProviderType string

const (
	ProviderGemini ProviderType = "gemini"
	ProviderStub   ProviderType = "stub"
)

// ProviderConfig selects and configures an adapter.
type ProviderConfig struct {
	Type        ProviderType
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Validate checks the provider configuration.
func (c *ProviderConfig) Validate() error {
	switch c.Type {
	case ProviderGemini:
		if c.APIKey == "" {
			return fmt.Errorf("API key is required for provider %q", c.Type)
		}
		return nil
	case ProviderStub:
		return nil
	default:
		return fmt.Errorf("unknown LLM provider type %q", c.Type)
	}
}

// New creates an adapter for the configured provider.
func New(cfg ProviderConfig) (Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case ProviderGemini:
		return NewGeminiAdapter(GeminiConfig{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.Timeout,
		})
	default:
		return NewStubAdapter(), nil
	}
}
