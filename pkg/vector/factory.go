package vector

import (
	"fmt"
)

// ProviderType identifies a vector store implementation.
type ProviderType string

const (
	// ProviderChromem uses chromem-go for embedded vector storage.
	// Zero-config, no external dependencies.
	ProviderChromem ProviderType = "chromem"

	// ProviderQdrant uses the Qdrant vector database.
	ProviderQdrant ProviderType = "qdrant"

	// ProviderMemory uses the non-persistent in-memory store.
	ProviderMemory ProviderType = "memory"
)

// ProviderConfig is the configuration for creating vector stores.
type ProviderConfig struct {
	// Type identifies which provider to create.
	Type ProviderType `yaml:"type"`

	// Chromem configuration (used when Type == "chromem").
	Chromem *ChromemConfig `yaml:"chromem,omitempty"`

	// Qdrant configuration (used when Type == "qdrant").
	Qdrant *QdrantConfig `yaml:"qdrant,omitempty"`
}

// SetDefaults applies default values.
func (c *ProviderConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = ProviderChromem
	}
	if c.Type == ProviderChromem && c.Chromem == nil {
		c.Chromem = &ChromemConfig{}
	}
}

// Validate checks the configuration.
func (c *ProviderConfig) Validate() error {
	switch c.Type {
	case ProviderChromem:
		if c.Chromem == nil || c.Chromem.Collection == "" {
			return fmt.Errorf("chromem collection is required")
		}
		return nil
	case ProviderQdrant:
		if c.Qdrant == nil {
			return fmt.Errorf("qdrant configuration is required")
		}
		if c.Qdrant.Host == "" {
			return fmt.Errorf("qdrant host is required")
		}
		if c.Qdrant.Collection == "" {
			return fmt.Errorf("qdrant collection is required")
		}
		return nil
	case ProviderMemory:
		return nil
	case "":
		return fmt.Errorf("provider type is required")
	default:
		return fmt.Errorf("unknown provider type: %q", c.Type)
	}
}

// NewStore creates a vector store from configuration.
func NewStore(cfg *ProviderConfig) (Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("vector store configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case ProviderChromem:
		return NewChromemStore(*cfg.Chromem)
	case ProviderQdrant:
		return NewQdrantStore(*cfg.Qdrant)
	case ProviderMemory:
		return NewMemoryStore(""), nil
	default:
		return nil, fmt.Errorf("unknown provider type: %q", cfg.Type)
	}
}
