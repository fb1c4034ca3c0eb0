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

// Package config loads FinanceBuddy configuration.
//
// Configuration is environment-first: every knob has an env var, and an
// optional YAML file may set the same fields with ${VAR} / ${VAR:-default}
// expansion applied to string values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Difficulty levels for generated questions.
const (
	DifficultyBeginner     = "beginner"
	DifficultyIntermediate = "intermediate"
	DifficultyAdvanced     = "advanced"
)

// Config is the root configuration.
type Config struct {
	// Embedding provider settings.
	EmbeddingModel     string `yaml:"embedding_model"`
	EmbeddingBatchSize int    `yaml:"embedding_batch_size"`

	// Vector store settings. An empty VectorDBURL selects the embedded store.
	VectorDBURL      string `yaml:"vector_db_url"`
	VectorCollection string `yaml:"vector_collection"`

	// Session settings.
	SessionTTLMinutes      int `yaml:"session_ttl_minutes"`
	MaxQuestionsPerSession int `yaml:"max_questions_per_session"`

	// Retrieval settings.
	HybridAlpha   float64       `yaml:"hybrid_alpha"`
	RerankWeights RerankWeights `yaml:"rerank_weights"`

	// Generation settings.
	DefaultDifficulty string `yaml:"default_difficulty"`
	EnableLLMFallback bool   `yaml:"enable_llm_fallback"`

	// AnswerCrossCheck re-solves each generated question and drops it on an
	// answer-key mismatch. Doubles LLM usage per question.
	AnswerCrossCheck bool `yaml:"answer_cross_check"`

	// Provider credentials.
	GeminiAPIKey string `yaml:"gemini_api_key"`
	OpenAIAPIKey string `yaml:"openai_api_key"`

	// Server settings. A zero RateLimitPerMinute disables rate limiting.
	ListenAddr         string `yaml:"listen_addr"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
	LogLevel           string `yaml:"log_level"`
	LogFormat          string `yaml:"log_format"`

	// CorpusDataDir holds persisted vectors and the processed-file registry.
	CorpusDataDir string `yaml:"corpus_data_dir"`
}

// RerankWeights are the relative weights of the rerank signals.
// They order candidates; the numeric values carry no calibrated meaning.
type RerankWeights struct {
	Score     float64 `yaml:"score"`
	Authority float64 `yaml:"authority"`
	Recency   float64 `yaml:"recency"`
	TypePref  float64 `yaml:"type_pref"`
}

// SetDefaults applies default values for unset fields.
func (c *Config) SetDefaults() {
	if c.EmbeddingModel == "" {
		c.EmbeddingModel = "text-embedding-004"
	}
	if c.EmbeddingBatchSize <= 0 {
		c.EmbeddingBatchSize = 50
	}
	if c.VectorCollection == "" {
		c.VectorCollection = "financebuddy_corpus"
	}
	if c.SessionTTLMinutes <= 0 {
		c.SessionTTLMinutes = 60
	}
	if c.MaxQuestionsPerSession <= 0 {
		c.MaxQuestionsPerSession = 20
	}
	if c.HybridAlpha <= 0 {
		c.HybridAlpha = 0.7
	}
	if c.RerankWeights == (RerankWeights{}) {
		c.RerankWeights = RerankWeights{Score: 0.6, Authority: 0.15, Recency: 0.1, TypePref: 0.15}
	}
	if c.DefaultDifficulty == "" {
		c.DefaultDifficulty = DifficultyIntermediate
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.CorpusDataDir == "" {
		c.CorpusDataDir = ".financebuddy"
	}
}

// Validate checks the configuration for fatal problems.
func (c *Config) Validate() error {
	switch c.DefaultDifficulty {
	case DifficultyBeginner, DifficultyIntermediate, DifficultyAdvanced:
	default:
		return fmt.Errorf("invalid DEFAULT_DIFFICULTY %q", c.DefaultDifficulty)
	}

	if c.HybridAlpha < 0 || c.HybridAlpha > 1 {
		return fmt.Errorf("HYBRID_ALPHA must be in [0,1], got %v", c.HybridAlpha)
	}

	sum := c.RerankWeights.Score + c.RerankWeights.Authority +
		c.RerankWeights.Recency + c.RerankWeights.TypePref
	if sum <= 0 {
		return fmt.Errorf("RERANK_WEIGHTS must have a positive sum")
	}
	// Weights summing above 1 are normalized rather than rejected; they only
	// establish ordering.
	if sum > 1 {
		c.RerankWeights.Score /= sum
		c.RerankWeights.Authority /= sum
		c.RerankWeights.Recency /= sum
		c.RerankWeights.TypePref /= sum
	}

	if c.EmbeddingBatchSize > 1000 {
		return fmt.Errorf("EMBEDDING_BATCH_SIZE too large: %d", c.EmbeddingBatchSize)
	}

	return nil
}

// Load builds the configuration from the environment, optionally layered on
// top of a YAML file. File values lose to explicitly-set env vars.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		expanded := expandEnvVars(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides config fields from the environment.
func applyEnv(cfg *Config) {
	setString(&cfg.EmbeddingModel, "EMBEDDING_MODEL")
	setInt(&cfg.EmbeddingBatchSize, "EMBEDDING_BATCH_SIZE")
	setString(&cfg.VectorDBURL, "VECTOR_DB_URL")
	setString(&cfg.VectorCollection, "VECTOR_COLLECTION")
	setInt(&cfg.SessionTTLMinutes, "SESSION_TTL_MINUTES")
	setInt(&cfg.MaxQuestionsPerSession, "MAX_QUESTIONS_PER_SESSION")
	setFloat(&cfg.HybridAlpha, "HYBRID_ALPHA")
	setBool(&cfg.EnableLLMFallback, "ENABLE_LLM_FALLBACK")
	setBool(&cfg.AnswerCrossCheck, "ANSWER_CROSS_CHECK")
	setString(&cfg.DefaultDifficulty, "DEFAULT_DIFFICULTY")
	setString(&cfg.GeminiAPIKey, "GEMINI_API_KEY")
	setString(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	setString(&cfg.ListenAddr, "LISTEN_ADDR")
	setInt(&cfg.RateLimitPerMinute, "RATE_LIMIT_PER_MINUTE")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.LogFormat, "LOG_FORMAT")
	setString(&cfg.CorpusDataDir, "CORPUS_DATA_DIR")

	if v := os.Getenv("RERANK_WEIGHTS"); v != "" {
		if w, err := ParseRerankWeights(v); err == nil {
			cfg.RerankWeights = w
		}
	}
}

// ParseRerankWeights parses "score,authority,recency,type" as four floats.
func ParseRerankWeights(s string) (RerankWeights, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return RerankWeights{}, fmt.Errorf("RERANK_WEIGHTS expects 4 comma-separated floats, got %q", s)
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return RerankWeights{}, fmt.Errorf("invalid RERANK_WEIGHTS element %q: %w", p, err)
		}
		vals[i] = f
	}
	return RerankWeights{Score: vals[0], Authority: vals[1], Recency: vals[2], TypePref: vals[3]}, nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
