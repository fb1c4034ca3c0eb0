package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()

	assert.Equal(t, "text-embedding-004", cfg.EmbeddingModel)
	assert.Equal(t, 50, cfg.EmbeddingBatchSize)
	assert.Equal(t, "financebuddy_corpus", cfg.VectorCollection)
	assert.Equal(t, 60, cfg.SessionTTLMinutes)
	assert.Equal(t, 20, cfg.MaxQuestionsPerSession)
	assert.Equal(t, 0.7, cfg.HybridAlpha)
	assert.Equal(t, DifficultyIntermediate, cfg.DefaultDifficulty)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, ".financebuddy", cfg.CorpusDataDir)
	assert.Equal(t, RerankWeights{Score: 0.6, Authority: 0.15, Recency: 0.1, TypePref: 0.15}, cfg.RerankWeights)
}

func TestSetDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := &Config{
		EmbeddingModel: "text-embedding-3-small",
		HybridAlpha:    0.5,
		ListenAddr:     ":9090",
	}
	cfg.SetDefaults()

	assert.Equal(t, "text-embedding-3-small", cfg.EmbeddingModel)
	assert.Equal(t, 0.5, cfg.HybridAlpha)
	assert.Equal(t, ":9090", cfg.ListenAddr)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults are valid", mutate: func(c *Config) {}},
		{
			name:    "bad difficulty",
			mutate:  func(c *Config) { c.DefaultDifficulty = "expert" },
			wantErr: true,
		},
		{
			name:    "alpha above one",
			mutate:  func(c *Config) { c.HybridAlpha = 1.5 },
			wantErr: true,
		},
		{
			name:    "zero rerank weights",
			mutate:  func(c *Config) { c.RerankWeights = RerankWeights{Score: -1, Authority: 1} },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.SetDefaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateNormalizesOversizedWeights(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()
	cfg.RerankWeights = RerankWeights{Score: 6, Authority: 1.5, Recency: 1, TypePref: 1.5}

	require.NoError(t, cfg.Validate())
	assert.InDelta(t, 0.6, cfg.RerankWeights.Score, 1e-9)
	assert.InDelta(t, 0.15, cfg.RerankWeights.Authority, 1e-9)
	assert.InDelta(t, 0.1, cfg.RerankWeights.Recency, 1e-9)
	assert.InDelta(t, 0.15, cfg.RerankWeights.TypePref, 1e-9)
}

func TestParseRerankWeights(t *testing.T) {
	w, err := ParseRerankWeights("0.5, 0.2, 0.2, 0.1")
	require.NoError(t, err)
	assert.Equal(t, RerankWeights{Score: 0.5, Authority: 0.2, Recency: 0.2, TypePref: 0.1}, w)

	_, err = ParseRerankWeights("0.5,0.5")
	assert.Error(t, err)

	_, err = ParseRerankWeights("a,b,c,d")
	assert.Error(t, err)
}

func TestLoadFromFileWithEnvExpansion(t *testing.T) {
	t.Setenv("TEST_FB_MODEL", "text-embedding-3-large")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
embedding_model: ${TEST_FB_MODEL}
vector_collection: ${TEST_FB_MISSING:-fallback_corpus}
hybrid_alpha: 0.6
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "text-embedding-3-large", cfg.EmbeddingModel)
	assert.Equal(t, "fallback_corpus", cfg.VectorCollection)
	assert.Equal(t, 0.6, cfg.HybridAlpha)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	t.Setenv("EMBEDDING_MODEL", "env-model")
	t.Setenv("SESSION_TTL_MINUTES", "30")
	t.Setenv("ENABLE_LLM_FALLBACK", "true")
	t.Setenv("RERANK_WEIGHTS", "0.4,0.3,0.2,0.1")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("embedding_model: file-model\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env-model", cfg.EmbeddingModel)
	assert.Equal(t, 30, cfg.SessionTTLMinutes)
	assert.True(t, cfg.EnableLLMFallback)
	assert.Equal(t, RerankWeights{Score: 0.4, Authority: 0.3, Recency: 0.2, TypePref: 0.1}, cfg.RerankWeights)
}

func TestLoadNoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "financebuddy_corpus", cfg.VectorCollection)
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TEST_FB_VAL", "hello")

	assert.Equal(t, "hello", expandEnvVars("${TEST_FB_VAL}"))
	assert.Equal(t, "hello", expandEnvVars("$TEST_FB_VAL"))
	assert.Equal(t, "dflt", expandEnvVars("${TEST_FB_UNSET:-dflt}"))
	assert.Equal(t, "no dollars", expandEnvVars("no dollars"))
}
