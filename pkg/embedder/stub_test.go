package embedder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	// Stub vectors are L2-normalized, so the dot product is the cosine.
	return dot
}

func TestStubEmbedderDeterministic(t *testing.T) {
	e := NewStubEmbedder()
	ctx := context.Background()

	v1, err := e.Embed(ctx, "municipal bond yield")
	require.NoError(t, err)
	v2, err := e.Embed(ctx, "municipal bond yield")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Len(t, v1, e.Dimension())
}

func TestStubEmbedderSharedVocabularyScoresHigher(t *testing.T) {
	e := NewStubEmbedder()
	ctx := context.Background()

	doc, err := e.Embed(ctx, "Margin requirements for equity accounts. Regulation T sets the initial margin requirement at fifty percent.")
	require.NoError(t, err)
	title, err := e.Embed(ctx, "Margin requirements for equity accounts")
	require.NoError(t, err)
	unrelated, err := e.Embed(ctx, "options expiration calendar cycles")
	require.NoError(t, err)

	assert.Greater(t, cosine(title, doc), cosine(unrelated, doc))
}

func TestStubEmbedderBatch(t *testing.T) {
	e := NewStubEmbedder()

	results, err := e.EmbedBatch(context.Background(), []string{"alpha", "beta", ""})
	require.NoError(t, err)
	require.Len(t, results, 3)

	for _, r := range results {
		assert.NoError(t, r.Err)
		assert.Len(t, r.Vector, e.Dimension())
	}
	assert.NotEqual(t, results[0].Vector, results[1].Vector)
}

func TestFactory(t *testing.T) {
	e, err := New(ProviderConfig{Type: ProviderStub})
	require.NoError(t, err)
	assert.Equal(t, "stub-bag-of-words", e.Model())

	_, err = New(ProviderConfig{Type: ProviderGemini})
	assert.Error(t, err)

	_, err = New(ProviderConfig{Type: "weaviate"})
	assert.Error(t, err)

	g, err := New(ProviderConfig{Type: ProviderGemini, APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "text-embedding-004", g.Model())
	assert.Equal(t, 768, g.Dimension())
}
