package embedder

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

const stubDimension = 256

// StubEmbedder is a deterministic offline embedder used for tests and for
// fallback-mode operation without provider credentials.
//
// Each token hashes into a fixed bucket and the resulting term-count vector
// is L2-normalized, so texts sharing vocabulary produce high cosine
// similarity. It is a bag-of-words model, not a semantic one.
type StubEmbedder struct {
	dimension int
}

// NewStubEmbedder creates a stub embedder.
func NewStubEmbedder() *StubEmbedder {
	return &StubEmbedder{dimension: stubDimension}
}

// Embed produces a deterministic vector for the text.
func (e *StubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dimension)
	for _, token := range tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(token))
		vec[h.Sum32()%uint32(e.dimension)]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}

// EmbedBatch embeds every text; it never partially fails.
func (e *StubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]BatchResult, error) {
	results := make([]BatchResult, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		results[i] = BatchResult{Vector: vec, Err: err}
	}
	return results, nil
}

// Dimension returns the embedding vector dimension.
func (e *StubEmbedder) Dimension() int {
	return e.dimension
}

// Model returns the model name being used.
func (e *StubEmbedder) Model() string {
	return "stub-bag-of-words"
}

// Close releases resources held by the embedder.
func (e *StubEmbedder) Close() error {
	return nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

var _ Embedder = (*StubEmbedder)(nil)
