package retrieval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/financebuddy/financebuddy/pkg/config"
	"github.com/financebuddy/financebuddy/pkg/corpus"
)

func scored(id, source string, docType corpus.DocumentType, score float64, tags ...string) ScoredDocument {
	return ScoredDocument{
		Document: corpus.Document{ID: id, Source: source, Type: docType, Tags: tags},
		Score:    score,
	}
}

func TestRerankerAuthorityBreaksTies(t *testing.T) {
	r := NewReranker(config.RerankWeights{})

	docs := []ScoredDocument{
		scored("qa", "s1", corpus.TypeQAPair, 0.8),
		scored("reg", "s2", corpus.TypeRegulation, 0.8),
		scored("txt", "s3", corpus.TypeTextbook, 0.8),
	}

	out := r.Rerank(docs, RerankOptions{})
	require.Len(t, out, 3)
	assert.Equal(t, "reg", out[0].ID)
	assert.Equal(t, "txt", out[1].ID)
	assert.Equal(t, "qa", out[2].ID)
}

func TestRerankerRecency(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewReranker(config.RerankWeights{})

	fresh := scored("fresh", "s1", corpus.TypeTextbook, 0.8)
	fresh.LastUpdated = now.AddDate(0, 0, -10)
	stale := scored("stale", "s2", corpus.TypeTextbook, 0.8)
	stale.LastUpdated = now.AddDate(-4, 0, 0)

	out := r.Rerank([]ScoredDocument{stale, fresh}, RerankOptions{Now: now})
	require.Len(t, out, 2)
	assert.Equal(t, "fresh", out[0].ID)
}

func TestRerankerUnknownRecencyBeatsVeryStale(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewReranker(config.RerankWeights{})

	undated := scored("undated", "s1", corpus.TypeTextbook, 0.8)
	ancient := scored("ancient", "s2", corpus.TypeTextbook, 0.8)
	ancient.LastUpdated = now.AddDate(-10, 0, 0)

	out := r.Rerank([]ScoredDocument{ancient, undated}, RerankOptions{Now: now})
	// 2^-10 is far below the flat 0.3 score for unknown timestamps.
	assert.Equal(t, "undated", out[0].ID)
}

func TestRerankerSourceDiversity(t *testing.T) {
	r := NewReranker(config.RerankWeights{})

	docs := []ScoredDocument{
		scored("a1", "same.md", corpus.TypeTextbook, 0.90),
		scored("a2", "same.md", corpus.TypeTextbook, 0.89),
		scored("b1", "other.md", corpus.TypeTextbook, 0.80),
	}

	out := r.Rerank(docs, RerankOptions{})
	require.Len(t, out, 3)
	// The second chunk from the same source is penalized below the
	// slightly weaker chunk from a different source.
	assert.Equal(t, "a1", out[0].ID)
	assert.Equal(t, "b1", out[1].ID)
	assert.Equal(t, "a2", out[2].ID)
}

func TestRerankerTagOverlapPenalty(t *testing.T) {
	r := NewReranker(config.RerankWeights{})

	docs := []ScoredDocument{
		scored("a", "s1", corpus.TypeTextbook, 0.90, "margin", "regulation-t"),
		scored("b", "s2", corpus.TypeTextbook, 0.88, "margin", "regulation-t"),
		scored("c", "s3", corpus.TypeTextbook, 0.84, "options"),
	}

	out := r.Rerank(docs, RerankOptions{})
	require.Len(t, out, 3)
	assert.Equal(t, "a", out[0].ID)
	assert.Equal(t, "c", out[1].ID)
}

func TestRerankerMetadataAuthorityBoost(t *testing.T) {
	r := NewReranker(config.RerankWeights{})

	plain := scored("plain", "s1", corpus.TypeTextbook, 0.8)
	sec := scored("sec", "s2", corpus.TypeTextbook, 0.8)
	sec.Metadata = map[string]string{"authority": "SEC"}
	verified := scored("verified", "s3", corpus.TypeTextbook, 0.8)
	verified.Metadata = map[string]string{"verified": "true"}

	out := r.Rerank([]ScoredDocument{plain, sec, verified}, RerankOptions{})
	require.Len(t, out, 3)
	assert.Equal(t, "sec", out[0].ID)
	assert.Equal(t, "verified", out[1].ID)
	assert.Equal(t, "plain", out[2].ID)
}

func TestRerankerAllZeroScoresOrdersByRecency(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewReranker(config.RerankWeights{})

	old := scored("old", "b.md", corpus.TypeTextbook, 0)
	old.LastUpdated = now.AddDate(-1, 0, 0)
	fresh := scored("fresh", "c.md", corpus.TypeTextbook, 0)
	fresh.LastUpdated = now.AddDate(0, 0, -1)
	undatedA := scored("ua", "a.md", corpus.TypeTextbook, 0)
	undatedB := scored("ub", "d.md", corpus.TypeTextbook, 0)

	out := r.Rerank([]ScoredDocument{old, undatedB, fresh, undatedA}, RerankOptions{Now: now})
	require.Len(t, out, 4)
	assert.Equal(t, "fresh", out[0].ID)
	assert.Equal(t, "old", out[1].ID)
	// Undated documents fall last, ordered by source.
	assert.Equal(t, "ua", out[2].ID)
	assert.Equal(t, "ub", out[3].ID)
}

func TestRerankerTypePreference(t *testing.T) {
	r := NewReranker(config.RerankWeights{})

	docs := []ScoredDocument{
		scored("txt", "s1", corpus.TypeTextbook, 0.8),
		scored("qa", "s2", corpus.TypeQAPair, 0.8),
	}

	out := r.Rerank(docs, RerankOptions{
		TypePreference: map[corpus.DocumentType]float64{
			corpus.TypeQAPair:   1.0,
			corpus.TypeTextbook: 0.0,
		},
	})
	assert.Equal(t, "qa", out[0].ID)
}

func TestRerankerLimit(t *testing.T) {
	r := NewReranker(config.RerankWeights{})
	docs := []ScoredDocument{
		scored("a", "s1", corpus.TypeTextbook, 0.9),
		scored("b", "s2", corpus.TypeTextbook, 0.8),
		scored("c", "s3", corpus.TypeTextbook, 0.7),
	}

	out := r.Rerank(docs, RerankOptions{Limit: 2})
	require.Len(t, out, 2)
	assert.Empty(t, r.Rerank(nil, RerankOptions{}))
}

func TestTagJaccard(t *testing.T) {
	assert.Equal(t, 1.0, tagJaccard([]string{"a", "b"}, []string{"a", "b"}))
	assert.Equal(t, 0.0, tagJaccard([]string{"a"}, []string{"b"}))
	assert.Equal(t, 0.0, tagJaccard(nil, []string{"a"}))
	assert.InDelta(t, 1.0/3.0, tagJaccard([]string{"a", "b"}, []string{"b", "c"}), 1e-9)
}
