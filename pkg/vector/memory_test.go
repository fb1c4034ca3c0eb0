package vector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedStore(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore("test")

	records := []Record{
		{
			ID:     "doc-1",
			Vector: []float32{1, 0, 0},
			Title:  "Margin requirements",
			Type:   "textbook",
			Source: "series7/ch4.md",
			Tags:   []string{"margin", "regulation-t"},
		},
		{
			ID:     "doc-2",
			Vector: []float32{0.9, 0.1, 0},
			Title:  "Margin Q&A",
			Type:   "qa_pair",
			Source: "qa/margin.json",
			Tags:   []string{"margin"},
		},
		{
			ID:          "doc-3",
			Vector:      []float32{0, 1, 0},
			Title:       "Suitability rule",
			Type:        "regulation",
			Source:      "finra/2111.txt",
			Tags:        []string{"suitability"},
			LastUpdated: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		},
	}
	require.NoError(t, s.Upsert(context.Background(), records))
	return s
}

func TestMemoryStoreSearchRanksByScore(t *testing.T) {
	s := seedStore(t)

	matches, err := s.SearchSimilar(context.Background(), []float32{1, 0, 0}, SearchOptions{Limit: 3})
	require.NoError(t, err)
	require.Len(t, matches, 3)

	assert.Equal(t, "doc-1", matches[0].ID)
	assert.Equal(t, "doc-2", matches[1].ID)
	assert.Equal(t, "doc-3", matches[2].ID)

	// Scores are normalized to [0, 1], best first.
	assert.InDelta(t, 1.0, matches[0].Score, 1e-6)
	for i := 1; i < len(matches); i++ {
		assert.LessOrEqual(t, matches[i].Score, matches[i-1].Score)
		assert.GreaterOrEqual(t, matches[i].Score, 0.0)
	}
}

func TestMemoryStoreTypeFilter(t *testing.T) {
	s := seedStore(t)

	matches, err := s.SearchSimilar(context.Background(), []float32{1, 0, 0}, SearchOptions{
		Limit: 5,
		Types: []string{"qa_pair", "regulation"},
	})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "doc-2", matches[0].ID)
	assert.Equal(t, "doc-3", matches[1].ID)
}

func TestMemoryStoreTagAndMinScoreFilter(t *testing.T) {
	s := seedStore(t)

	matches, err := s.SearchSimilar(context.Background(), []float32{1, 0, 0}, SearchOptions{
		Limit:    5,
		Tags:     []string{"margin"},
		MinScore: 0.9,
	})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	for _, m := range matches {
		assert.Contains(t, m.Tags, "margin")
		assert.GreaterOrEqual(t, m.Score, 0.9)
	}
}

func TestMemoryStoreTagFilterRequiresAllTags(t *testing.T) {
	s := seedStore(t)

	// doc-2 carries only "margin" and must be excluded.
	matches, err := s.SearchSimilar(context.Background(), []float32{1, 0, 0}, SearchOptions{
		Limit: 5,
		Tags:  []string{"margin", "regulation-t"},
	})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "doc-1", matches[0].ID)
}

func TestMemoryStoreGetDelete(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()

	rec, err := s.GetByID(ctx, "doc-3")
	require.NoError(t, err)
	assert.Equal(t, "Suitability rule", rec.Title)
	assert.False(t, rec.LastUpdated.IsZero())

	require.NoError(t, s.Delete(ctx, "doc-3", "missing-id"))

	_, err = s.GetByID(ctx, "doc-3")
	assert.ErrorIs(t, err, ErrNotFound)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Count)

	require.NoError(t, s.Clear(ctx))
	stats, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Count)
}

func TestMemoryStoreUpsertReplaces(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, []Record{{
		ID:     "doc-1",
		Vector: []float32{0, 0, 1},
		Title:  "Margin requirements v2",
		Type:   "textbook",
	}}))

	rec, err := s.GetByID(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "Margin requirements v2", rec.Title)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Count)
}

func TestMetadataRoundTrip(t *testing.T) {
	in := Record{
		ID:          "chunk-9",
		Vector:      []float32{0.5, 0.5},
		Title:       "Options basics",
		Content:     "A call option gives the holder the right to buy.",
		Type:        "textbook",
		Source:      "series7/options.md",
		Chapter:     "7",
		Section:     "7.2",
		Tags:        []string{"options", "derivatives"},
		LastUpdated: time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC),
		Metadata:    map[string]string{"chunk_index": "9"},
	}

	md := encodeMetadata(in)
	out := decodeRecord(in.ID, in.Vector, in.Content, md)

	assert.Equal(t, in.Title, out.Title)
	assert.Equal(t, in.Type, out.Type)
	assert.Equal(t, in.Source, out.Source)
	assert.Equal(t, in.Chapter, out.Chapter)
	assert.Equal(t, in.Section, out.Section)
	assert.Equal(t, in.Tags, out.Tags)
	assert.True(t, in.LastUpdated.Equal(out.LastUpdated))
	assert.Equal(t, "9", out.Metadata["chunk_index"])
}

func TestFactoryValidation(t *testing.T) {
	cfg := &ProviderConfig{}
	cfg.SetDefaults()
	assert.Equal(t, ProviderChromem, cfg.Type)
	assert.Error(t, cfg.Validate()) // no collection

	cfg.Chromem.Collection = "corpus"
	assert.NoError(t, cfg.Validate())

	bad := &ProviderConfig{Type: "pinecone"}
	assert.Error(t, bad.Validate())

	mem, err := NewStore(&ProviderConfig{Type: ProviderMemory})
	require.NoError(t, err)
	assert.Equal(t, "memory", mem.Name())
}
