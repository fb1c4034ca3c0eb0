package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/financebuddy/financebuddy/pkg/apierr"
	"github.com/financebuddy/financebuddy/pkg/config"
	"github.com/financebuddy/financebuddy/pkg/corpus"
	"github.com/financebuddy/financebuddy/pkg/embedder"
	"github.com/financebuddy/financebuddy/pkg/vector"
)

const (
	defaultLimit = 10
	maxQueryLen  = 2000
)

// balancedMinimums are the per-type floor for balanced retrieval: context
// for question generation should always mix explanation, exam-style and
// regulatory material when the corpus has them.
var balancedMinimums = []struct {
	docType corpus.DocumentType
	min     int
}{
	{corpus.TypeTextbook, 2},
	{corpus.TypeQAPair, 1},
	{corpus.TypeRegulation, 1},
}

// ScoredDocument is a retrieved chunk with its scores. Score is the mixed
// retrieval score in [0, 1]; the component scores record how it was built.
type ScoredDocument struct {
	corpus.Document
	Score        float64
	VectorScore  float64
	KeywordScore float64
	RerankScore  float64
}

// RetrievedContext is the result of one retrieval call.
type RetrievedContext struct {
	Query     string
	Documents []ScoredDocument

	// TotalResults counts candidates considered before the limit was applied.
	TotalResults int

	RetrievedAt time.Time

	// Degraded marks keyword-only results returned because the vector path
	// was unavailable.
	Degraded bool

	// Shortfalls lists document types whose balanced-retrieval minimum could
	// not be met, with the missing count.
	Shortfalls map[corpus.DocumentType]int
}

// Options bound a retrieval call.
type Options struct {
	Limit    int
	MinScore float64
	Types    []corpus.DocumentType
	Tags     []string

	// TypePreference feeds the reranker in enhanced mode.
	TypePreference map[corpus.DocumentType]float64
}

// Config tunes the retriever.
type Config struct {
	// Alpha is the hybrid mixing weight: Alpha*vector + (1-Alpha)*keyword.
	Alpha float64

	// Weights are the rerank signal weights for enhanced retrieval.
	Weights config.RerankWeights
}

// Retriever performs similarity, hybrid, balanced and enhanced retrieval
// over the corpus.
type Retriever struct {
	embedder embedder.Embedder
	store    vector.Store
	keyword  *KeywordIndex
	reranker *Reranker
	alpha    float64
}

// New creates a retriever. The keyword index is optional; without it hybrid
// retrieval degenerates to vector-only and there is no degraded fallback.
func New(emb embedder.Embedder, store vector.Store, keyword *KeywordIndex, cfg Config) *Retriever {
	alpha := cfg.Alpha
	if alpha <= 0 || alpha > 1 {
		alpha = 0.7
	}
	return &Retriever{
		embedder: emb,
		store:    store,
		keyword:  keyword,
		reranker: NewReranker(cfg.Weights),
		alpha:    alpha,
	}
}

// Retrieve performs plain vector retrieval.
func (r *Retriever) Retrieve(ctx context.Context, query string, opts Options) (*RetrievedContext, error) {
	query, err := validateQuery(query)
	if err != nil {
		return nil, err
	}
	limit := effectiveLimit(opts)

	docs, err := r.vectorSearch(ctx, query, opts, limit)
	if err != nil {
		return r.degradedFallback(query, opts, limit, err)
	}

	return newContext(query, docs, len(docs)), nil
}

// RetrieveHybrid mixes vector and keyword scores:
// alpha*vector + (1-alpha)*keyword.
func (r *Retriever) RetrieveHybrid(ctx context.Context, query string, opts Options) (*RetrievedContext, error) {
	query, err := validateQuery(query)
	if err != nil {
		return nil, err
	}
	limit := effectiveLimit(opts)

	// Over-fetch both sides so the merged ranking has enough candidates.
	vectorDocs, vecErr := r.vectorSearch(ctx, query, opts, limit*3)
	if vecErr != nil {
		return r.degradedFallback(query, opts, limit, vecErr)
	}

	merged := r.mixKeyword(query, vectorDocs, opts, limit*3)
	total := len(merged)
	if len(merged) > limit {
		merged = merged[:limit]
	}

	return newContext(query, merged, total), nil
}

// RetrieveEnhanced runs hybrid retrieval then reranks with the heuristic
// authority/recency/diversity model.
func (r *Retriever) RetrieveEnhanced(ctx context.Context, query string, opts Options) (*RetrievedContext, error) {
	query, err := validateQuery(query)
	if err != nil {
		return nil, err
	}
	limit := effectiveLimit(opts)

	vectorDocs, vecErr := r.vectorSearch(ctx, query, opts, limit*3)
	if vecErr != nil {
		return r.degradedFallback(query, opts, limit, vecErr)
	}

	merged := r.mixKeyword(query, vectorDocs, opts, limit*3)
	reranked := r.reranker.Rerank(merged, RerankOptions{
		TypePreference: opts.TypePreference,
		Limit:          limit,
	})

	return newContext(query, reranked, len(merged)), nil
}

// RetrieveBalanced retrieves per-type minimums (2 textbook, 1 qa_pair,
// 1 regulation) and fills the remainder by overall score. Types the corpus
// cannot supply are reported as shortfalls, not errors.
func (r *Retriever) RetrieveBalanced(ctx context.Context, query string, opts Options) (*RetrievedContext, error) {
	query, err := validateQuery(query)
	if err != nil {
		return nil, err
	}
	limit := effectiveLimit(opts)

	type typeResult struct {
		docType corpus.DocumentType
		min     int
		docs    []ScoredDocument
	}

	results := make([]typeResult, len(balancedMinimums))
	g, gctx := errgroup.WithContext(ctx)
	for i, spec := range balancedMinimums {
		g.Go(func() error {
			typeOpts := opts
			typeOpts.Types = []corpus.DocumentType{spec.docType}
			docs, err := r.vectorSearch(gctx, query, typeOpts, limit)
			if err != nil {
				return err
			}
			results[i] = typeResult{docType: spec.docType, min: spec.min, docs: docs}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return r.degradedFallback(query, opts, limit, err)
	}

	seen := make(map[string]struct{})
	var picked []ScoredDocument
	var leftovers []ScoredDocument
	shortfalls := make(map[corpus.DocumentType]int)

	for _, res := range results {
		taken := 0
		for _, doc := range res.docs {
			if _, dup := seen[doc.ID]; dup {
				continue
			}
			if taken < res.min {
				seen[doc.ID] = struct{}{}
				picked = append(picked, doc)
				taken++
			} else {
				leftovers = append(leftovers, doc)
			}
		}
		if taken < res.min {
			shortfalls[res.docType] = res.min - taken
		}
	}

	// Minimum picks plus remaining candidates; the fill loop below moves
	// leftovers into picked without shrinking either count.
	total := len(picked) + len(leftovers)

	sort.SliceStable(leftovers, func(i, j int) bool {
		return leftovers[i].Score > leftovers[j].Score
	})
	for _, doc := range leftovers {
		if len(picked) >= limit {
			break
		}
		if _, dup := seen[doc.ID]; dup {
			continue
		}
		seen[doc.ID] = struct{}{}
		picked = append(picked, doc)
	}

	sort.SliceStable(picked, func(i, j int) bool {
		return picked[i].Score > picked[j].Score
	})
	if len(picked) > limit {
		picked = picked[:limit]
	}

	ret := newContext(query, picked, total)
	if len(shortfalls) > 0 {
		ret.Shortfalls = shortfalls
		slog.Debug("Balanced retrieval shortfalls", "query", query, "shortfalls", fmt.Sprint(shortfalls))
	}
	return ret, nil
}

// FindSimilar returns documents similar to an existing one, excluding it.
func (r *Retriever) FindSimilar(ctx context.Context, docID string, limit int) ([]ScoredDocument, error) {
	rec, err := r.store.GetByID(ctx, docID)
	if err != nil {
		if errors.Is(err, vector.ErrNotFound) {
			return nil, apierr.Newf(apierr.KindNotFound, "document %s not found", docID)
		}
		return nil, apierr.Wrap(apierr.KindRetrievalDegraded, "vector store unavailable", err)
	}

	if limit <= 0 {
		limit = defaultLimit
	}

	matches, err := r.store.SearchSimilar(ctx, rec.Vector, vector.SearchOptions{Limit: limit + 1})
	if err != nil {
		return nil, apierr.Wrap(apierr.KindRetrievalDegraded, "vector store unavailable", err)
	}

	docs := make([]ScoredDocument, 0, limit)
	for _, m := range matches {
		if m.ID == docID {
			continue
		}
		docs = append(docs, scoredFromMatch(m))
		if len(docs) == limit {
			break
		}
	}
	return docs, nil
}

// RetrieveByType is vector retrieval restricted to one document type.
func (r *Retriever) RetrieveByType(ctx context.Context, query string, docType corpus.DocumentType, limit int) ([]ScoredDocument, error) {
	ret, err := r.Retrieve(ctx, query, Options{Limit: limit, Types: []corpus.DocumentType{docType}})
	if err != nil {
		return nil, err
	}
	return ret.Documents, nil
}

// RetrieveByTags returns documents carrying every one of the tags, ranked by
// similarity to the tags themselves.
func (r *Retriever) RetrieveByTags(ctx context.Context, tags []string, limit int) ([]ScoredDocument, error) {
	if len(tags) == 0 {
		return nil, apierr.New(apierr.KindValidation, "at least one tag is required")
	}
	ret, err := r.Retrieve(ctx, strings.Join(tags, " "), Options{Limit: limit, Tags: tags})
	if err != nil {
		return nil, err
	}
	return ret.Documents, nil
}

// vectorSearch embeds the query and searches the store.
func (r *Retriever) vectorSearch(ctx context.Context, query string, opts Options, limit int) ([]ScoredDocument, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query embedding failed: %w", err)
	}

	types := make([]string, 0, len(opts.Types))
	for _, t := range opts.Types {
		types = append(types, string(t))
	}

	matches, err := r.store.SearchSimilar(ctx, vec, vector.SearchOptions{
		Limit:    limit,
		MinScore: opts.MinScore,
		Types:    types,
		Tags:     opts.Tags,
	})
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	docs := make([]ScoredDocument, 0, len(matches))
	for _, m := range matches {
		docs = append(docs, scoredFromMatch(m))
	}
	return docs, nil
}

// mixKeyword merges keyword hits into the vector results with
// alpha*vector + (1-alpha)*keyword scoring.
func (r *Retriever) mixKeyword(query string, vectorDocs []ScoredDocument, opts Options, limit int) []ScoredDocument {
	idxByID := make(map[string]int, len(vectorDocs))
	merged := make([]ScoredDocument, len(vectorDocs))
	copy(merged, vectorDocs)
	for i := range merged {
		merged[i].Score = r.alpha * merged[i].VectorScore
		idxByID[merged[i].ID] = i
	}

	if r.keyword != nil {
		for _, hit := range r.keyword.Search(query, limit) {
			if !docMatchesOptions(hit.Document, opts) {
				continue
			}
			if i, ok := idxByID[hit.Document.ID]; ok {
				merged[i].KeywordScore = hit.Score
				merged[i].Score = r.alpha*merged[i].VectorScore + (1-r.alpha)*hit.Score
				continue
			}
			merged = append(merged, ScoredDocument{
				Document:     hit.Document,
				Score:        (1 - r.alpha) * hit.Score,
				KeywordScore: hit.Score,
			})
		}
	}

	// Re-apply MinScore against the mixed score.
	filtered := merged[:0]
	for _, doc := range merged {
		if doc.Score >= opts.MinScore {
			filtered = append(filtered, doc)
		}
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].Score != filtered[j].Score {
			return filtered[i].Score > filtered[j].Score
		}
		return filtered[i].ID < filtered[j].ID
	})
	return filtered
}

// degradedFallback serves keyword-only results when the vector path failed.
func (r *Retriever) degradedFallback(query string, opts Options, limit int, cause error) (*RetrievedContext, error) {
	if r.keyword == nil || r.keyword.Len() == 0 {
		return nil, apierr.Wrap(apierr.KindRetrievalDegraded, "retrieval unavailable", cause)
	}

	slog.Warn("Vector retrieval unavailable, serving keyword-only results",
		"query", query,
		"error", cause)

	docs := make([]ScoredDocument, 0, limit)
	for _, hit := range r.keyword.Search(query, limit*3) {
		if !docMatchesOptions(hit.Document, opts) {
			continue
		}
		if hit.Score < opts.MinScore {
			continue
		}
		docs = append(docs, ScoredDocument{
			Document:     hit.Document,
			Score:        hit.Score,
			KeywordScore: hit.Score,
		})
		if len(docs) == limit {
			break
		}
	}

	ret := newContext(query, docs, len(docs))
	ret.Degraded = true
	return ret, nil
}

func newContext(query string, docs []ScoredDocument, total int) *RetrievedContext {
	return &RetrievedContext{
		Query:        query,
		Documents:    docs,
		TotalResults: total,
		RetrievedAt:  time.Now().UTC(),
	}
}

func docMatchesOptions(doc corpus.Document, opts Options) bool {
	if len(opts.Types) > 0 {
		ok := false
		for _, t := range opts.Types {
			if doc.Type == t {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	for _, want := range opts.Tags {
		ok := false
		for _, have := range doc.Tags {
			if have == want {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

func scoredFromMatch(m vector.Match) ScoredDocument {
	return ScoredDocument{
		Document:    corpus.DocumentFromRecord(m.Record),
		Score:       m.Score,
		VectorScore: m.Score,
	}
}

func validateQuery(query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", apierr.New(apierr.KindValidation, "query cannot be empty")
	}
	if len(query) > maxQueryLen {
		query = query[:maxQueryLen]
	}
	return query, nil
}

func effectiveLimit(opts Options) int {
	if opts.Limit > 0 {
		return opts.Limit
	}
	return defaultLimit
}
