package retrieval

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/financebuddy/financebuddy/pkg/config"
	"github.com/financebuddy/financebuddy/pkg/corpus"
)

const (
	// recencyHalfLifeDays halves the recency signal per year of age.
	recencyHalfLifeDays = 365

	// unknownRecency is the recency score for documents without a
	// lastUpdated timestamp.
	unknownRecency = 0.3

	// sameSourcePenalty applies when a selected document already came from
	// the same source.
	sameSourcePenalty = 0.2

	// tagOverlapPenalty applies when tag sets overlap heavily
	// (Jaccard >= tagOverlapThreshold) with an already selected document.
	tagOverlapPenalty   = 0.1
	tagOverlapThreshold = 0.5
)

// authorityScores rank source classes by trustworthiness for citation.
var authorityScores = map[corpus.DocumentType]float64{
	corpus.TypeRegulation: 1.0,
	corpus.TypeTextbook:   0.7,
	corpus.TypeQAPair:     0.5,
}

// credibleAuthorities are metadata authority values that mark a document as
// issued by a regulator or SRO.
var credibleAuthorities = map[string]struct{}{
	"sec":   {},
	"finra": {},
	"msrb":  {},
	"irs":   {},
}

// RerankOptions tune one rerank pass.
type RerankOptions struct {
	// TypePreference boosts document types the caller favors, each value in
	// [0, 1]. Unlisted types score 0.5.
	TypePreference map[corpus.DocumentType]float64

	// Now anchors recency; zero means time.Now().
	Now time.Time

	// Limit caps the returned slice. Zero keeps everything.
	Limit int
}

// Reranker orders retrieved documents by a weighted mix of retrieval score,
// source authority, recency and type preference, with greedy diversity
// penalties so one source cannot dominate the context.
type Reranker struct {
	weights config.RerankWeights
}

// NewReranker creates a reranker with the given signal weights.
func NewReranker(weights config.RerankWeights) *Reranker {
	if weights == (config.RerankWeights{}) {
		weights = config.RerankWeights{Score: 0.6, Authority: 0.15, Recency: 0.1, TypePref: 0.15}
	}
	return &Reranker{weights: weights}
}

// Rerank returns the documents in reranked order. RerankScore is filled on
// every returned document; the input slice is not modified.
func (r *Reranker) Rerank(docs []ScoredDocument, opts RerankOptions) []ScoredDocument {
	if len(docs) == 0 {
		return nil
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	// Degenerate case: nothing to weigh when every retrieval score is zero,
	// so order by recency, then source for a stable result.
	if allZeroScores(docs) {
		return sortedByRecency(docs, limitOf(opts, len(docs)))
	}

	// Base score per document, before diversity.
	base := make([]float64, len(docs))
	for i, doc := range docs {
		base[i] = r.weights.Score*doc.Score +
			r.weights.Authority*authority(doc) +
			r.weights.Recency*recency(doc.LastUpdated, now) +
			r.weights.TypePref*typePreference(doc.Type, opts.TypePreference)
	}

	// Greedy selection: each round picks the candidate with the best base
	// score minus penalties against what is already selected.
	selected := make([]ScoredDocument, 0, len(docs))
	used := make([]bool, len(docs))
	sourceCounts := make(map[string]int)

	limit := limitOf(opts, len(docs))

	for len(selected) < limit {
		bestIdx := -1
		bestScore := 0.0
		for i := range docs {
			if used[i] {
				continue
			}
			score := base[i]
			if sourceCounts[docs[i].Source] > 0 {
				score -= sameSourcePenalty
			}
			if overlapsSelected(docs[i], selected) {
				score -= tagOverlapPenalty
			}
			if bestIdx == -1 || score > bestScore {
				bestIdx = i
				bestScore = score
			}
		}
		if bestIdx == -1 {
			break
		}

		used[bestIdx] = true
		sourceCounts[docs[bestIdx].Source]++

		doc := docs[bestIdx]
		doc.RerankScore = bestScore
		selected = append(selected, doc)
	}

	return selected
}

func limitOf(opts RerankOptions, n int) int {
	if opts.Limit <= 0 || opts.Limit > n {
		return n
	}
	return opts.Limit
}

func allZeroScores(docs []ScoredDocument) bool {
	for _, doc := range docs {
		if doc.Score != 0 {
			return false
		}
	}
	return true
}

func sortedByRecency(docs []ScoredDocument, limit int) []ScoredDocument {
	out := make([]ScoredDocument, len(docs))
	copy(out, docs)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].LastUpdated.Equal(out[j].LastUpdated) {
			return out[i].LastUpdated.After(out[j].LastUpdated)
		}
		return out[i].Source < out[j].Source
	})
	return out[:limit]
}

// authority combines the per-type credibility table with metadata signals:
// material attributed to a regulator, or marked verified, scores higher.
func authority(doc ScoredDocument) float64 {
	score := 0.5
	if s, ok := authorityScores[doc.Type]; ok {
		score = s
	}

	if auth, ok := doc.Metadata["authority"]; ok {
		if _, credible := credibleAuthorities[strings.ToLower(auth)]; credible {
			score += 0.2
		}
	}
	if doc.Metadata["verified"] == "true" {
		score += 0.1
	}

	if score > 1 {
		return 1
	}
	return score
}

// recency decays with a one-year half-life; unknown timestamps score a flat
// middling value rather than zero so undated reference text stays usable.
func recency(lastUpdated, now time.Time) float64 {
	if lastUpdated.IsZero() {
		return unknownRecency
	}
	ageDays := now.Sub(lastUpdated).Hours() / 24
	if ageDays <= 0 {
		return 1.0
	}
	return math.Exp2(-ageDays / recencyHalfLifeDays)
}

func typePreference(t corpus.DocumentType, prefs map[corpus.DocumentType]float64) float64 {
	if prefs == nil {
		return 0.5
	}
	if p, ok := prefs[t]; ok {
		return p
	}
	return 0.5
}

func overlapsSelected(candidate ScoredDocument, selected []ScoredDocument) bool {
	if len(candidate.Tags) == 0 {
		return false
	}
	for _, s := range selected {
		if tagJaccard(candidate.Tags, s.Tags) >= tagOverlapThreshold {
			return true
		}
	}
	return false
}

func tagJaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(a))
	for _, t := range a {
		set[t] = struct{}{}
	}
	intersection := 0
	for _, t := range b {
		if _, ok := set[t]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
