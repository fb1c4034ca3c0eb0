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

// Package retrieval assembles study context for generation: vector search,
// keyword search, hybrid mixing, balanced per-type retrieval and heuristic
// reranking.
package retrieval

import (
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/financebuddy/financebuddy/pkg/corpus"
)

// bm25K1 controls term-frequency saturation. Document-length normalization is
// deliberately off: corpus chunks are already near-uniform in size.
const bm25K1 = 1.2

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "for": {}, "from": {}, "has": {}, "have": {}, "in": {}, "is": {},
	"it": {}, "its": {}, "of": {}, "on": {}, "or": {}, "that": {}, "the": {},
	"this": {}, "to": {}, "was": {}, "were": {}, "which": {}, "with": {},
	"what": {}, "when": {}, "how": {}, "why": {}, "does": {}, "do": {},
}

// KeywordMatch is one keyword search hit. Score is normalized to [0, 1]
// within the result set.
type KeywordMatch struct {
	Document corpus.Document
	Score    float64
}

// KeywordIndex is an in-memory inverted index over corpus chunks with
// BM25-style scoring. It implements corpus.LexicalIndex so the document
// processor can feed it during ingestion.
type KeywordIndex struct {
	mu    sync.RWMutex
	docs  map[string]corpus.Document
	terms map[string]map[string]int // term -> doc id -> count
}

// NewKeywordIndex creates an empty index.
func NewKeywordIndex() *KeywordIndex {
	return &KeywordIndex{
		docs:  make(map[string]corpus.Document),
		terms: make(map[string]map[string]int),
	}
}

// Index adds or replaces a document.
func (idx *KeywordIndex) Index(doc corpus.Document) {
	terms := termCounts(doc.Title + " " + doc.Content)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, exists := idx.docs[doc.ID]; exists {
		idx.removeLocked(doc.ID)
	}

	idx.docs[doc.ID] = doc
	for term, count := range terms {
		postings, ok := idx.terms[term]
		if !ok {
			postings = make(map[string]int)
			idx.terms[term] = postings
		}
		postings[doc.ID] = count
	}
}

// Remove deletes a document from the index.
func (idx *KeywordIndex) Remove(id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(id)
}

func (idx *KeywordIndex) removeLocked(id string) {
	delete(idx.docs, id)
	for term, postings := range idx.terms {
		delete(postings, id)
		if len(postings) == 0 {
			delete(idx.terms, term)
		}
	}
}

// Len returns the number of indexed documents.
func (idx *KeywordIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.docs)
}

// Search scores documents against the query terms and returns the best
// matches, best first, scores normalized to [0, 1] by the top hit.
func (idx *KeywordIndex) Search(query string, limit int) []KeywordMatch {
	queryTerms := queryTokens(query)
	if len(queryTerms) == 0 {
		return nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	n := float64(len(idx.docs))
	if n == 0 {
		return nil
	}

	raw := make(map[string]float64)
	for _, term := range queryTerms {
		postings, ok := idx.terms[term]
		if !ok {
			continue
		}
		df := float64(len(postings))
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))
		for id, tf := range postings {
			saturated := (float64(tf) * (bm25K1 + 1)) / (float64(tf) + bm25K1)
			raw[id] += idf * saturated
		}
	}
	if len(raw) == 0 {
		return nil
	}

	var max float64
	for _, score := range raw {
		if score > max {
			max = score
		}
	}

	matches := make([]KeywordMatch, 0, len(raw))
	for id, score := range raw {
		matches = append(matches, KeywordMatch{
			Document: idx.docs[id],
			Score:    score / max,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Document.ID < matches[j].Document.ID
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

func termCounts(text string) map[string]int {
	counts := make(map[string]int)
	for _, token := range queryTokens(text) {
		counts[token]++
	}
	return counts
}

func queryTokens(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}
