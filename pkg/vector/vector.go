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

// Package vector provides similarity search over the document corpus.
//
// Three implementations exist: an embedded chromem-go store with optional
// file persistence, a Qdrant-backed store for external deployments, and a
// pure in-memory store used by tests.
package vector

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
)

// ErrNotFound is returned when a record id does not exist.
var ErrNotFound = errors.New("record not found")

// Record is a stored corpus chunk with its embedding and metadata.
type Record struct {
	ID          string
	Vector      []float32
	Title       string
	Content     string
	Type        string
	Source      string
	Chapter     string
	Section     string
	Tags        []string
	LastUpdated time.Time
	Metadata    map[string]string
}

// Match is a search hit. Score is similarity normalized to [0, 1].
type Match struct {
	Record
	Score float64
}

// SearchOptions filter and bound a similarity search.
//
// Filters combine conjunctively across fields: a record must match every
// non-empty filter. Within Types any listed value matches; a record must
// carry every listed Tag.
type SearchOptions struct {
	Limit    int
	MinScore float64
	Types    []string
	Tags     []string
	Metadata map[string]string
}

// Stats reports store contents.
type Stats struct {
	Name  string
	Count int
}

// Store is the similarity search interface over the corpus.
type Store interface {
	// Initialize prepares the backing collection for the given vector
	// dimension. Idempotent.
	Initialize(ctx context.Context, dimension int) error

	// Upsert adds or replaces records by id.
	Upsert(ctx context.Context, records []Record) error

	// SearchSimilar returns the closest records to the query vector, best
	// first, honoring the options' filters and bounds.
	SearchSimilar(ctx context.Context, vector []float32, opts SearchOptions) ([]Match, error)

	// GetByID fetches a single record, or ErrNotFound.
	GetByID(ctx context.Context, id string) (*Record, error)

	// Delete removes records by id. Unknown ids are ignored.
	Delete(ctx context.Context, ids ...string) error

	// Stats reports the record count.
	Stats(ctx context.Context) (Stats, error)

	// Clear removes every record.
	Clear(ctx context.Context) error

	// Name identifies the provider.
	Name() string

	// Close releases resources, flushing persistence where applicable.
	Close() error
}

// normalizeScore maps cosine similarity from [-1, 1] to [0, 1].
func normalizeScore(cos float64) float64 {
	s := (cos + 1) / 2
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// matchesFilter applies the conjunctive option filters to a record.
func matchesFilter(r Record, opts SearchOptions) bool {
	if len(opts.Types) > 0 {
		found := false
		for _, t := range opts.Types {
			if r.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	for _, want := range opts.Tags {
		found := false
		for _, have := range r.Tags {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	for k, v := range opts.Metadata {
		if r.Metadata[k] != v {
			return false
		}
	}

	return true
}

// filterAndBound post-filters candidates, applies MinScore and Limit.
// Candidates must arrive sorted best first.
func filterAndBound(candidates []Match, opts SearchOptions) []Match {
	out := make([]Match, 0, len(candidates))
	for _, m := range candidates {
		if m.Score < opts.MinScore {
			continue
		}
		if !matchesFilter(m.Record, opts) {
			continue
		}
		out = append(out, m)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out
}

// sortMatches orders matches by descending score, id ascending on ties so
// results are stable.
func sortMatches(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
}

// Reserved metadata keys used to round-trip record fields through providers
// whose payloads are flat string maps.
const (
	metaTitle       = "title"
	metaType        = "type"
	metaSource      = "source"
	metaChapter     = "chapter"
	metaSection     = "section"
	metaTags        = "tags"
	metaLastUpdated = "last_updated"
)

func encodeMetadata(r Record) map[string]string {
	md := make(map[string]string, len(r.Metadata)+7)
	for k, v := range r.Metadata {
		md[k] = v
	}
	md[metaTitle] = r.Title
	md[metaType] = r.Type
	md[metaSource] = r.Source
	if r.Chapter != "" {
		md[metaChapter] = r.Chapter
	}
	if r.Section != "" {
		md[metaSection] = r.Section
	}
	if len(r.Tags) > 0 {
		md[metaTags] = strings.Join(r.Tags, ",")
	}
	if !r.LastUpdated.IsZero() {
		md[metaLastUpdated] = r.LastUpdated.UTC().Format(time.RFC3339)
	}
	return md
}

func decodeRecord(id string, vec []float32, content string, md map[string]string) Record {
	r := Record{
		ID:       id,
		Vector:   vec,
		Content:  content,
		Metadata: make(map[string]string),
	}
	for k, v := range md {
		switch k {
		case metaTitle:
			r.Title = v
		case metaType:
			r.Type = v
		case metaSource:
			r.Source = v
		case metaChapter:
			r.Chapter = v
		case metaSection:
			r.Section = v
		case metaTags:
			if v != "" {
				r.Tags = strings.Split(v, ",")
			}
		case metaLastUpdated:
			if ts, err := time.Parse(time.RFC3339, v); err == nil {
				r.LastUpdated = ts
			}
		default:
			r.Metadata[k] = v
		}
	}
	return r
}
