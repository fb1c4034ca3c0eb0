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

// Package embedder produces vector embeddings for corpus text and queries.
package embedder

import (
	"context"
)

// BatchResult is the outcome of embedding one element of a batch.
// A batch call can partially succeed; callers inspect Err per element.
type BatchResult struct {
	Vector []float32
	Err    error
}

// Embedder converts text to vector embeddings.
//
// All vectors from one Embedder have the same dimension. EmbedBatch preserves
// input order and reports per-element failures instead of failing the whole
// batch on one bad element.
type Embedder interface {
	// Embed converts a single text to a vector embedding.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts multiple texts to vector embeddings.
	EmbedBatch(ctx context.Context, texts []string) ([]BatchResult, error)

	// Dimension returns the embedding vector dimension.
	Dimension() int

	// Model returns the model name being used.
	Model() string

	// Close releases any resources held by the embedder.
	Close() error
}
