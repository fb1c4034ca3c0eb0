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

// Package corpus defines the study-material document model and the processing
// pipeline that turns raw documents into indexed, embedded chunks.
package corpus

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// DocumentType classifies study material.
type DocumentType string

const (
	// TypeTextbook is explanatory study text.
	TypeTextbook DocumentType = "textbook"

	// TypeQAPair is an existing exam question with its answer.
	TypeQAPair DocumentType = "qa_pair"

	// TypeRegulation is rule or statute text.
	TypeRegulation DocumentType = "regulation"
)

// ParseDocumentType validates a document type string.
func ParseDocumentType(s string) (DocumentType, error) {
	switch DocumentType(s) {
	case TypeTextbook, TypeQAPair, TypeRegulation:
		return DocumentType(s), nil
	default:
		return "", fmt.Errorf("unknown document type %q", s)
	}
}

// Document is a unit of study material, either a source document before
// processing or an individual chunk after it.
type Document struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Content     string            `json:"content"`
	Type        DocumentType      `json:"type"`
	Source      string            `json:"source"`
	Chapter     string            `json:"chapter,omitempty"`
	Section     string            `json:"section,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	LastUpdated time.Time         `json:"lastUpdated,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Validate checks the fields required before processing.
func (d *Document) Validate() error {
	if d.Title == "" {
		return fmt.Errorf("document title is required")
	}
	if d.Content == "" {
		return fmt.Errorf("document content is required")
	}
	if d.Source == "" {
		return fmt.Errorf("document source is required")
	}
	if _, err := ParseDocumentType(string(d.Type)); err != nil {
		return err
	}
	return nil
}

// ChunkID derives a content-addressed id from the source path and chunk
// index, so re-ingesting the same source overwrites rather than duplicates.
func ChunkID(source string, index int) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s#%d", source, index)))
	return hex.EncodeToString(h[:])
}

// LexicalIndex receives processed chunks for keyword search. The retrieval
// package provides the implementation; corpus only feeds it.
type LexicalIndex interface {
	Index(doc Document)
	Remove(id string)
}
