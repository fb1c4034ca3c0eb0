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

// Package ingest loads study material from a directory tree into the corpus.
package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/financebuddy/financebuddy/pkg/corpus"
)

// supportedExtensions lists the file types the pipeline ingests.
var supportedExtensions = map[string]bool{
	".txt":  true,
	".md":   true,
	".json": true,
}

// jsonDocument is the wire form of a document in a .json corpus file.
// A file holds either one object or an array of them.
type jsonDocument struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Content     string            `json:"content"`
	Type        string            `json:"type"`
	Chapter     string            `json:"chapter"`
	Section     string            `json:"section"`
	Tags        []string          `json:"tags"`
	LastUpdated string            `json:"lastUpdated"`
	Metadata    map[string]string `json:"metadata"`

	// Question/Answer is the alternate shape for qa_pair material.
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// parseFile reads one corpus file into documents. The source is recorded as
// the path relative to the ingest root.
func parseFile(path, source string) ([]corpus.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	mtime := info.ModTime().UTC()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return parseJSON(data, source, mtime)
	case ".md":
		return []corpus.Document{parseMarkdown(string(data), source, mtime)}, nil
	case ".txt":
		return []corpus.Document{parseText(string(data), source, mtime)}, nil
	default:
		return nil, fmt.Errorf("unsupported file extension: %s", path)
	}
}

func parseJSON(data []byte, source string, mtime time.Time) ([]corpus.Document, error) {
	var wires []jsonDocument

	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(data, &wires); err != nil {
			return nil, fmt.Errorf("failed to parse JSON array in %s: %w", source, err)
		}
	} else {
		var single jsonDocument
		if err := json.Unmarshal(data, &single); err != nil {
			return nil, fmt.Errorf("failed to parse JSON document in %s: %w", source, err)
		}
		wires = []jsonDocument{single}
	}

	docs := make([]corpus.Document, 0, len(wires))
	for i, w := range wires {
		doc, err := wireToDocument(w, source, i, len(wires), mtime)
		if err != nil {
			return nil, fmt.Errorf("document %d in %s: %w", i, source, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func wireToDocument(w jsonDocument, source string, index, total int, mtime time.Time) (corpus.Document, error) {
	content := w.Content
	if content == "" && w.Question != "" {
		content = "Question: " + w.Question
		if w.Answer != "" {
			content += "\n\nAnswer: " + w.Answer
		}
		if w.Type == "" {
			w.Type = string(corpus.TypeQAPair)
		}
	}
	if content == "" {
		return corpus.Document{}, fmt.Errorf("document has no content")
	}

	title := w.Title
	if title == "" {
		title = firstLine(content, 80)
	}

	docSource := source
	if total > 1 {
		// Array elements get distinct sources so chunk ids never collide.
		docSource = fmt.Sprintf("%s#%d", source, index)
	}

	doc := corpus.Document{
		ID:       w.ID,
		Title:    title,
		Content:  content,
		Source:   docSource,
		Chapter:  w.Chapter,
		Section:  w.Section,
		Tags:     w.Tags,
		Metadata: w.Metadata,
	}

	if w.Type != "" {
		dt, err := corpus.ParseDocumentType(w.Type)
		if err != nil {
			return corpus.Document{}, err
		}
		doc.Type = dt
	}

	doc.LastUpdated = parseTimestamp(w.LastUpdated, mtime)
	return doc, nil
}

func parseMarkdown(content, source string, mtime time.Time) corpus.Document {
	title := ""
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			title = strings.TrimSpace(strings.TrimLeft(trimmed, "# "))
			break
		}
	}
	if title == "" {
		title = titleFromFilename(source)
	}

	return corpus.Document{
		Title:       title,
		Content:     content,
		Source:      source,
		LastUpdated: mtime,
	}
}

func parseText(content, source string, mtime time.Time) corpus.Document {
	title := firstLine(content, 100)
	if title == "" {
		title = titleFromFilename(source)
	}

	return corpus.Document{
		Title:       title,
		Content:     content,
		Source:      source,
		LastUpdated: mtime,
	}
}

func firstLine(content string, maxLen int) string {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if len(trimmed) > maxLen {
			return strings.TrimSpace(trimmed[:maxLen])
		}
		return trimmed
	}
	return ""
}

func titleFromFilename(source string) string {
	base := filepath.Base(source)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.ReplaceAll(base, "_", " ")
	base = strings.ReplaceAll(base, "-", " ")
	return base
}

// parseTimestamp accepts RFC3339 or plain dates, falling back to the file
// modification time.
func parseTimestamp(s string, fallback time.Time) time.Time {
	if s == "" {
		return fallback
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC()
		}
	}
	return fallback
}
