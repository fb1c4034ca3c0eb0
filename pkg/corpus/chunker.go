package corpus

import (
	"strings"
	"unicode/utf8"
)

const (
	defaultChunkSize    = 800
	defaultChunkOverlap = 150
)

// Chunker splits document content into overlapping chunks at natural
// boundaries: paragraph breaks first, then sentence ends, then whitespace.
// A chunk never splits a word.
type Chunker struct {
	targetSize int
	overlap    int
}

// NewChunker creates a chunker. Non-positive arguments select the defaults
// (800-character target, 150-character overlap); the overlap is clamped below
// the target size.
func NewChunker(targetSize, overlap int) *Chunker {
	if targetSize <= 0 {
		targetSize = defaultChunkSize
	}
	if overlap < 0 {
		overlap = defaultChunkOverlap
	}
	if overlap >= targetSize {
		overlap = targetSize / 4
	}
	return &Chunker{targetSize: targetSize, overlap: overlap}
}

// Chunk splits text into chunks. Content at or under the target size comes
// back as a single chunk; empty content produces no chunks.
func (c *Chunker) Chunk(text string) []string {
	text = normalizeText(text)
	if text == "" {
		return nil
	}
	if len(text) <= c.targetSize {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + c.targetSize
		if end >= len(text) {
			if chunk := strings.TrimSpace(text[start:]); chunk != "" {
				chunks = append(chunks, chunk)
			}
			break
		}

		cut := c.findCut(text, start, end)
		chunk := strings.TrimSpace(text[start:cut])
		if chunk != "" {
			chunks = append(chunks, chunk)
		}

		start = c.nextStart(text, start, cut)
	}

	return chunks
}

// findCut picks the best boundary in (start, end]: the last paragraph break,
// else the last sentence end, else the last whitespace. A single run longer
// than the target size is cut hard at a rune boundary.
func (c *Chunker) findCut(text string, start, end int) int {
	window := text[start:end]

	if i := strings.LastIndex(window, "\n\n"); i > 0 {
		return start + i
	}

	if i := lastSentenceEnd(window); i > 0 {
		return start + i
	}

	if i := strings.LastIndexAny(window, " \t\n"); i > 0 {
		return start + i
	}

	for end > start && !utf8.RuneStart(text[end]) {
		end--
	}
	return end
}

// nextStart steps back by the overlap from the cut, snapped forward to the
// next word boundary so no chunk starts mid-word.
func (c *Chunker) nextStart(text string, start, cut int) int {
	next := cut - c.overlap
	if next <= start {
		next = cut
	} else {
		for next < cut && next > 0 && !isBoundary(text[next-1]) {
			next++
		}
	}

	// Skip leading whitespace so the next chunk starts on content.
	for next < len(text) && isBoundary(text[next]) {
		next++
	}
	if next <= start {
		next = cut + 1
	}
	return next
}

func isBoundary(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// lastSentenceEnd finds the index just past the last sentence terminator
// that is followed by whitespace.
func lastSentenceEnd(s string) int {
	for i := len(s) - 2; i > 0; i-- {
		switch s[i] {
		case '.', '!', '?':
			if isBoundary(s[i+1]) {
				return i + 1
			}
		}
	}
	return -1
}

// normalizeText canonicalizes line endings and trims outer whitespace while
// preserving paragraph structure.
func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	// Collapse runs of 3+ newlines to a single paragraph break.
	for strings.Contains(text, "\n\n\n") {
		text = strings.ReplaceAll(text, "\n\n\n", "\n\n")
	}

	return strings.TrimSpace(text)
}
