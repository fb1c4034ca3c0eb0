package ingest

import (
	"regexp"
	"strings"

	"github.com/financebuddy/financebuddy/pkg/corpus"
)

var (
	qaPattern   = regexp.MustCompile(`(?mi)^\s*(question|answer|q|a)\s*[:.]`)
	rulePattern = regexp.MustCompile(`(?i)\b(rule\s+\d+|regulation\s+[a-z]{1,3}\b|section\s+\d+|§\s*\d+|finra\s+rule|msrb\s+rule|sec\s+rule|shall\b)`)
)

// inferType guesses a document type from its path and content. It runs only
// when neither the document itself nor the caller specified a type.
func inferType(doc corpus.Document) corpus.DocumentType {
	pathLower := strings.ToLower(doc.Source)

	switch {
	case strings.Contains(pathLower, "qa") ||
		strings.Contains(pathLower, "question") ||
		strings.Contains(pathLower, "quiz"):
		return corpus.TypeQAPair
	case strings.Contains(pathLower, "regulation") ||
		strings.Contains(pathLower, "rule") ||
		strings.Contains(pathLower, "finra") ||
		strings.Contains(pathLower, "msrb"):
		return corpus.TypeRegulation
	}

	if qaPattern.MatchString(doc.Content) {
		return corpus.TypeQAPair
	}
	if rulePattern.MatchString(doc.Content) {
		return corpus.TypeRegulation
	}

	return corpus.TypeTextbook
}

// resolveType applies precedence: explicit document type, then the pipeline
// override, then inference.
func resolveType(doc corpus.Document, override corpus.DocumentType) corpus.DocumentType {
	if doc.Type != "" {
		return doc.Type
	}
	if override != "" {
		return override
	}
	return inferType(doc)
}
