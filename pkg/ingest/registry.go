package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// registryFilename is the registry's location under the corpus data dir.
const registryFilename = "registry.json"

// registryEntry records one processed file.
type registryEntry struct {
	Hash       string    `json:"hash"`
	Documents  int       `json:"documents"`
	Chunks     int       `json:"chunks"`
	IngestedAt time.Time `json:"ingestedAt"`
}

// Registry tracks processed files by (source, content hash) so unchanged
// files are skipped on re-ingestion. It persists as JSON under the corpus
// data directory.
type Registry struct {
	mu      sync.Mutex
	path    string
	entries map[string]registryEntry
}

// OpenRegistry loads the registry from dataDir, creating an empty one if the
// file does not exist.
func OpenRegistry(dataDir string) (*Registry, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	r := &Registry{
		path:    filepath.Join(dataDir, registryFilename),
		entries: make(map[string]registryEntry),
	}

	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read registry: %w", err)
	}

	if err := json.Unmarshal(data, &r.entries); err != nil {
		return nil, fmt.Errorf("failed to parse registry %s: %w", r.path, err)
	}
	return r, nil
}

// ContentHash hashes file content for change detection.
func ContentHash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Unchanged reports whether the source was already processed with this hash.
func (r *Registry) Unchanged(source, hash string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[source]
	return ok && entry.Hash == hash
}

// MarkProcessed records a processed file. The registry is flushed to disk on
// Save, not here, so concurrent workers only take the map lock.
func (r *Registry) MarkProcessed(source, hash string, documents, chunks int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[source] = registryEntry{
		Hash:       hash,
		Documents:  documents,
		Chunks:     chunks,
		IngestedAt: time.Now().UTC(),
	}
}

// Len returns the number of registered sources.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Save writes the registry atomically (write temp file, then rename).
func (r *Registry) Save() error {
	r.mu.Lock()
	data, err := json.MarshalIndent(r.entries, "", "  ")
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write registry: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("failed to replace registry: %w", err)
	}
	return nil
}
