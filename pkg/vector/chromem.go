package vector

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/philippgille/chromem-go"
)

// ChromemStore implements Store using chromem-go for embedded storage.
//
// This is the zero-config default: pure Go, no external services, optional
// gzip-compressed file persistence. All vectors live in RAM, so it suits
// development and corpora up to the low hundreds of thousands of chunks.
type ChromemStore struct {
	db          *chromem.DB
	collection  string
	persistPath string
	compress    bool

	mu  sync.RWMutex
	col *chromem.Collection

	// Embeddings are pre-computed by the embedder package; chromem's own
	// embedding hook must never fire.
	embeddingFunc chromem.EmbeddingFunc
}

// ChromemConfig configures the chromem store.
type ChromemConfig struct {
	// Collection is the corpus collection name.
	Collection string `yaml:"collection"`

	// PersistPath enables file persistence when non-empty. The directory is
	// created if missing.
	PersistPath string `yaml:"persist_path,omitempty"`

	// Compress enables gzip compression for the persisted file.
	Compress bool `yaml:"compress,omitempty"`
}

// NewChromemStore creates a chromem-backed store, loading a previously
// persisted database when one exists.
func NewChromemStore(cfg ChromemConfig) (*ChromemStore, error) {
	if cfg.Collection == "" {
		return nil, fmt.Errorf("collection name is required")
	}

	var db *chromem.DB

	if cfg.PersistPath != "" {
		if err := os.MkdirAll(cfg.PersistPath, 0755); err != nil {
			return nil, fmt.Errorf("failed to create persist directory: %w", err)
		}

		dbPath := chromemFilePath(cfg.PersistPath, cfg.Compress)
		if _, statErr := os.Stat(dbPath); statErr == nil {
			loaded, err := chromem.NewPersistentDB(dbPath, cfg.Compress)
			if err != nil {
				slog.Warn("Failed to load existing vector database, creating new",
					"path", dbPath,
					"error", err)
				db = chromem.NewDB()
			} else {
				slog.Info("Loaded vector database from file", "path", dbPath)
				db = loaded
			}
		} else {
			db = chromem.NewDB()
			slog.Info("Created new vector database", "path", dbPath)
		}
	} else {
		db = chromem.NewDB()
		slog.Info("Created in-memory vector database (no persistence)")
	}

	identityEmbed := func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("embedding function called but vectors should be pre-computed")
	}

	return &ChromemStore{
		db:            db,
		collection:    cfg.Collection,
		persistPath:   cfg.PersistPath,
		compress:      cfg.Compress,
		embeddingFunc: identityEmbed,
	}, nil
}

func chromemFilePath(dir string, compress bool) string {
	path := filepath.Join(dir, "vectors.gob")
	if compress {
		path += ".gz"
	}
	return path
}

// Initialize creates the collection if needed. chromem collections carry no
// fixed dimension, so the argument is unused.
func (s *ChromemStore) Initialize(ctx context.Context, _ int) error {
	_, err := s.getCollection()
	return err
}

func (s *ChromemStore) getCollection() (*chromem.Collection, error) {
	s.mu.RLock()
	if s.col != nil {
		col := s.col
		s.mu.RUnlock()
		return col, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.col != nil {
		return s.col, nil
	}

	col, err := s.db.GetOrCreateCollection(s.collection, nil, s.embeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("failed to get/create collection %q: %w", s.collection, err)
	}
	s.col = col
	return col, nil
}

// Upsert adds or replaces records by id.
func (s *ChromemStore) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	col, err := s.getCollection()
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, 0, len(records))
	for _, r := range records {
		docs = append(docs, chromem.Document{
			ID:        r.ID,
			Content:   r.Content,
			Metadata:  encodeMetadata(r),
			Embedding: r.Vector,
		})
	}

	if err := col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to upsert documents: %w", err)
	}

	if err := s.persist(); err != nil {
		slog.Warn("Failed to persist after upsert", "error", err)
	}
	return nil
}

// SearchSimilar queries chromem with the pre-computed vector.
//
// chromem cannot express disjunctive filters, so filtered searches over-fetch
// and post-filter in Go.
func (s *ChromemStore) SearchSimilar(ctx context.Context, vector []float32, opts SearchOptions) ([]Match, error) {
	col, err := s.getCollection()
	if err != nil {
		return nil, err
	}

	count := col.Count()
	if count == 0 {
		return nil, nil
	}

	fetch := opts.Limit
	if fetch <= 0 {
		fetch = 10
	}
	if len(opts.Types) > 0 || len(opts.Tags) > 0 || len(opts.Metadata) > 0 {
		fetch *= 4
	}
	// chromem errors when asked for more results than stored documents.
	if fetch > count {
		fetch = count
	}

	results, err := col.QueryEmbedding(ctx, vector, fetch, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	candidates := make([]Match, 0, len(results))
	for _, r := range results {
		rec := decodeRecord(r.ID, r.Embedding, r.Content, r.Metadata)
		candidates = append(candidates, Match{
			Record: rec,
			Score:  normalizeScore(float64(r.Similarity)),
		})
	}

	sortMatches(candidates)
	return filterAndBound(candidates, opts), nil
}

// GetByID fetches a record, or ErrNotFound.
func (s *ChromemStore) GetByID(ctx context.Context, id string) (*Record, error) {
	col, err := s.getCollection()
	if err != nil {
		return nil, err
	}

	doc, err := col.GetByID(ctx, id)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get document %s: %w", id, err)
	}

	rec := decodeRecord(doc.ID, doc.Embedding, doc.Content, doc.Metadata)
	return &rec, nil
}

// Delete removes records by id.
func (s *ChromemStore) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	col, err := s.getCollection()
	if err != nil {
		return err
	}

	if err := col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}

	if err := s.persist(); err != nil {
		slog.Warn("Failed to persist after delete", "error", err)
	}
	return nil
}

// Stats reports the record count.
func (s *ChromemStore) Stats(ctx context.Context) (Stats, error) {
	col, err := s.getCollection()
	if err != nil {
		return Stats{}, err
	}
	return Stats{Name: s.collection, Count: col.Count()}, nil
}

// Clear removes the collection and recreates it empty.
func (s *ChromemStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	if err := s.db.DeleteCollection(s.collection); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	s.col = nil
	s.mu.Unlock()

	if _, err := s.getCollection(); err != nil {
		return err
	}

	if err := s.persist(); err != nil {
		slog.Warn("Failed to persist after clear", "error", err)
	}
	return nil
}

// Name identifies the provider.
func (s *ChromemStore) Name() string {
	return "chromem"
}

// Close persists the database.
func (s *ChromemStore) Close() error {
	return s.persist()
}

func (s *ChromemStore) persist() error {
	if s.persistPath == "" {
		return nil
	}

	dbPath := chromemFilePath(s.persistPath, s.compress)

	//nolint:staticcheck // Using deprecated function for compatibility
	if err := s.db.Export(dbPath, s.compress, ""); err != nil {
		return fmt.Errorf("failed to persist database: %w", err)
	}
	return nil
}

var _ Store = (*ChromemStore)(nil)
