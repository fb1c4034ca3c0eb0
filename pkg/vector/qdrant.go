package vector

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig configures the Qdrant store.
type QdrantConfig struct {
	// Collection is the corpus collection name.
	Collection string `yaml:"collection"`

	// Host is the Qdrant server hostname.
	Host string `yaml:"host"`

	// Port is the Qdrant gRPC port (default: 6334).
	Port int `yaml:"port"`

	// APIKey for authenticated access (optional).
	APIKey string `yaml:"api_key,omitempty"`

	// UseTLS enables TLS connections.
	UseTLS bool `yaml:"use_tls,omitempty"`
}

// QdrantStore implements Store using the Qdrant vector database.
type QdrantStore struct {
	client     *qdrant.Client
	collection string

	mu        sync.Mutex
	dimension int
}

// NewQdrantStore creates a Qdrant-backed store.
func NewQdrantStore(cfg QdrantConfig) (*QdrantStore, error) {
	if cfg.Collection == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client for %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	return &QdrantStore{
		client:     client,
		collection: cfg.Collection,
	}, nil
}

// Initialize creates the collection with cosine distance if it does not exist.
func (s *QdrantStore) Initialize(ctx context.Context, dimension int) error {
	s.mu.Lock()
	s.dimension = dimension
	s.mu.Unlock()

	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

// Upsert adds or replaces records by id.
func (s *QdrantStore) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, 0, len(records))
	for _, r := range records {
		payload := make(map[string]*qdrant.Value)
		for key, value := range encodeMetadata(r) {
			val, err := qdrant.NewValue(value)
			if err != nil {
				return fmt.Errorf("failed to convert metadata value for key %s: %w", key, err)
			}
			payload[key] = val
		}
		contentVal, err := qdrant.NewValue(r.Content)
		if err != nil {
			return fmt.Errorf("failed to convert content: %w", err)
		}
		payload["content"] = contentVal

		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(r.ID),
			Vectors: qdrant.NewVectors(r.Vector...),
			Payload: payload,
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

// SearchSimilar queries Qdrant. A single requested type is pushed down as a
// server-side filter; everything else is post-filtered, with over-fetch to
// compensate.
func (s *QdrantStore) SearchSimilar(ctx context.Context, vector []float32, opts SearchOptions) ([]Match, error) {
	fetch := opts.Limit
	if fetch <= 0 {
		fetch = 10
	}
	needsPostFilter := len(opts.Types) > 1 || len(opts.Tags) > 0 || len(opts.Metadata) > 0
	if needsPostFilter {
		fetch *= 4
	}

	searchRequest := &qdrant.SearchPoints{
		CollectionName: s.collection,
		Vector:         vector,
		Limit:          uint64(fetch),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	}

	if len(opts.Types) == 1 {
		searchRequest.Filter = &qdrant.Filter{
			Must: []*qdrant.Condition{
				{
					ConditionOneOf: &qdrant.Condition_Field{
						Field: &qdrant.FieldCondition{
							Key: metaType,
							Match: &qdrant.Match{
								MatchValue: &qdrant.Match_Keyword{Keyword: opts.Types[0]},
							},
						},
					},
				},
			},
		}
	}

	pointsClient := s.client.GetPointsClient()
	searchResult, err := pointsClient.Search(ctx, searchRequest)
	if err != nil {
		return nil, fmt.Errorf("failed to search points: %w", err)
	}

	candidates := s.convertResults(searchResult.Result)
	sortMatches(candidates)
	return filterAndBound(candidates, opts), nil
}

// GetByID fetches a record, or ErrNotFound.
func (s *QdrantStore) GetByID(ctx context.Context, id string) (*Record, error) {
	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.collection,
		Ids:            []*qdrant.PointId{qdrant.NewID(id)},
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get point %s: %w", id, err)
	}
	if len(points) == 0 {
		return nil, ErrNotFound
	}

	rec := s.pointToRecord(pointID(points[0].Id), scoredPointVector(points[0].Vectors), points[0].Payload)
	return &rec, nil
}

// Delete removes records by id.
func (s *QdrantStore) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewID(id))
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: pointIDs},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete points: %w", err)
	}
	return nil
}

// Stats reports the record count.
func (s *QdrantStore) Stats(ctx context.Context) (Stats, error) {
	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count points: %w", err)
	}
	return Stats{Name: s.collection, Count: int(count)}, nil
}

// Clear drops and recreates the collection.
func (s *QdrantStore) Clear(ctx context.Context) error {
	if err := s.client.DeleteCollection(ctx, s.collection); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}

	s.mu.Lock()
	dimension := s.dimension
	s.mu.Unlock()

	if dimension > 0 {
		return s.Initialize(ctx, dimension)
	}
	return nil
}

// Name identifies the provider.
func (s *QdrantStore) Name() string {
	return "qdrant"
}

// Close closes the Qdrant client.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func (s *QdrantStore) convertResults(points []*qdrant.ScoredPoint) []Match {
	matches := make([]Match, 0, len(points))
	for _, point := range points {
		rec := s.pointToRecord(pointID(point.Id), scoredPointVector(point.Vectors), point.Payload)
		matches = append(matches, Match{
			Record: rec,
			Score:  normalizeScore(float64(point.Score)),
		})
	}
	return matches
}

func (s *QdrantStore) pointToRecord(id string, vec []float32, payload map[string]*qdrant.Value) Record {
	md := make(map[string]string, len(payload))
	content := ""
	for key, value := range payload {
		sv := value.GetStringValue()
		if key == "content" {
			content = sv
			continue
		}
		md[key] = sv
	}
	return decodeRecord(id, vec, content, md)
}

func pointID(id *qdrant.PointId) string {
	if id == nil || id.PointIdOptions == nil {
		return ""
	}
	switch idType := id.PointIdOptions.(type) {
	case *qdrant.PointId_Uuid:
		return idType.Uuid
	case *qdrant.PointId_Num:
		return fmt.Sprintf("%d", idType.Num)
	}
	return ""
}

func scoredPointVector(vectors *qdrant.VectorsOutput) []float32 {
	if vectors == nil {
		return nil
	}
	if vectorData := vectors.GetVector(); vectorData != nil {
		switch v := vectorData.Vector.(type) {
		case *qdrant.VectorOutput_Dense:
			if v.Dense != nil {
				return v.Dense.Data
			}
		}
	}
	return nil
}

var _ Store = (*QdrantStore)(nil)
