package corpus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/financebuddy/financebuddy/pkg/apierr"
	"github.com/financebuddy/financebuddy/pkg/embedder"
	"github.com/financebuddy/financebuddy/pkg/vector"
)

// stalePruneLimit bounds how far past the new chunk count the processor
// probes for leftover chunks from a previously longer version of the source.
const stalePruneLimit = 1000

// ProcessorConfig configures the document processor.
type ProcessorConfig struct {
	ChunkSize    int
	ChunkOverlap int
}

// ChunkError reports one failed chunk inside an otherwise processed document.
type ChunkError struct {
	ChunkID string
	Index   int
	Err     error
}

// ProcessReport summarizes the outcome of processing one document.
type ProcessReport struct {
	Source   string
	DocID    string
	Chunks   int
	Indexed  int
	Tags     []string
	Failures []ChunkError
}

// Processor turns a raw document into embedded, tagged, indexed chunks.
//
// Chunk ids are content-addressed from (source, index), so processing the
// same source again overwrites in place instead of duplicating.
type Processor struct {
	embedder embedder.Embedder
	store    vector.Store
	lexical  LexicalIndex
	chunker  *Chunker
	tagger   *Tagger
}

// NewProcessor creates a processor. The lexical index is optional.
func NewProcessor(emb embedder.Embedder, store vector.Store, lexical LexicalIndex, cfg ProcessorConfig) *Processor {
	return &Processor{
		embedder: emb,
		store:    store,
		lexical:  lexical,
		chunker:  NewChunker(cfg.ChunkSize, cfg.ChunkOverlap),
		tagger:   NewTagger(),
	}
}

// Process validates, chunks, tags, embeds and indexes one document.
//
// Partial embedding failures are reported per chunk and do not fail the
// document; a document where every chunk fails returns an error.
func (p *Processor) Process(ctx context.Context, doc Document) (*ProcessReport, error) {
	if err := doc.Validate(); err != nil {
		return nil, apierr.Wrap(apierr.KindValidation, "invalid document", err)
	}

	chunks := p.chunker.Chunk(doc.Content)
	if len(chunks) == 0 {
		return nil, apierr.Newf(apierr.KindValidation, "document %s has no content after normalization", doc.Source)
	}

	tags := MergeTags(doc.Tags, p.tagger.Tag(doc.Content))

	report := &ProcessReport{
		Source: doc.Source,
		DocID:  doc.ID,
		Chunks: len(chunks),
		Tags:   tags,
	}

	results, err := p.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return report, apierr.Wrap(apierr.KindUpstreamUnavailable, "embedding provider failed", err)
	}

	records := make([]vector.Record, 0, len(chunks))
	indexed := make([]Document, 0, len(chunks))
	for i, res := range results {
		chunkID := ChunkID(doc.Source, i)
		if res.Err != nil {
			report.Failures = append(report.Failures, ChunkError{ChunkID: chunkID, Index: i, Err: res.Err})
			continue
		}

		chunkDoc := Document{
			ID:          chunkID,
			Title:       doc.Title,
			Content:     chunks[i],
			Type:        doc.Type,
			Source:      doc.Source,
			Chapter:     doc.Chapter,
			Section:     doc.Section,
			Tags:        tags,
			LastUpdated: doc.LastUpdated,
			Metadata:    chunkMetadata(doc, i, len(chunks)),
		}
		records = append(records, recordFromDocument(chunkDoc, res.Vector))
		indexed = append(indexed, chunkDoc)
	}

	if len(records) == 0 {
		return report, apierr.Newf(apierr.KindUpstreamUnavailable,
			"all %d chunks of %s failed to embed", len(chunks), doc.Source)
	}

	if err := p.store.Upsert(ctx, records); err != nil {
		return report, apierr.Wrap(apierr.KindRetrievalDegraded, "vector store upsert failed", err)
	}

	if p.lexical != nil {
		for _, chunkDoc := range indexed {
			p.lexical.Index(chunkDoc)
		}
	}

	report.Indexed = len(records)

	if err := p.pruneStaleChunks(ctx, doc.Source, len(chunks)); err != nil {
		slog.Warn("Failed to prune stale chunks", "source", doc.Source, "error", err)
	}

	if len(report.Failures) > 0 {
		slog.Warn("Document processed with chunk failures",
			"source", doc.Source,
			"indexed", report.Indexed,
			"failed", len(report.Failures))
	}

	return report, nil
}

// pruneStaleChunks removes chunks beyond the new chunk count left over from
// a previously longer version of the same source.
func (p *Processor) pruneStaleChunks(ctx context.Context, source string, from int) error {
	for i := from; i < from+stalePruneLimit; i++ {
		id := ChunkID(source, i)
		_, err := p.store.GetByID(ctx, id)
		if errors.Is(err, vector.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := p.store.Delete(ctx, id); err != nil {
			return err
		}
		if p.lexical != nil {
			p.lexical.Remove(id)
		}
	}
	return fmt.Errorf("stale chunk probe exceeded %d entries for %s", stalePruneLimit, source)
}

func chunkMetadata(doc Document, index, total int) map[string]string {
	md := make(map[string]string, len(doc.Metadata)+3)
	for k, v := range doc.Metadata {
		md[k] = v
	}
	md["chunk_index"] = fmt.Sprintf("%d", index)
	md["chunk_total"] = fmt.Sprintf("%d", total)
	if doc.ID != "" {
		md["doc_id"] = doc.ID
	}
	return md
}

func recordFromDocument(doc Document, vec []float32) vector.Record {
	return vector.Record{
		ID:          doc.ID,
		Vector:      vec,
		Title:       doc.Title,
		Content:     doc.Content,
		Type:        string(doc.Type),
		Source:      doc.Source,
		Chapter:     doc.Chapter,
		Section:     doc.Section,
		Tags:        doc.Tags,
		LastUpdated: doc.LastUpdated,
		Metadata:    doc.Metadata,
	}
}

// DocumentFromRecord converts a stored record back to the document model.
func DocumentFromRecord(r vector.Record) Document {
	doc := Document{
		ID:       r.ID,
		Title:    r.Title,
		Content:  r.Content,
		Source:   r.Source,
		Chapter:  r.Chapter,
		Section:  r.Section,
		Tags:     r.Tags,
		Metadata: r.Metadata,
	}
	if t, err := ParseDocumentType(r.Type); err == nil {
		doc.Type = t
	}
	if !r.LastUpdated.IsZero() {
		doc.LastUpdated = r.LastUpdated.UTC()
	}
	return doc
}
