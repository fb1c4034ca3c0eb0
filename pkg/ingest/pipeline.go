package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/financebuddy/financebuddy/pkg/corpus"
)

// Stats summarizes one pipeline run.
type Stats struct {
	FilesScanned  int64
	FilesSkipped  int64
	FilesFailed   int64
	Documents     int64
	ChunksIndexed int64
	ChunkFailures int64
	Duration      time.Duration
}

// FileError records a file that could not be ingested.
type FileError struct {
	Source string
	Err    error
}

// PipelineConfig configures the ingestion pipeline.
type PipelineConfig struct {
	// Concurrency bounds parallel file processing. Defaults to NumCPU.
	Concurrency int

	// TypeOverride forces a document type for files that do not declare one.
	TypeOverride corpus.DocumentType
}

// Pipeline walks a directory tree and feeds supported files through the
// document processor, skipping files whose content hash is already in the
// registry.
type Pipeline struct {
	processor   *corpus.Processor
	registry    *Registry
	concurrency int
	override    corpus.DocumentType
}

// NewPipeline creates an ingestion pipeline. The registry is optional; without
// one every file is processed on every run.
func NewPipeline(processor *corpus.Processor, registry *Registry, cfg PipelineConfig) *Pipeline {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}
	return &Pipeline{
		processor:   processor,
		registry:    registry,
		concurrency: concurrency,
		override:    cfg.TypeOverride,
	}
}

// Run ingests every supported file under root. File-level failures are
// collected, not fatal; the returned error covers walk failures and context
// cancellation only.
func (p *Pipeline) Run(ctx context.Context, root string) (*Stats, []FileError, error) {
	start := time.Now()

	files, err := discoverFiles(ctx, root)
	if err != nil {
		return nil, nil, err
	}

	slog.Info("Starting ingestion",
		"root", root,
		"files", len(files),
		"concurrency", p.concurrency)

	stats := &Stats{}
	var failMu sync.Mutex
	var failures []FileError

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for _, file := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			if err := p.processFile(gctx, root, file, stats); err != nil {
				atomic.AddInt64(&stats.FilesFailed, 1)
				failMu.Lock()
				failures = append(failures, FileError{Source: file, Err: err})
				failMu.Unlock()
				slog.Warn("Failed to ingest file", "source", file, "error", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return stats, failures, err
	}

	if p.registry != nil {
		if err := p.registry.Save(); err != nil {
			slog.Warn("Failed to save ingest registry", "error", err)
		}
	}

	stats.Duration = time.Since(start)
	slog.Info("Ingestion complete",
		"scanned", stats.FilesScanned,
		"skipped", stats.FilesSkipped,
		"failed", stats.FilesFailed,
		"documents", stats.Documents,
		"chunks", stats.ChunksIndexed,
		"duration", stats.Duration)

	return stats, failures, nil
}

func (p *Pipeline) processFile(ctx context.Context, root, source string, stats *Stats) error {
	atomic.AddInt64(&stats.FilesScanned, 1)

	path := filepath.Join(root, source)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	hash := ContentHash(data)
	if p.registry != nil && p.registry.Unchanged(source, hash) {
		atomic.AddInt64(&stats.FilesSkipped, 1)
		return nil
	}

	docs, err := parseFile(path, source)
	if err != nil {
		return err
	}

	var chunks int64
	for _, doc := range docs {
		doc.Type = resolveType(doc, p.override)

		report, err := p.processor.Process(ctx, doc)
		if err != nil {
			return err
		}

		atomic.AddInt64(&stats.Documents, 1)
		atomic.AddInt64(&stats.ChunksIndexed, int64(report.Indexed))
		atomic.AddInt64(&stats.ChunkFailures, int64(len(report.Failures)))
		chunks += int64(report.Indexed)
	}

	if p.registry != nil {
		p.registry.MarkProcessed(source, hash, len(docs), int(chunks))
	}
	return nil
}

// discoverFiles walks root and returns relative paths of supported files,
// skipping hidden directories.
func discoverFiles(ctx context.Context, root string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}

		if !supportedExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}

	return files, nil
}
