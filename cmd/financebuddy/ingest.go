package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/financebuddy/financebuddy/pkg/corpus"
	"github.com/financebuddy/financebuddy/pkg/ingest"
)

// IngestCmd indexes a directory of study material into the corpus.
type IngestCmd struct {
	Dir string `arg:"" help:"Directory of study material." type:"path"`

	Type        string `help:"Force a document type (textbook, qa_pair, regulation)."`
	Force       bool   `help:"Re-process files even when their content is unchanged."`
	Concurrency int    `help:"Parallel file workers (default: number of CPUs)."`
}

func (c *IngestCmd) Run(cli *CLI) error {
	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}

	var override corpus.DocumentType
	if c.Type != "" {
		override, err = corpus.ParseDocumentType(c.Type)
		if err != nil {
			return err
		}
	}

	corp, err := buildCorpusStack(cfg)
	if err != nil {
		return err
	}
	defer corp.Close()

	var registry *ingest.Registry
	if !c.Force {
		registry, err = ingest.OpenRegistry(cfg.CorpusDataDir)
		if err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pipeline := ingest.NewPipeline(corp.Processor, registry, ingest.PipelineConfig{
		Concurrency:  c.Concurrency,
		TypeOverride: override,
	})
	stats, failures, err := pipeline.Run(ctx, c.Dir)
	if err != nil {
		return err
	}

	for _, failure := range failures {
		fmt.Fprintf(os.Stderr, "failed: %s: %v\n", failure.Source, failure.Err)
	}
	fmt.Printf("Indexed %d documents (%d chunks) from %d files in %s\n",
		stats.Documents, stats.ChunksIndexed,
		stats.FilesScanned-stats.FilesSkipped-stats.FilesFailed, stats.Duration)
	if stats.FilesSkipped > 0 {
		fmt.Printf("Skipped %d unchanged files\n", stats.FilesSkipped)
	}
	if len(failures) > 0 {
		return fmt.Errorf("%d files failed to ingest", len(failures))
	}
	return nil
}
