package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/financebuddy/financebuddy/pkg/apierr"
	"github.com/financebuddy/financebuddy/pkg/config"
	"github.com/financebuddy/financebuddy/pkg/corpus"
	"github.com/financebuddy/financebuddy/pkg/embedder"
	"github.com/financebuddy/financebuddy/pkg/flow"
	"github.com/financebuddy/financebuddy/pkg/ingest"
	"github.com/financebuddy/financebuddy/pkg/llm"
	"github.com/financebuddy/financebuddy/pkg/quiz"
	"github.com/financebuddy/financebuddy/pkg/retrieval"
	"github.com/financebuddy/financebuddy/pkg/server"
	"github.com/financebuddy/financebuddy/pkg/session"
	"github.com/financebuddy/financebuddy/pkg/vector"
)

// ServeCmd starts the HTTP API server.
type ServeCmd struct {
	Corpus string `help:"Directory of study material to index at startup." type:"path"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}

	corp, err := buildCorpusStack(cfg)
	if err != nil {
		return err
	}
	defer corp.Close()

	svc, err := buildServiceStack(cfg, corp)
	if err != nil {
		return err
	}
	defer svc.Close()

	// The keyword index lives in memory, so study material is re-indexed on
	// every start; re-upserted chunks simply replace their vector records.
	// The registry is skipped here because a skipped file would leave the
	// keyword index without its terms.
	if c.Corpus != "" {
		pipeline := ingest.NewPipeline(corp.Processor, nil, ingest.PipelineConfig{})
		_, failures, err := pipeline.Run(context.Background(), c.Corpus)
		if err != nil {
			return err
		}
		if len(failures) > 0 {
			slog.Warn("Some corpus files failed to index", "failed", len(failures))
		}
	} else {
		slog.Warn("No --corpus directory given; retrieval runs on persisted vectors without keyword search")
	}

	srv := server.New(svc.Manager, svc.Sessions, server.Config{
		Addr:               cfg.ListenAddr,
		Version:            buildVersion(),
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("Received signal, shutting down", "signal", sig)
		cancel()
	}()

	return srv.Start(ctx)
}

// corpusStack is the indexing and retrieval half of the service graph.
type corpusStack struct {
	Embedder  embedder.Embedder
	Store     vector.Store
	Keyword   *retrieval.KeywordIndex
	Processor *corpus.Processor
	Retriever *retrieval.Retriever
}

func (s *corpusStack) Close() {
	_ = s.Embedder.Close()
	_ = s.Store.Close()
}

// serviceStack is the tutoring half: LLM adapter, sessions and the flow
// manager the HTTP server fronts.
type serviceStack struct {
	Adapter  llm.Adapter
	Sessions *session.MemoryStore
	Manager  *flow.Manager
}

func (s *serviceStack) Close() {
	_ = s.Sessions.Close()
	_ = s.Adapter.Close()
}

func buildCorpusStack(cfg *config.Config) (*corpusStack, error) {
	emb, err := newEmbedder(cfg)
	if err != nil {
		return nil, err
	}

	store, err := newVectorStore(cfg)
	if err != nil {
		_ = emb.Close()
		return nil, err
	}
	if err := store.Initialize(context.Background(), emb.Dimension()); err != nil {
		_ = emb.Close()
		_ = store.Close()
		return nil, err
	}

	keyword := retrieval.NewKeywordIndex()
	return &corpusStack{
		Embedder:  emb,
		Store:     store,
		Keyword:   keyword,
		Processor: corpus.NewProcessor(emb, store, keyword, corpus.ProcessorConfig{}),
		Retriever: retrieval.New(emb, store, keyword, retrieval.Config{
			Alpha:   cfg.HybridAlpha,
			Weights: cfg.RerankWeights,
		}),
	}, nil
}

func buildServiceStack(cfg *config.Config, corp *corpusStack) (*serviceStack, error) {
	adapter, err := newAdapter(cfg)
	if err != nil {
		return nil, err
	}

	sessions := session.NewMemoryStore(time.Duration(cfg.SessionTTLMinutes) * time.Minute)
	manager := flow.NewManager(
		sessions,
		quiz.NewGenerator(corp.Retriever, adapter, quiz.GeneratorConfig{
			DefaultDifficulty: cfg.DefaultDifficulty,
			MaxQuestions:      cfg.MaxQuestionsPerSession,
			FallbackEnabled:   cfg.EnableLLMFallback,
			CrossCheck:        cfg.AnswerCrossCheck,
		}),
		quiz.NewExplainer(corp.Retriever, adapter),
		corp.Retriever,
		adapter,
		flow.ManagerConfig{},
	)

	return &serviceStack{Adapter: adapter, Sessions: sessions, Manager: manager}, nil
}

func newEmbedder(cfg *config.Config) (embedder.Embedder, error) {
	switch {
	case cfg.GeminiAPIKey != "":
		return embedder.New(embedder.ProviderConfig{
			Type:      embedder.ProviderGemini,
			APIKey:    cfg.GeminiAPIKey,
			Model:     cfg.EmbeddingModel,
			BatchSize: cfg.EmbeddingBatchSize,
		})
	case cfg.OpenAIAPIKey != "":
		return embedder.New(embedder.ProviderConfig{
			Type:      embedder.ProviderOpenAI,
			APIKey:    cfg.OpenAIAPIKey,
			BatchSize: cfg.EmbeddingBatchSize,
		})
	case cfg.EnableLLMFallback:
		slog.Warn("No embedding API key set, using the deterministic stub embedder")
		return embedder.New(embedder.ProviderConfig{Type: embedder.ProviderStub})
	default:
		return nil, apierr.New(apierr.KindFatal,
			"no embedding provider configured: set GEMINI_API_KEY or OPENAI_API_KEY, or ENABLE_LLM_FALLBACK=true for offline stubs")
	}
}

func newVectorStore(cfg *config.Config) (vector.Store, error) {
	pc := &vector.ProviderConfig{}
	if cfg.VectorDBURL != "" {
		host, port := qdrantHostPort(cfg.VectorDBURL)
		pc.Type = vector.ProviderQdrant
		pc.Qdrant = &vector.QdrantConfig{
			Collection: cfg.VectorCollection,
			Host:       host,
			Port:       port,
		}
	} else {
		pc.Type = vector.ProviderChromem
		pc.Chromem = &vector.ChromemConfig{
			Collection:  cfg.VectorCollection,
			PersistPath: filepath.Join(cfg.CorpusDataDir, "vectors"),
		}
	}
	return vector.NewStore(pc)
}

func newAdapter(cfg *config.Config) (llm.Adapter, error) {
	if cfg.GeminiAPIKey != "" {
		return llm.New(llm.ProviderConfig{
			Type:   llm.ProviderGemini,
			APIKey: cfg.GeminiAPIKey,
		})
	}
	if cfg.EnableLLMFallback {
		slog.Warn("GEMINI_API_KEY not set, using the canned stub adapter")
		return llm.New(llm.ProviderConfig{Type: llm.ProviderStub})
	}
	return nil, apierr.New(apierr.KindFatal,
		"GEMINI_API_KEY is required unless ENABLE_LLM_FALLBACK=true")
}

// qdrantHostPort splits VECTOR_DB_URL ("host:port", scheme optional) for
// the Qdrant client. A missing port falls back to the client default.
func qdrantHostPort(raw string) (string, int) {
	for _, prefix := range []string{"qdrant://", "http://", "https://"} {
		raw = strings.TrimPrefix(raw, prefix)
	}
	host, portStr, err := net.SplitHostPort(raw)
	if err != nil {
		return raw, 0
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}
