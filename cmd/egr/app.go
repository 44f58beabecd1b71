package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/episode-graphrag/egr/config"
	"github.com/ZanzyTHEbar/episode-graphrag/egr/db"
	"github.com/ZanzyTHEbar/episode-graphrag/egr/generation/chains"
	"github.com/ZanzyTHEbar/episode-graphrag/egr/generation/embedding"
	"github.com/ZanzyTHEbar/episode-graphrag/egr/generation/harness"
	"github.com/ZanzyTHEbar/episode-graphrag/egr/generation/harness/adapters"
	ports "github.com/ZanzyTHEbar/episode-graphrag/egr/generation/harness/ports"
	"github.com/ZanzyTHEbar/episode-graphrag/egr/generation/harness/tools"
	"github.com/ZanzyTHEbar/episode-graphrag/egr/memory/service"
)

// app holds every long-lived component. It is built once at start-up and
// torn down with Close.
type app struct {
	db           *sql.DB
	metrics      *service.MetricsCollector
	orchestrator *harness.Orchestrator
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	conn, err := db.Open(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	caps := db.DetectCapabilities(ctx, conn, logger)

	embedder, err := embedding.NewEmbedder(ctx, cfg.Embedding)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	metrics := service.NewMetricsCollector()
	factory := harness.NewFactory(&cfg.Harness, conn, metrics, logger)
	provider := adapters.NewOpenAIProvider(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.Temperature, cfg.LLM.MaxTokens, cfg.LLM.Timeout)

	r := cfg.Retrieval
	typed := service.NewTypedStore(conn, r.MaxRows, logger)
	structured := chains.NewStructuredChain(
		service.NewSchemaDescriptorProvider(conn, r.SchemaTTL, logger),
		typed,
		chains.NewGenerator(provider, typed, r.LookupLimit, r.ExploratoryLimit, metrics, logger),
		chains.NewEvaluator(provider, typed, r.LookupLimit, metrics, logger),
		r, metrics, logger,
	)
	semantic := chains.NewSemanticChain(
		embedder,
		service.NewChunkIndex(conn, embedder.Dimension(), caps.VectorDistCos, logger),
		chains.SemanticOptions{
			TopK:             r.TopK,
			MinScore:         r.MinScore,
			MaxContextTokens: r.MaxContextTokens,
			MaxSnippets:      r.MaxSnippets,
			Cache:            factory.CreateCache(),
			CacheTTLSeconds:  cfg.Harness.CacheTTLSeconds,
		},
		metrics, logger,
	)

	router := factory.CreateRouter(provider, []ports.Tool{
		tools.NewStructuredRetrievalTool(structured),
		tools.NewSemanticRetrievalTool(semantic),
	}, cfg.Persona)
	rephraser := chains.NewRephraser(provider, cfg.Session.HistoryWindow, metrics, logger)

	return &app{
		db:           conn,
		metrics:      metrics,
		orchestrator: factory.CreateOrchestrator(rephraser, router, cfg.Session.HistoryWindow),
	}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}
