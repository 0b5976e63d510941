package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerchat/ledgerchat/db"
	"github.com/ledgerchat/ledgerchat/internal/agent/classifier"
	"github.com/ledgerchat/ledgerchat/internal/agent/details"
	"github.com/ledgerchat/ledgerchat/internal/agent/greeting"
	"github.com/ledgerchat/ledgerchat/internal/agent/orchestrator"
	"github.com/ledgerchat/ledgerchat/internal/agent/rag"
	"github.com/ledgerchat/ledgerchat/internal/agent/respond"
	"github.com/ledgerchat/ledgerchat/internal/agent/splitter"
	"github.com/ledgerchat/ledgerchat/internal/agent/websearch"
	httpapi "github.com/ledgerchat/ledgerchat/internal/api"
	"github.com/ledgerchat/ledgerchat/internal/config"
	"github.com/ledgerchat/ledgerchat/internal/graph"
	"github.com/ledgerchat/ledgerchat/internal/ingest"
	"github.com/ledgerchat/ledgerchat/internal/knowledge"
	"github.com/ledgerchat/ledgerchat/internal/log"
	"github.com/ledgerchat/ledgerchat/internal/observability"
	"github.com/ledgerchat/ledgerchat/internal/prompts"
	"github.com/ledgerchat/ledgerchat/internal/security"
	"github.com/ledgerchat/ledgerchat/internal/session"
)

const sweepInterval = 5 * time.Minute

// Setup builds the application from validated configuration. On error
// everything already acquired is released.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if err := cfg.ApplyDatabaseURL(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if retErr != nil {
			if err := a.Close(ctx); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	// Tracing first so genkit's TracerProvider is ready before Init.
	otelShutdown, err := observability.Setup(ctx, observability.Config{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
	}, logger)
	if err != nil {
		logger.Warn("tracing setup failed, continuing without it", "error", err)
	} else {
		a.otelShutdown = otelShutdown
	}

	pool, err := providePool(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Pool = pool

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder := provideEmbedder(g, cfg)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}

	a.Store = session.NewStore(pool, logger)
	a.Knowledge = knowledge.NewStore(pool, embedder, logger)

	a.Cache = session.NewCache(time.Duration(cfg.SessionTTLMinutes) * time.Minute)

	registry := prompts.NewRegistry(cfg.PromptServiceURL, logger)

	budget, err := rag.NewContextBudget(cfg.ContextTokens)
	if err != nil {
		return nil, err
	}

	orch := orchestrator.New(g, cfg.ModelName, registry, a.Cache, logger)
	compiler := respond.New(g, cfg.ModelName, registry, logger)
	a.Engine = graph.NewEngine(orch, compiler, a.Store, a.Cache, cfg.HistoryWindow, logger)

	searchClient := websearch.NewClient(cfg.SearchBaseURL, cfg.SearchMaxResults, logger)
	ingestClient := ingest.New(cfg.IngestBaseURL, cfg.IngestToken, logger)
	classify := classifier.New(g, cfg.ModelName, cfg.VisionModelName, ingestClient, registry, a.Cache, logger)

	a.Engine.Register(
		greeting.New(g, cfg.ModelName, registry, logger),
		rag.New(g, cfg.ModelName, a.Knowledge, budget, registry, a.Cache, cfg.RAGTopK, logger),
		websearch.New(g, cfg.ModelName, searchClient, security.NewHTTP(), registry, logger),
		details.New(g, cfg.ModelName, pool, details.Invoices, registry, a.Cache, cfg.MaxResultRows, logger),
		details.New(g, cfg.ModelName, pool, details.Loans, registry, a.Cache, cfg.MaxResultRows, logger),
		details.New(g, cfg.ModelName, pool, details.BankStatements, registry, a.Cache, cfg.MaxResultRows, logger),
		details.New(g, cfg.ModelName, pool, details.Documents, registry, a.Cache, cfg.MaxResultRows, logger),
		classify,
		splitter.New(g, cfg.ModelName, registry, a.Engine.SubExec, logger),
	)
	a.Engine.DefineFlow(g)

	a.Server = httpapi.NewServer(httpapi.Config{
		CORSOrigins: cfg.CORSOrigins,
		TrustProxy:  cfg.TrustProxy,
		RateBurst:   cfg.RateBurst,
	}, a.Engine, classify, a.Store, a.Cache, pool, logger)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel
	a.Cache.StartSweeper(runCtx, sweepInterval)
	a.Server.StartCleanup(runCtx)

	return a, nil
}

func providePool(ctx context.Context, cfg *config.Config, logger log.Logger) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL(), logger); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

func provideGenkit(ctx context.Context, cfg *config.Config, logger log.Logger) (*genkit.Genkit, error) {
	var g *genkit.Genkit
	switch cfg.Provider {
	case config.ProviderOpenAI:
		g = genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
	default: // googleai
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	}
	if g == nil {
		return nil, errors.New("initializing genkit with provider " + cfg.Provider)
	}
	logger.Info("initialized genkit", "provider", cfg.Provider, "model", cfg.ModelName)
	return g, nil
}

// provideEmbedder looks up the embedder registered by the provider
// plugin. OpenAI auto-registers embedders at Init; Google AI exposes a
// lookup helper.
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return genkit.LookupEmbedder(g, api.NewName("openai", cfg.EmbedderModel))
	default:
		return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	}
}
