package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/trading-knowledge/internal/config"
	"github.com/kirillkom/trading-knowledge/internal/core/domain"
	"github.com/kirillkom/trading-knowledge/internal/core/ports"
	"github.com/kirillkom/trading-knowledge/internal/core/usecase"
	"github.com/kirillkom/trading-knowledge/internal/infrastructure/availability"
	"github.com/kirillkom/trading-knowledge/internal/infrastructure/changefeed"
	"github.com/kirillkom/trading-knowledge/internal/infrastructure/chunking"
	"github.com/kirillkom/trading-knowledge/internal/infrastructure/extractor"
	"github.com/kirillkom/trading-knowledge/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/trading-knowledge/internal/infrastructure/pipelineapi"
	"github.com/kirillkom/trading-knowledge/internal/infrastructure/queue/memory"
	"github.com/kirillkom/trading-knowledge/internal/infrastructure/queue/nats"
	"github.com/kirillkom/trading-knowledge/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/trading-knowledge/internal/infrastructure/resilience"
	"github.com/kirillkom/trading-knowledge/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/trading-knowledge/internal/infrastructure/storage/s3"
	"github.com/kirillkom/trading-knowledge/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/trading-knowledge/internal/observability/metrics"
)

type App struct {
	Config config.Config
	Logger *slog.Logger

	Gateway ports.PersistenceGateway
	Storage ports.ObjectStorage
	Changes ports.ChangeSubscriber
	Metrics *metrics.HTTPServerMetrics

	Orchestrator *usecase.PipelineOrchestrator
	Search       *usecase.RetrievalWorkflow
	Sweeper      *usecase.IngestionSweeper

	ping    func(ctx context.Context) error
	closeFn func()
}

// New wires the persistence gateway, change feed, storage, remote pipeline
// client and workflows. service labels the metrics registry.
func New(ctx context.Context, cfg config.Config, service string, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	repo := postgres.NewGateway(db, cfg.EmbeddingDim)
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	closers := []func(){func() { _ = db.Close() }}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	feed, subscriber, closeFeed, err := newChangeFeed(cfg, logger)
	if err != nil {
		closeAll()
		return nil, err
	}
	closers = append(closers, closeFeed)

	var base ports.PersistenceGateway = repo
	switch strings.ToLower(strings.TrimSpace(cfg.VectorBackend)) {
	case "", "pgvector":
	case "qdrant":
		base = qdrant.Wrap(repo, qdrant.New(cfg.QdrantURL, cfg.QdrantCollection, qdrant.Options{}), logger)
	default:
		closeAll()
		return nil, fmt.Errorf("unknown vector backend %q", cfg.VectorBackend)
	}
	gateway := changefeed.Wrap(base, feed, logger)

	storage, err := newObjectStorage(ctx, cfg)
	if err != nil {
		closeAll()
		return nil, err
	}

	chunker, err := chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("init chunker: %w", err)
	}

	registry, err := config.LoadDomainRegistry(cfg)
	if err != nil {
		closeAll()
		return nil, err
	}

	embedder, err := newEmbedder(cfg, logger)
	if err != nil {
		closeAll()
		return nil, err
	}

	appMetrics := metrics.NewHTTPServerMetrics(service)

	prober := availability.NewProber(cfg.PipelineAPIURL, availability.Options{
		Timeout:  cfg.PipelineProbeTimeout,
		TTL:      cfg.PipelineProbeCacheTTL,
		Logger:   logger,
		Observer: appMetrics,
	})
	remoteExecutor := resilience.NewExecutor(resilience.RemotePipelineConfig(
		cfg.PipelineRetryMaxAttempts,
		cfg.PipelineBreakerEnabled,
		cfg.PipelineBreakerMinRequest,
	)).WithLogger(logger)
	remote := pipelineapi.New(cfg.PipelineAPIURL, pipelineapi.Options{
		RequestTimeout: cfg.PipelineRequestTimeout,
		Executor:       remoteExecutor,
	})

	ingest := usecase.NewIngestWorkflow(gateway, storage, extractor.NewRouter(), chunker, usecase.IngestOptions{
		DedupMode:    domain.DedupMode(cfg.DedupMode),
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
		StaleAfter:   cfg.StaleAfter,
		Tagger:       usecase.NewDomainTagger(registry, cfg.DefaultAgentDomains),
		Embedder:     embedder,
		Observer:     appMetrics,
		Logger:       logger,
	})
	search := usecase.NewRetrievalWorkflow(gateway, usecase.RetrievalOptions{
		DefaultLimit: cfg.SearchDefaultLimit,
		MaxLimit:     cfg.SearchMaxLimit,
		Candidates:   cfg.SearchCandidates,
		RRFK:         cfg.SearchRRFK,
		Embedder:     embedder,
		Observer:     appMetrics,
		Logger:       logger,
	})
	orchestrator := usecase.NewPipelineOrchestrator(prober, remote, gateway, ingest, search, usecase.OrchestratorOptions{
		Storage:  storage,
		Observer: appMetrics,
		Logger:   logger,
	})
	sweeper := usecase.NewIngestionSweeper(gateway, usecase.SweeperOptions{
		StaleAfter: cfg.StaleAfter,
		Logger:     logger,
	})

	return &App{
		Config: cfg,
		Logger: logger,

		Gateway: gateway,
		Storage: storage,
		Changes: subscriber,
		Metrics: appMetrics,

		Orchestrator: orchestrator,
		Search:       search,
		Sweeper:      sweeper,

		ping:    repo.Ping,
		closeFn: closeAll,
	}, nil
}

// newChangeFeed uses NATS when NATS_URL is set and an in-process hub otherwise.
func newChangeFeed(cfg config.Config, logger *slog.Logger) (ports.ChangePublisher, ports.ChangeSubscriber, func(), error) {
	if strings.TrimSpace(cfg.NATSURL) == "" {
		hub := memory.NewHub(0)
		return hub, hub, func() {}, nil
	}

	feed, err := nats.New(cfg.NATSURL, cfg.NATSSubjectPrefix, nats.Options{
		ResilienceExecutor: resilience.NewExecutor(resilience.DefaultConfig()).WithLogger(logger),
		Logger:             logger,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init change feed: %w", err)
	}
	return feed, feed, feed.Close, nil
}

func newObjectStorage(ctx context.Context, cfg config.Config) (ports.ObjectStorage, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.StorageBackend)) {
	case "", "localfs":
		storage, err := localfs.New(cfg.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("init object storage: %w", err)
		}
		return storage, nil
	case "s3":
		storage, err := s3.New(ctx, s3.Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.AWSRegion,
			AccessKey: cfg.AWSAccessKey,
			SecretKey: cfg.AWSSecretKey,
			Endpoint:  cfg.S3Endpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("init object storage: %w", err)
		}
		return storage, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

// newEmbedder returns a nil interface when embeddings are disabled so the
// workflows stay lexical.
func newEmbedder(cfg config.Config, logger *slog.Logger) (ports.Embedder, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.EmbeddingProvider)) {
	case "", "none":
		return nil, nil
	case "ollama":
		client := ollama.New(cfg.OllamaURL, ollama.Options{
			Executor: resilience.NewExecutor(resilience.DefaultConfig()).WithLogger(logger),
		})
		return ollama.NewEmbedder(client, cfg.EmbeddingModel, cfg.EmbeddingDim), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.EmbeddingProvider)
	}
}

// Ping checks the database connection.
func (a *App) Ping(ctx context.Context) error {
	return a.ping(ctx)
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
