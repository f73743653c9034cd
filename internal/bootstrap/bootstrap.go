package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/config"
	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/core/domain"
	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/core/ports"
	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/core/usecase"
	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/infrastructure/embedding/hashing"
	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/infrastructure/lexical/bm25"
	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/infrastructure/llm/ollama"
	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/infrastructure/queue/nats"
	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/infrastructure/repository/postgres"
	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/infrastructure/resilience"
	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/infrastructure/storage/localfs"
	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/infrastructure/vector"
	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/infrastructure/vector/memory"
	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/infrastructure/vector/qdrant"
	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/observability/metrics"
)

type Options struct {
	Service string
	// WithoutConversations skips PostgreSQL; answers are then not persisted.
	WithoutConversations bool
}

type App struct {
	Config config.Config
	Logger *slog.Logger

	Holder        *usecase.SnapshotHolder
	Corpus        *InstrumentedCorpus
	Chat          *usecase.ConversationOrchestrator
	Status        *usecase.StatusService
	Conversations *usecase.ConversationUseCase
	Events        ports.CorpusEvents
	HTTPMetrics   *metrics.HTTPServerMetrics

	closers []func()
}

func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	if opts.Service == "" {
		opts.Service = "api"
	}
	app := &App{
		Config: cfg,
		Logger: slog.Default().With("component", "bootstrap"),
		Holder: usecase.NewSnapshotHolder(),
	}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	app.HTTPMetrics = metrics.NewHTTPServerMetrics(opts.Service)
	pipelineMetrics := metrics.NewPipelineMetrics(opts.Service, app.HTTPMetrics.Registerer())
	corpusMetrics := metrics.NewCorpusMetrics(opts.Service, app.HTTPMetrics.Registerer())

	newExecutor := func(profile resilience.Profile) *resilience.Executor {
		return resilience.NewExecutor(resilience.ConfigFor(profile)).WithRetryObserver(pipelineMetrics.RecordRetry)
	}

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	// Embedding and generation trip separate breakers.
	ollamaOpts := ollama.Options{
		BaseURL:         cfg.OllamaURL,
		GenModel:        cfg.OllamaGenModel,
		EmbedModel:      cfg.OllamaEmbedModel,
		EmbedBatchSize:  cfg.EmbedBatchSize,
		EmbedTimeout:    cfg.OllamaEmbedTimeout,
		GenerateTimeout: cfg.OllamaGenerateTimeout,
		HealthTimeout:   cfg.OllamaHealthTimeout,
	}
	generator := ollama.NewGenerator(ollama.New(ollamaOpts, newExecutor(resilience.ProfileGeneration)))

	var embedder ports.Embedder
	switch cfg.EmbedderBackend {
	case "hashing":
		embedder = hashing.New(cfg.HashingDimension)
	default:
		embedder = ollama.NewEmbedder(ollama.New(ollamaOpts, newExecutor(resilience.ProfileEmbedding)))
	}

	vectors, err := app.vectorBuilder(cfg, newExecutor(resilience.ProfileVectorStore))
	if err != nil {
		return nil, err
	}

	sparse, err := sparseBuilder(cfg.Retrieval)
	if err != nil {
		return nil, err
	}

	var events ports.CorpusEvents
	if cfg.NATSURL != "" {
		broadcaster, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
			ResilienceExecutor: newExecutor(resilience.ProfileBroker),
			Logger:             slog.Default().With("component", "nats"),
		})
		if err != nil {
			return nil, fmt.Errorf("init corpus events: %w", err)
		}
		app.closers = append(app.closers, broadcaster.Close)
		events = broadcaster
	} else if cfg.CorpusWatch {
		events = localfs.NewWatcher(storage, usecase.CurrentSnapshotKey, slog.Default().With("component", "corpus_watch"))
	}
	app.Events = events

	corpus := usecase.NewCorpusService(app.Holder, embedder, vectors, sparse, storage, events)
	app.Corpus = &InstrumentedCorpus{svc: corpus, holder: app.Holder, metrics: corpusMetrics}

	var store ports.ConversationStore
	if !opts.WithoutConversations && cfg.PostgresDSN != "" {
		db, err := postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		app.closers = append(app.closers, func() { closeDB(db) })
		repo := postgres.NewConversationRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		store = repo
		app.Conversations = usecase.NewConversationUseCase(repo)
	}

	app.Chat = usecase.NewConversationOrchestrator(app.Holder, embedder, generator, store, pipelineMetrics, retrievalOptions(cfg.Retrieval))
	app.Status = usecase.NewStatusService(app.Holder, generator)

	ok = true
	return app, nil
}

func (a *App) vectorBuilder(cfg config.Config, executor *resilience.Executor) (ports.VectorIndexBuilder, error) {
	metric, err := vector.ParseMetric(cfg.VectorMetric)
	if err != nil {
		return nil, err
	}
	if cfg.VectorBackend != "qdrant" {
		return memory.NewBuilder(metric), nil
	}
	client, err := qdrant.Dial(cfg.QdrantURL)
	if err != nil {
		return nil, fmt.Errorf("init qdrant: %w", err)
	}
	a.closers = append(a.closers, func() { _ = client.Close() })
	return qdrant.NewBuilder(client, cfg.QdrantCollection, metric, executor), nil
}

func sparseBuilder(policy config.RetrievalPolicy) (usecase.SparseBuilder, error) {
	tokenizer, err := bm25.TokenizerByName(policy.Tokenizer)
	if err != nil {
		return nil, err
	}
	opts := bm25.Options{K1: policy.BM25K1, B: policy.BM25B, Tokenizer: tokenizer}
	return func(chunks []domain.Chunk) ports.SparseIndex {
		return bm25.Build(chunks, opts)
	}, nil
}

func retrievalOptions(policy config.RetrievalPolicy) usecase.RetrievalOptions {
	return usecase.RetrievalOptions{
		DefaultK:         policy.TopK,
		MaxK:             policy.MaxK,
		DenseWeight:      policy.DenseWeight,
		SparseWeight:     policy.SparseWeight,
		ScoreThreshold:   policy.ScoreThreshold,
		CitationLimit:    policy.CitationLimit,
		Temperature:      policy.Temperature,
		MaxTokens:        policy.MaxTokens,
		MaxTokensCeiling: policy.MaxTokensCeiling,
	}
}

// LoadCorpus activates the persisted CURRENT snapshot. A store without one is
// not an error: the service starts empty and waits for ingestion.
func (a *App) LoadCorpus(ctx context.Context) error {
	err := a.Corpus.Reload(ctx, "")
	if domain.IsKind(err, domain.ErrNotFound) {
		a.Logger.Warn("corpus_not_found", "storage_path", a.Config.StoragePath)
		return nil
	}
	return err
}

// FollowCorpusEvents reloads every version announced by another replica. It
// blocks until ctx is done.
func (a *App) FollowCorpusEvents(ctx context.Context) error {
	if a.Events == nil {
		<-ctx.Done()
		return nil
	}
	return a.Events.SubscribeCorpusRebuilt(ctx, func(handlerCtx context.Context, version string) error {
		reloadCtx, cancel := context.WithTimeout(handlerCtx, 5*time.Minute)
		defer cancel()
		return a.Corpus.Reload(reloadCtx, version)
	})
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func closeDB(db *sql.DB) {
	_ = db.Close()
}
