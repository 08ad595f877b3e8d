package container

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jinford/hansard-rag/internal/module/ingestion/adapter/chunker"
	"github.com/jinford/hansard-rag/internal/module/ingestion/adapter/parser"
	"github.com/jinford/hansard-rag/internal/module/ingestion/adapter/source"
	ingestion "github.com/jinford/hansard-rag/internal/module/ingestion/application"
	ingestdomain "github.com/jinford/hansard-rag/internal/module/ingestion/domain"
	llmadapter "github.com/jinford/hansard-rag/internal/module/llm/adapter"
	llmdomain "github.com/jinford/hansard-rag/internal/module/llm/domain"
	search "github.com/jinford/hansard-rag/internal/module/search/application"
	"github.com/jinford/hansard-rag/internal/module/vectorstore/adapter/legacy"
	"github.com/jinford/hansard-rag/internal/module/vectorstore/adapter/pg"
	vsdomain "github.com/jinford/hansard-rag/internal/module/vectorstore/domain"
	"github.com/jinford/hansard-rag/internal/platform/database"
	"github.com/jinford/hansard-rag/internal/platform/identity"
	"github.com/jinford/hansard-rag/pkg/config"
)

// Container はアプリケーションの依存関係を保持します。
// New は I/O を行わず、データベースへの接続は Open で行います
type Container struct {
	Config   *config.Config
	Resolver *identity.Resolver
	Manager  *database.Manager
	Store    vsdomain.Store
	Embedder *llmadapter.BatchEmbedder

	IngestService *ingestion.IngestService
	SearchService *search.SearchService

	DuplicatePolicy ingestdomain.DuplicatePolicy

	logger        *slog.Logger
	externalStore bool
}

type containerOptions struct {
	logger  *slog.Logger
	store   vsdomain.Store
	backend llmdomain.BatchBackend
	source  ingestdomain.DocumentSource
	tokens  database.TokenSourceFactory
	probes  []identity.Probe
}

// Option は Container 構築時のオプション
type Option func(*containerOptions)

// WithLogger はロガーを差し替える
func WithLogger(logger *slog.Logger) Option {
	return func(opts *containerOptions) {
		opts.logger = logger
	}
}

// WithStore はベクトルストアを差し替える。指定した場合はデータベースに接続しない
func WithStore(store vsdomain.Store) Option {
	return func(opts *containerOptions) {
		opts.store = store
	}
}

// WithEmbeddingBackend は Embedding バックエンドを差し替える
func WithEmbeddingBackend(backend llmdomain.BatchBackend) Option {
	return func(opts *containerOptions) {
		opts.backend = backend
	}
}

// WithDocumentSource はドキュメントの読み出し元を差し替える
func WithDocumentSource(src ingestdomain.DocumentSource) Option {
	return func(opts *containerOptions) {
		opts.source = src
	}
}

// WithTokenSourceFactory はアクセストークンの取得元を差し替える
func WithTokenSourceFactory(factory database.TokenSourceFactory) Option {
	return func(opts *containerOptions) {
		opts.tokens = factory
	}
}

// WithIdentityProbes はプリンシパル解決の Probe を差し替える
func WithIdentityProbes(probes ...identity.Probe) Option {
	return func(opts *containerOptions) {
		opts.probes = probes
	}
}

// New は設定からコンテナを生成します
func New(cfg *config.Config, opts ...Option) (*Container, error) {
	options := containerOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	logger := options.logger

	policy, err := ingestdomain.ParseDuplicatePolicy(cfg.Ingest.DuplicatePolicy)
	if err != nil {
		return nil, err
	}
	strategy, err := ingestdomain.ParseOverwriteStrategy(cfg.Ingest.OverwriteStrategy)
	if err != nil {
		return nil, err
	}

	// Identity / Connection Manager
	probes := options.probes
	if probes == nil {
		probes = identity.DefaultProbes(cfg.Identity.MetadataTimeout, cfg.Identity.CLIConfigDir)
	}
	resolver := identity.NewResolver(logger, probes...)

	retry := database.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.Database.RetryMaxAttempts
	manager := database.NewManager(database.Config{
		Host:           cfg.Database.Host,
		Port:           cfg.Database.Port,
		Database:       cfg.Database.Name,
		User:           cfg.Database.User,
		SSLMode:        cfg.Database.SSLMode,
		MaxConns:       int32(cfg.Database.MaxConns),
		ConnectTimeout: 10 * time.Second,
		Retry:          retry,
	}, resolver, options.tokens, logger)

	// Vector Store
	store := options.store
	if store == nil {
		store, err = newStore(cfg, manager, logger)
		if err != nil {
			return nil, err
		}
	}

	// Embedder
	backend := options.backend
	if backend == nil {
		backend, err = newBackend(cfg.Embedding)
		if err != nil {
			return nil, fmt.Errorf("failed to create embedding backend: %w", err)
		}
	}
	embedOpts := []llmadapter.Option{
		llmadapter.WithBatchSize(cfg.Embedding.BatchSize),
		llmadapter.WithRequestsPerSecond(cfg.Embedding.RequestsPerSecond),
		llmadapter.WithRetry(cfg.Embedding.MaxRetries, 0, 0),
		llmadapter.WithLogger(logger),
	}
	if cfg.Embedding.TokenBudget > 0 {
		counter, err := llmadapter.NewTiktokenCounter(llmadapter.DefaultEncoding)
		if err != nil {
			return nil, fmt.Errorf("failed to create token counter: %w", err)
		}
		embedOpts = append(embedOpts, llmadapter.WithTokenBudget(counter, cfg.Embedding.TokenBudget))
	}
	embedder := llmadapter.NewBatchEmbedder(backend, embedOpts...)

	// Ingestion
	chunk, err := chunker.New(cfg.Chunk.Size, cfg.Chunk.Overlap)
	if err != nil {
		return nil, err
	}
	src := options.source
	if src == nil {
		src = source.NewFileSystem()
	}
	ingestService := ingestion.NewIngestService(
		src,
		parser.NewFrontMatterParser(),
		chunk,
		embedder,
		store,
		ingestion.Config{Concurrency: cfg.Ingest.Concurrency, OverwriteStrategy: strategy},
		logger,
	)

	// Retrieval
	searchService := search.NewSearchService(embedder, store, logger)

	return &Container{
		Config:          cfg,
		Resolver:        resolver,
		Manager:         manager,
		Store:           store,
		Embedder:        embedder,
		IngestService:   ingestService,
		SearchService:   searchService,
		DuplicatePolicy: policy,
		logger:          logger,
		externalStore:   options.store != nil,
	}, nil
}

func newStore(cfg *config.Config, manager *database.Manager, logger *slog.Logger) (vsdomain.Store, error) {
	switch strings.ToLower(cfg.Database.StoreDriver) {
	case "", "native":
		return pg.NewNativeStore(manager, cfg.Database.Collection, logger), nil
	case "legacy":
		store, err := legacy.NewStore(manager, cfg.Database.Collection,
			legacy.WithPoolSize(cfg.Database.WorkerPoolSize),
			legacy.WithLogger(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create legacy store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Database.StoreDriver)
	}
}

func newBackend(cfg config.EmbeddingConfig) (llmdomain.BatchBackend, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "openai":
		return llmadapter.NewOpenAIEmbedder(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Dimension)
	case "ollama":
		return llmadapter.NewOllamaEmbedder(cfg.BaseURL, cfg.Model, cfg.Dimension)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// Open はデータベースへ接続します。ストアが差し替えられている場合は何もしません
func (c *Container) Open(ctx context.Context) error {
	if c.externalStore {
		return nil
	}
	return c.Manager.Open(ctx)
}

// Prepare は接続後、コレクションの次元数とモデルを検証します
func (c *Container) Prepare(ctx context.Context) error {
	if err := c.Open(ctx); err != nil {
		return err
	}
	if err := c.Store.EnsureCollection(ctx, c.Embedder.Dimension(), c.Embedder.ModelName()); err != nil {
		return fmt.Errorf("failed to ensure collection: %w", err)
	}
	return nil
}

// Close は実行中のジョブを待ち、内部リソースを解放します
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.IngestService != nil {
		errs = append(errs, c.IngestService.Shutdown(ctx))
	}
	if c.Store != nil {
		errs = append(errs, c.Store.Close())
	}
	if c.Manager != nil && !c.externalStore {
		c.Manager.Close()
	}
	return errors.Join(errs...)
}

// Logger はロガーを返す。
func (c *Container) Logger() *slog.Logger {
	if c == nil || c.logger == nil {
		return slog.Default()
	}
	return c.logger
}
