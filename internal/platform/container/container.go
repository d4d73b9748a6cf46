package container

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jinford/hybrid-rag/internal/core/collection"
	"github.com/jinford/hybrid-rag/internal/core/ingestion"
	"github.com/jinford/hybrid-rag/internal/core/ingestion/chunk"
	"github.com/jinford/hybrid-rag/internal/core/search"
	"github.com/jinford/hybrid-rag/internal/infra/openai"
	"github.com/jinford/hybrid-rag/internal/infra/postgres"
	"github.com/jinford/hybrid-rag/internal/infra/tokenizer"
	"github.com/jinford/hybrid-rag/internal/platform/config"
	"github.com/jinford/hybrid-rag/internal/platform/database"
)

// statsReader はコレクションの統計を返すもの
type statsReader interface {
	Stats(ctx context.Context, coll collection.Collection) (*postgres.CollectionStats, error)
}

// ServiceContainer はハイブリッド検索エンジンの依存関係を保持する。
// 起動時に1度だけ構築し、参照で受け渡す。
type ServiceContainer struct {
	IngestService *ingestion.IngestService
	SearchService *search.SearchService

	schema     ingestion.SchemaManager
	stats      statsReader
	collection collection.Collection
	cfg        *config.Config
	logger     *slog.Logger
	database   *database.Database
}

type containerOptions struct {
	logger       *slog.Logger
	embedder     openai.BatchEmbedder
	tokenCounter ingestion.TokenCounter
	skipSchema   bool
}

// ContainerOption は ServiceContainer 構築時のオプション
type ContainerOption func(*containerOptions)

// WithContainerLogger はロガーを差し替える
func WithContainerLogger(logger *slog.Logger) ContainerOption {
	return func(opts *containerOptions) {
		opts.logger = logger
	}
}

// WithContainerEmbedder はカスタム Embedder を注入する
func WithContainerEmbedder(embedder openai.BatchEmbedder) ContainerOption {
	return func(opts *containerOptions) {
		opts.embedder = embedder
	}
}

// WithContainerTokenCounter は TokenCounter を差し替える
func WithContainerTokenCounter(counter ingestion.TokenCounter) ContainerOption {
	return func(opts *containerOptions) {
		opts.tokenCounter = counter
	}
}

// WithoutSchemaCheck は起動時のスキーマ作成・検証を省略する
func WithoutSchemaCheck() ContainerOption {
	return func(opts *containerOptions) {
		opts.skipSchema = true
	}
}

// NewContainer は設定からコンテナを生成する。
func NewContainer(ctx context.Context, cfg *config.Config, opts ...ContainerOption) (*ServiceContainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := database.New(ctx, database.ConnectionParams{
		URL:      cfg.Database.URL,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: int32(cfg.Database.MaxConns),
		MinConns: int32(cfg.Database.MinConns),
	})
	if err != nil {
		return nil, fmt.Errorf("データベース初期化に失敗しました: %w", err)
	}

	c, err := NewContainerWithDB(ctx, cfg, db, opts...)
	if err != nil {
		_ = db.Close(ctx)
		return nil, err
	}
	return c, nil
}

// NewContainerWithDB は既存の Database を受け取りコンテナを生成する。
// 設定されたコレクションのスキーマを作成・検証し、失敗した場合はエラーを返す。
func NewContainerWithDB(ctx context.Context, cfg *config.Config, db *database.Database, opts ...ContainerOption) (*ServiceContainer, error) {
	options := containerOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	coll, err := collection.New(cfg.Collection.Name, cfg.Collection.Dimension)
	if err != nil {
		return nil, err
	}

	// Embedder (OpenAI)
	embedder := options.embedder
	if embedder == nil {
		embedder, err = newEmbedder(cfg)
		if err != nil {
			return nil, fmt.Errorf("Embedder 初期化に失敗しました: %w", err)
		}
	}

	// TokenCounter (tiktoken)。読み込めない場合は文字数からの概算にフォールバックする
	tokenCounter := options.tokenCounter
	if tokenCounter == nil {
		counter, err := tokenizer.NewTokenCounter(tokenizer.DefaultEncoding)
		if err != nil {
			options.logger.Warn("トークナイザを読み込めないため概算を使用します", "error", err)
		} else {
			tokenCounter = counter
		}
	}

	splitter, err := chunk.NewRecursiveSplitter(cfg.Chunking.Size, cfg.Chunking.Overlap)
	if err != nil {
		return nil, fmt.Errorf("Splitter 初期化に失敗しました: %w", err)
	}

	// Repository (PostgreSQL)
	schemaManager := postgres.NewSchemaManager(db, options.logger)
	chunkRepo := postgres.NewChunkRepository(db)
	searchRepo := postgres.NewSearchRepository(db)

	if !options.skipSchema {
		if err := schemaManager.EnsureSchema(ctx, coll); err != nil {
			return nil, fmt.Errorf("スキーマの準備に失敗しました: %w", err)
		}
	}

	ingestOpts := []ingestion.IngestServiceOption{
		ingestion.WithIngestLogger(options.logger),
		ingestion.WithIngestPipelineConfig(&ingestion.PipelineConfig{
			EmbeddingWorkerCount: cfg.Embedding.Workers,
			EmbeddingBatchSize:   cfg.Embedding.BatchSize,
			EmbeddingBatchTokens: cfg.Embedding.BatchTokens,
		}),
	}
	if tokenCounter != nil {
		ingestOpts = append(ingestOpts, ingestion.WithIngestTokenCounter(tokenCounter))
	}
	ingestService := ingestion.NewIngestService(schemaManager, chunkRepo, embedder, splitter, ingestOpts...)

	searchService := search.NewSearchService(searchRepo, embedder, coll, search.WithSearchLogger(options.logger))

	return &ServiceContainer{
		IngestService: ingestService,
		SearchService: searchService,
		schema:        schemaManager,
		stats:         chunkRepo,
		collection:    coll,
		cfg:           cfg,
		logger:        options.logger,
		database:      db,
	}, nil
}

// newEmbedder は設定から OpenAI Embedder を作成し、必要ならクエリキャッシュで包む
func newEmbedder(cfg *config.Config) (openai.BatchEmbedder, error) {
	embedder := openai.NewEmbedder(
		cfg.Embedding.APIKey,
		openai.WithEmbeddingModel(cfg.Embedding.Model),
		openai.WithEmbeddingDimension(cfg.Collection.Dimension),
		openai.WithBaseURL(cfg.Embedding.BaseURL),
		openai.WithMaxRetries(cfg.Embedding.MaxRetries),
		openai.WithRequestTimeout(cfg.Embedding.RequestTimeout),
		openai.WithSendDimensions(cfg.Embedding.SendDimensions),
	)
	if cfg.Embedding.CacheSize <= 0 {
		return embedder, nil
	}
	return openai.NewCachedEmbedder(embedder, cfg.Embedding.CacheSize)
}

// Ingest はコレクションの内容をドキュメント群で全件置き換える。
// collectionName が空、dimension が0の場合は設定値を使う。
func (c *ServiceContainer) Ingest(ctx context.Context, collectionName string, dimension int, docs []ingestion.Document) (*ingestion.IngestResult, error) {
	coll, err := c.resolveCollection(collectionName, dimension)
	if err != nil {
		return nil, err
	}

	ctx, cancel := withOptionalTimeout(ctx, c.cfg.Ingest.Timeout)
	defer cancel()

	return c.IngestService.Ingest(ctx, coll, docs)
}

// HybridSearch は設定されたコレクションをハイブリッド検索する
func (c *ServiceContainer) HybridSearch(ctx context.Context, queryText string, k int) ([]search.ResultItem, error) {
	ctx, cancel := withOptionalTimeout(ctx, c.cfg.Search.Timeout)
	defer cancel()

	return c.SearchService.HybridSearch(ctx, queryText, k)
}

// HybridSearchDetailed はチャネルごとの件数や縮退状態を含む検索結果を返す
func (c *ServiceContainer) HybridSearchDetailed(ctx context.Context, queryText string, k int) (*search.SearchResult, error) {
	ctx, cancel := withOptionalTimeout(ctx, c.cfg.Search.Timeout)
	defer cancel()

	return c.SearchService.HybridSearchDetailed(ctx, queryText, k)
}

// EnsureSchema は指定コレクションのスキーマを作成・検証する
func (c *ServiceContainer) EnsureSchema(ctx context.Context, collectionName string, dimension int) (collection.Collection, error) {
	coll, err := c.resolveCollection(collectionName, dimension)
	if err != nil {
		return collection.Collection{}, err
	}
	if err := c.schema.EnsureSchema(ctx, coll); err != nil {
		return collection.Collection{}, err
	}
	return coll, nil
}

// Stats はコレクションの統計情報を返す
func (c *ServiceContainer) Stats(ctx context.Context, collectionName string) (*postgres.CollectionStats, error) {
	coll, err := c.resolveCollection(collectionName, 0)
	if err != nil {
		return nil, err
	}
	return c.stats.Stats(ctx, coll)
}

// Collection は検索対象のコレクションを返す
func (c *ServiceContainer) Collection() collection.Collection {
	return c.collection
}

// Config は設定を返す
func (c *ServiceContainer) Config() *config.Config {
	return c.cfg
}

// Close は内部リソースを解放する。複数回呼び出しても安全
// 接続プールは Shutdown.PoolGrace 以内に閉じ、超えた場合は database.ErrCloseTimeout を返す
func (c *ServiceContainer) Close(ctx context.Context) error {
	if c == nil || c.database == nil {
		return nil
	}

	ctx, cancel := withOptionalTimeout(ctx, c.cfg.Shutdown.PoolGrace)
	defer cancel()

	if err := c.database.Close(ctx); err != nil {
		c.Logger().Warn("接続プールのクローズがタイムアウトしました", "error", err)
		return err
	}
	return nil
}

// Logger はロガーを返す。
func (c *ServiceContainer) Logger() *slog.Logger {
	if c == nil || c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

// Database はデータベースを返す。
func (c *ServiceContainer) Database() *database.Database {
	if c == nil {
		return nil
	}
	return c.database
}

func (c *ServiceContainer) resolveCollection(name string, dimension int) (collection.Collection, error) {
	if name == "" {
		name = c.collection.Name
	}
	if dimension == 0 {
		dimension = c.collection.Dimension
	}
	return collection.New(name, dimension)
}

// withOptionalTimeout は d > 0 のときだけ期限付きのコンテキストを返す
func withOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
