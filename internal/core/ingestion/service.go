package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/jinford/hybrid-rag/internal/core/collection"
	"github.com/jinford/hybrid-rag/internal/core/ingestion/chunk"
)

// チャンクごとに付与するメタデータキー
const (
	MetadataKeyChunkIndex = "chunk_index"
	MetadataKeyTokenCount = "token_count"
)

// IngestResult はインジェスト処理の結果を表す
type IngestResult struct {
	Collection    string
	Documents     int
	ChunksWritten int
	Batches       int
	Cleared       bool  // 既存チャンクを削除したか
	Deleted       int64 // 削除した既存チャンク数
	Duration      time.Duration
}

// IngestError はインジェストが途中で失敗したことを表す
// 削除後に失敗した場合、コレクションは部分的に投入された状態のまま残る
type IngestError struct {
	ChunksWritten int
	Cleared       bool
	FailedSources []string // 1つ以上のチャンクが保存されなかったソース
	Err           error
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("インジェストに失敗 (written=%d, cleared=%t, failedSources=%d): %v",
		e.ChunksWritten, e.Cleared, len(e.FailedSources), e.Err)
}

func (e *IngestError) Unwrap() error {
	return e.Err
}

// IngestService はドキュメントのチャンク化・Embedding生成・全件洗い替えを行う
type IngestService struct {
	schema         SchemaManager
	repository     Repository
	embedder       Embedder
	splitter       *chunk.RecursiveSplitter
	tokenCounter   TokenCounter
	pipelineConfig *PipelineConfig
	logger         *slog.Logger
	now            func() time.Time
}

type ingestServiceOptions struct {
	tokenCounter   TokenCounter
	pipelineConfig *PipelineConfig
	logger         *slog.Logger
	now            func() time.Time
}

// IngestServiceOption は IngestService のオプション設定
type IngestServiceOption func(*ingestServiceOptions)

// WithIngestLogger は IngestService にロガーを設定する
func WithIngestLogger(logger *slog.Logger) IngestServiceOption {
	return func(o *ingestServiceOptions) {
		o.logger = logger
	}
}

// WithIngestTokenCounter はトークン数の計算方法を設定する
func WithIngestTokenCounter(counter TokenCounter) IngestServiceOption {
	return func(o *ingestServiceOptions) {
		o.tokenCounter = counter
	}
}

// WithIngestPipelineConfig はバッチ設定を上書きする
func WithIngestPipelineConfig(cfg *PipelineConfig) IngestServiceOption {
	return func(o *ingestServiceOptions) {
		o.pipelineConfig = cfg
	}
}

// WithIngestClock は loaded_at に使う時刻の取得方法を差し替える
func WithIngestClock(now func() time.Time) IngestServiceOption {
	return func(o *ingestServiceOptions) {
		o.now = now
	}
}

// NewIngestService は新しいIngestServiceを作成する
func NewIngestService(
	schema SchemaManager,
	repo Repository,
	embedder Embedder,
	splitter *chunk.RecursiveSplitter,
	opts ...IngestServiceOption,
) *IngestService {
	options := ingestServiceOptions{
		pipelineConfig: DefaultPipelineConfig(),
		logger:         slog.Default(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	if options.pipelineConfig == nil {
		options.pipelineConfig = DefaultPipelineConfig()
	}
	if options.now == nil {
		options.now = time.Now
	}

	return &IngestService{
		schema:         schema,
		repository:     repo,
		embedder:       embedder,
		splitter:       splitter,
		tokenCounter:   options.tokenCounter,
		pipelineConfig: options.pipelineConfig,
		logger:         options.logger,
		now:            options.now,
	}
}

// Ingest はコレクションの内容をドキュメント群で全件置き換える
func (s *IngestService) Ingest(ctx context.Context, coll collection.Collection, docs []Document) (*IngestResult, error) {
	startTime := time.Now()

	s.logger.Info("インジェストを開始",
		"collection", coll.Name,
		"dimension", coll.Dimension,
		"documents", len(docs),
		"model", s.embedder.ModelName(),
	)

	if err := s.validate(coll, docs); err != nil {
		return nil, fmt.Errorf("パラメータのバリデーションエラー: %w", err)
	}

	if err := s.schema.EnsureSchema(ctx, coll); err != nil {
		return nil, fmt.Errorf("スキーマの準備に失敗: %w", collection.Wrap(collection.ErrSchema, err))
	}

	// 削除より前にチャンク化を終える（ここで失敗してもコレクションは無傷）
	items := s.buildChunks(docs)

	s.logger.Info("チャンク化が完了",
		"documents", len(docs),
		"chunks", len(items),
	)

	deleted, err := s.repository.DeleteAll(ctx, coll)
	if err != nil {
		return nil, &IngestError{
			Err: collection.Wrap(collection.ErrPersistence, fmt.Errorf("既存チャンクの削除に失敗: %w", err)),
		}
	}

	s.logger.Info("既存チャンクを削除。再投入が完了するまで検索結果が欠ける可能性があります",
		"collection", coll.Name,
		"deleted", deleted,
	)

	result := &IngestResult{
		Collection: coll.Name,
		Documents:  len(docs),
		Cleared:    true,
		Deleted:    deleted,
	}

	if len(items) == 0 {
		result.Duration = time.Since(startTime)
		s.logger.Info("投入するチャンクがありません", "collection", coll.Name)
		return result, nil
	}

	pipeline := newBatchPipeline(s.repository, s.embedder, s.pipelineConfig, s.logger)
	stats, err := pipeline.run(ctx, coll, items)
	if err != nil {
		ingestErr := &IngestError{
			ChunksWritten: stats.Written,
			Cleared:       true,
			FailedSources: failedSources(items, stats),
			Err:           err,
		}
		s.logger.Error("インジェストが途中で失敗",
			"collection", coll.Name,
			"written", ingestErr.ChunksWritten,
			"total", len(items),
			"failedSources", ingestErr.FailedSources,
			"error", err,
		)
		return nil, ingestErr
	}

	result.ChunksWritten = stats.Written
	result.Batches = stats.Batches
	result.Duration = time.Since(startTime)

	s.logger.Info("インジェストが完了",
		"collection", coll.Name,
		"chunks", result.ChunksWritten,
		"batches", result.Batches,
		"duration", result.Duration,
	)

	return result, nil
}

// validate は入力パラメータを検証する
func (s *IngestService) validate(coll collection.Collection, docs []Document) error {
	if _, err := collection.New(coll.Name, coll.Dimension); err != nil {
		return err
	}
	if dim := s.embedder.Dimension(); dim > 0 && dim != coll.Dimension {
		return fmt.Errorf("%w: embedder dimension %d does not match collection dimension %d",
			collection.ErrInvalidArgument, dim, coll.Dimension)
	}
	if s.splitter == nil {
		return fmt.Errorf("%w: splitter is required", collection.ErrInvalidArgument)
	}
	for i, doc := range docs {
		if strings.TrimSpace(doc.Source) == "" {
			return fmt.Errorf("%w: document %d has no source", collection.ErrInvalidArgument, i)
		}
	}
	return nil
}

// buildChunks は全ドキュメントをチャンク化し、メタデータを付与する
func (s *IngestService) buildChunks(docs []Document) []pendingChunk {
	loadedAt := s.now().UTC()

	var items []pendingChunk
	for _, doc := range docs {
		title := doc.Title
		if title == "" {
			title = DeriveTitle(doc.Source)
		}

		pieces := s.splitter.Split(doc.Content)
		if len(pieces) == 0 {
			s.logger.Debug("空のドキュメントをスキップ", "source", doc.Source)
			continue
		}

		for i, content := range pieces {
			tokens := s.countTokens(content)

			extra := make(map[string]any, len(doc.Extra)+2)
			for k, v := range doc.Extra {
				extra[k] = v
			}
			extra[MetadataKeyChunkIndex] = i
			extra[MetadataKeyTokenCount] = tokens

			items = append(items, pendingChunk{
				chunk: &collection.Chunk{
					Content: content,
					Metadata: collection.Metadata{
						Source:   doc.Source,
						Title:    title,
						LoadedAt: loadedAt,
						Extra:    extra,
					},
				},
				tokens: tokens,
			})
		}
	}
	return items
}

func (s *IngestService) countTokens(text string) int {
	if s.tokenCounter != nil {
		return s.tokenCounter.CountTokens(text)
	}
	return estimateTokens(text)
}

// DeriveTitle はソース名からタイトルを導出する（拡張子を除き、_ と - を空白にする）
func DeriveTitle(source string) string {
	base := filepath.Base(strings.TrimRight(source, "/"))
	if base == "." || base == "/" {
		return source
	}
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.NewReplacer("_", " ", "-", " ").Replace(base)
	return strings.TrimSpace(base)
}

// failedSources は保存されなかったチャンクを1つ以上含むソースを入力順で返す
func failedSources(items []pendingChunk, stats *pipelineStats) []string {
	if stats == nil {
		return nil
	}

	seen := make(map[string]struct{})
	var sources []string
	for i, b := range stats.batches {
		if stats.persisted[i] {
			continue
		}
		for _, it := range items[b[0]:b[1]] {
			src := it.chunk.Metadata.Source
			if _, ok := seen[src]; ok {
				continue
			}
			seen[src] = struct{}{}
			sources = append(sources, src)
		}
	}
	return sources
}

// IsIngestError は err が IngestError を含む場合にそれを返す
func IsIngestError(err error) (*IngestError, bool) {
	var ingestErr *IngestError
	if errors.As(err, &ingestErr) {
		return ingestErr, true
	}
	return nil, false
}
