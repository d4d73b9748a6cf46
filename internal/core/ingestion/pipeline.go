package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/jinford/hybrid-rag/internal/core/collection"
)

const (
	// DefaultEmbeddingWorkerCount はデフォルトの並行バッチ数（I/O バウンド）
	DefaultEmbeddingWorkerCount = 4
	// DefaultEmbeddingBatchSize はEmbedding APIのデフォルトバッチサイズ
	DefaultEmbeddingBatchSize = 100
	// DefaultEmbeddingBatchTokens は1バッチあたりのトークン上限のデフォルト値
	DefaultEmbeddingBatchTokens = 250000
	// MinBatchSize は最小バッチサイズ（MaxBatchSize()が0を返した場合のフォールバック）
	MinBatchSize = 1
)

// PipelineConfig はバッチ処理の設定
type PipelineConfig struct {
	// EmbeddingWorkerCount は同時に処理するバッチ数
	EmbeddingWorkerCount int
	// EmbeddingBatchSize はEmbeddingバッチサイズ（Embedder.MaxBatchSize()でクリップされる）
	EmbeddingBatchSize int
	// EmbeddingBatchTokens は1バッチあたりのトークン上限
	EmbeddingBatchTokens int
}

// DefaultPipelineConfig はデフォルトのパイプライン設定を返す
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		EmbeddingWorkerCount: DefaultEmbeddingWorkerCount,
		EmbeddingBatchSize:   DefaultEmbeddingBatchSize,
		EmbeddingBatchTokens: DefaultEmbeddingBatchTokens,
	}
}

// pendingChunk は Embedding 待ちのチャンク
type pendingChunk struct {
	chunk  *collection.Chunk
	tokens int
}

// batchPipeline はバッチ単位で Embedding 生成と書き込みを行う
type batchPipeline struct {
	repository Repository
	embedder   Embedder
	config     *PipelineConfig
	logger     *slog.Logger

	// 実際に使用するバッチサイズ（Embedder.MaxBatchSize()でクリップ済み）
	effectiveBatchSize int
}

func newBatchPipeline(repository Repository, embedder Embedder, config *PipelineConfig, logger *slog.Logger) *batchPipeline {
	if config == nil {
		config = DefaultPipelineConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	effectiveBatchSize := config.EmbeddingBatchSize
	maxBatchSize := embedder.MaxBatchSize()

	if maxBatchSize <= 0 {
		logger.Warn("Embedder.MaxBatchSize()が無効な値を返しました。フォールバック値を使用します",
			"returned", maxBatchSize,
			"fallback", MinBatchSize,
		)
		maxBatchSize = MinBatchSize
	}

	if effectiveBatchSize > maxBatchSize {
		logger.Info("EmbeddingBatchSizeをEmbedderの最大値でクリップ",
			"configured", effectiveBatchSize,
			"max", maxBatchSize,
		)
		effectiveBatchSize = maxBatchSize
	}

	if effectiveBatchSize <= 0 {
		effectiveBatchSize = MinBatchSize
	}

	return &batchPipeline{
		repository:         repository,
		embedder:           embedder,
		config:             config,
		logger:             logger,
		effectiveBatchSize: effectiveBatchSize,
	}
}

// pipelineStats はバッチ処理の結果
type pipelineStats struct {
	Batches int
	Written int
	// persisted[i] はバッチ i の書き込みが完了したかどうか
	persisted []bool
	batches   [][2]int
}

// run は全チャンクをバッチに分けて Embedding 生成・検証・挿入する
// いずれかのバッチが失敗した時点で残りのバッチは開始しない
func (p *batchPipeline) run(ctx context.Context, coll collection.Collection, items []pendingChunk) (*pipelineStats, error) {
	tokens := make([]int, len(items))
	for i, it := range items {
		tokens[i] = it.tokens
	}

	planner := BatchPlanner{MaxItems: p.effectiveBatchSize, MaxTokens: p.config.EmbeddingBatchTokens}
	batches := planner.Plan(tokens)

	stats := &pipelineStats{
		Batches:   len(batches),
		persisted: make([]bool, len(batches)),
		batches:   batches,
	}

	workers := p.config.EmbeddingWorkerCount
	if workers <= 0 {
		workers = 1
	}

	var written atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, b := range batches {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := p.processBatch(gctx, coll, items[b[0]:b[1]]); err != nil {
				p.logger.Error("バッチ処理に失敗",
					"batch", i,
					"size", b[1]-b[0],
					"error", err,
				)
				return err
			}
			stats.persisted[i] = true
			written.Add(int64(b[1] - b[0]))
			p.logger.Debug("バッチを書き込み", "batch", i, "size", b[1]-b[0])
			return nil
		})
	}

	err := g.Wait()
	stats.Written = int(written.Load())
	return stats, err
}

// processBatch は1バッチ分の Embedding 生成・検証・挿入を行う
func (p *batchPipeline) processBatch(ctx context.Context, coll collection.Collection, batch []pendingChunk) error {
	texts := make([]string, 0, len(batch))
	for _, it := range batch {
		texts = append(texts, it.chunk.Content)
	}

	vectors, err := p.embedder.BatchEmbed(ctx, texts)
	if err != nil {
		return collection.Wrap(collection.ErrEmbeddingProvider, fmt.Errorf("バッチEmbedding生成に失敗: %w", err))
	}

	if len(vectors) != len(batch) {
		return fmt.Errorf("%w: Embeddingベクトル数が入力と一致しません (expected=%d, actual=%d)",
			collection.ErrEmbeddingProvider, len(batch), len(vectors))
	}

	chunks := make([]*collection.Chunk, 0, len(batch))
	for i, it := range batch {
		if len(vectors[i]) != coll.Dimension {
			return fmt.Errorf("%w: Embeddingの次元がコレクションと一致しません (expected=%d, actual=%d)",
				collection.ErrEmbeddingProvider, coll.Dimension, len(vectors[i]))
		}
		it.chunk.Embedding = vectors[i]
		chunks = append(chunks, it.chunk)
	}

	if err := p.repository.InsertChunks(ctx, coll, chunks); err != nil {
		return collection.Wrap(collection.ErrPersistence, fmt.Errorf("チャンクの挿入に失敗: %w", err))
	}
	return nil
}
