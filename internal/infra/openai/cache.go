package openai

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jinford/hybrid-rag/internal/core/ingestion"
	"github.com/jinford/hybrid-rag/internal/core/search"
)

// DefaultQueryCacheSize はクエリ Embedding キャッシュのデフォルト件数
const DefaultQueryCacheSize = 512

// BatchEmbedder は CachedEmbedder が包む Embedder
type BatchEmbedder interface {
	ingestion.Embedder
	search.Embedder
}

// CachedEmbedder は単一テキストの Embedding を LRU でキャッシュする
// 同じ質問が繰り返される検索で API 呼び出しを減らす。BatchEmbed はキャッシュしない
type CachedEmbedder struct {
	BatchEmbedder
	cache *lru.Cache[string, []float32]
}

// NewCachedEmbedder は新しい CachedEmbedder を作成する
func NewCachedEmbedder(inner BatchEmbedder, size int) (*CachedEmbedder, error) {
	if size <= 0 {
		size = DefaultQueryCacheSize
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	return &CachedEmbedder{BatchEmbedder: inner, cache: cache}, nil
}

// Embed はキャッシュにあればそれを返し、無ければ生成して保存する
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		return clone(v), nil
	}

	v, err := c.BatchEmbedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(text, clone(v))
	return v, nil
}

// Len はキャッシュ件数を返す
func (c *CachedEmbedder) Len() int {
	return c.cache.Len()
}

func clone(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
