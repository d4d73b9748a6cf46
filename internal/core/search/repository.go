package search

import (
	"context"

	"github.com/jinford/hybrid-rag/internal/core/collection"
)

// Repository は検索チャネルのデータアクセスを統合するインターフェース
// テスト時のモック用に消費者側で定義
type Repository interface {
	// SearchByVector はコサイン距離の昇順で上位 k 件を返す
	SearchByVector(ctx context.Context, coll collection.Collection, queryVector []float32, k int) ([]*Candidate, error)

	// SearchByText は全文検索スコアの降順で上位 k 件を返す
	SearchByText(ctx context.Context, coll collection.Collection, queryText string, k int) ([]*Candidate, error)
}

// Embedder はテキストのEmbedding生成インターフェース
type Embedder interface {
	// Embed は単一テキストのEmbeddingを生成する
	Embed(ctx context.Context, text string) ([]float32, error)
}
