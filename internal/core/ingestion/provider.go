package ingestion

import (
	"context"
)

// Document はインジェスト対象の1ドキュメントを表す
type Document struct {
	Source  string         // ドキュメントの識別子（ファイルパスやURL）
	Title   string         // タイトル（空の場合は Source から導出する）
	Content string         // 本文
	Extra   map[string]any // 全チャンクのメタデータに付与する追加キー
}

// Embedder はテキストのEmbedding生成インターフェース
// テスト時のモック用に消費者側で定義
type Embedder interface {
	// BatchEmbed は複数テキストのEmbeddingを入力順に生成する
	BatchEmbed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension はEmbeddingの次元数を返す（不明な場合は0）
	Dimension() int

	// MaxBatchSize は1リクエストで処理可能な最大テキスト数を返す
	MaxBatchSize() int

	// ModelName はモデル名を返す
	ModelName() string
}

// TokenCounter はテキストのトークン数を数えるインターフェース
type TokenCounter interface {
	CountTokens(text string) int
}

// DocumentLoader はソースからドキュメント一覧を取得するインターフェース
// ファイルシステム、Gitリポジトリなど複数のソースに対応するための拡張ポイント
type DocumentLoader interface {
	// Load はドキュメント一覧を取得する
	Load(ctx context.Context) ([]Document, error)
}
