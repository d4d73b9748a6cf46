package ingestion

import (
	"context"

	"github.com/jinford/hybrid-rag/internal/core/collection"
)

// SchemaManager はコレクションのスキーマを冪等に用意するインターフェース
type SchemaManager interface {
	// EnsureSchema は拡張・テーブル・インデックスを作成し、次元を検証する
	EnsureSchema(ctx context.Context, coll collection.Collection) error
}

// Repository はチャンクの書き込みを行うインターフェース
// テスト時のモック用に消費者側で定義
type Repository interface {
	// DeleteAll はコレクションの全チャンクを削除し、削除件数を返す
	DeleteAll(ctx context.Context, coll collection.Collection) (int64, error)

	// InsertChunks はチャンクを1トランザクションで挿入する
	InsertChunks(ctx context.Context, coll collection.Collection, chunks []*collection.Chunk) error
}
