package collection

import (
	"errors"
	"fmt"
)

// エラー分類。呼び出し側は errors.Is で種別を判定する
var (
	// ErrSchema はスキーマ（拡張・テーブル・インデックス）の作成や検証に失敗したことを示す
	ErrSchema = errors.New("schema error")

	// ErrConnection はコネクションプールの枯渇や接続断を示す
	ErrConnection = errors.New("connection error")

	// ErrVectorChannel はベクトル検索チャネル（クエリのEmbedding生成を含む）の失敗を示す
	ErrVectorChannel = errors.New("vector channel error")

	// ErrLexicalChannel は全文検索チャネルの失敗を示す（検索全体は縮退して継続する）
	ErrLexicalChannel = errors.New("lexical channel error")

	// ErrEmbeddingProvider はインデックス化中の Embedding プロバイダの失敗を示す
	ErrEmbeddingProvider = errors.New("embedding provider error")

	// ErrPersistence はチャンクの永続化に失敗したことを示す
	ErrPersistence = errors.New("persistence error")

	// ErrInvalidArgument は不正な入力パラメータを示す
	ErrInvalidArgument = errors.New("invalid argument")
)

// Wrap は err を kind で分類する。既に kind を含む場合はそのまま返す
func Wrap(kind, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}
