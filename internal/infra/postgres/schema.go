package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/jinford/hybrid-rag/internal/core/collection"
	"github.com/jinford/hybrid-rag/internal/core/ingestion"
	"github.com/jinford/hybrid-rag/internal/platform/database"
)

// schemaLockNamespace はスキーマ作成用アドバイザリロックの名前空間
const schemaLockNamespace = "hybrid-rag:schema"

// searchDocumentExpr は全文検索の対象（本文とタイトルの連結）
const searchDocumentExpr = "to_tsvector('english', content || ' ' || coalesce(metadata->>'title', ''))"

// SchemaManager はコレクションのテーブルとインデックスを冪等に作成します
type SchemaManager struct {
	db     *database.Database
	logger *slog.Logger
}

var _ ingestion.SchemaManager = (*SchemaManager)(nil)

// NewSchemaManager は新しいSchemaManagerを作成します
func NewSchemaManager(db *database.Database, logger *slog.Logger) *SchemaManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SchemaManager{db: db, logger: logger}
}

// EnsureSchema は拡張・テーブル・インデックスを作成し、embedding 列の次元を検証します
// 同じコレクションに対する並行呼び出しはアドバイザリロックで直列化されます
func (m *SchemaManager) EnsureSchema(ctx context.Context, coll collection.Collection) error {
	if _, err := collection.New(coll.Name, coll.Dimension); err != nil {
		return err
	}

	err := m.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := acquireXactLock(ctx, tx, GenerateLockID(schemaLockNamespace, coll.Name)); err != nil {
			return err
		}

		for _, stmt := range schemaStatements(coll) {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("failed to execute %q: %w", statementHead(stmt), err)
			}
		}

		return verifyDimension(ctx, tx, coll)
	})
	if err != nil {
		return collection.Wrap(collection.ErrSchema, err)
	}

	m.logger.Info("スキーマを確認しました",
		"collection", coll.Name,
		"dimension", coll.Dimension,
		"distance", coll.Distance(),
	)
	return nil
}

// schemaStatements はコレクションのDDLを実行順に返します
func schemaStatements(coll collection.Collection) []string {
	table := tableIdent(coll)

	return []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	content TEXT NOT NULL DEFAULT '',
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	embedding VECTOR(%d) NOT NULL
)`, table, coll.Dimension),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_cosine_ops)",
			indexIdent(coll, "embedding_idx"), table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING gin (to_tsvector('english', content))",
			indexIdent(coll, "content_fts_idx"), table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING gin (to_tsvector('english', metadata->>'title'))",
			indexIdent(coll, "metadata_fts_idx"), table),
		// 全文検索チャネルのクエリ式と同じ式のインデックス
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING gin (%s)",
			indexIdent(coll, "search_fts_idx"), table, searchDocumentExpr),
	}
}

// rowQuerier は1行を返すクエリを実行できるもの（pgx.Tx, *pgxpool.Conn など）
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// verifyDimension は既存テーブルの embedding 列の次元が設定と一致するかを検証します
// pgvector は次元を atttypmod に保持します
func verifyDimension(ctx context.Context, q rowQuerier, coll collection.Collection) error {
	const query = `SELECT a.atttypmod
FROM pg_attribute a
WHERE a.attrelid = $1::regclass
  AND a.attname = 'embedding'
  AND NOT a.attisdropped`

	var typmod int32
	if err := q.QueryRow(ctx, query, tableIdent(coll)).Scan(&typmod); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: table %s has no embedding column", collection.ErrSchema, coll.Name)
		}
		return fmt.Errorf("failed to inspect embedding column: %w", err)
	}

	if int(typmod) != coll.Dimension {
		return fmt.Errorf("%w: table %s stores vectors of dimension %d, configured dimension is %d",
			collection.ErrSchema, coll.Name, typmod, coll.Dimension)
	}
	return nil
}

// statementHead はエラーメッセージ用にDDLの1行目を返します
func statementHead(stmt string) string {
	head, _, _ := strings.Cut(stmt, "\n")
	return strings.TrimSpace(strings.TrimSuffix(head, "("))
}
