package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jinford/hybrid-rag/internal/core/collection"
)

// PostgreSQL のエラーコード
const (
	pgCodeUndefinedTable  = "42P01"
	pgCodeUndefinedObject = "42704"
)

// IsUndefinedTable はテーブルが存在しないエラーかどうかを判定します
func IsUndefinedTable(err error) bool {
	return pgErrorCode(err) == pgCodeUndefinedTable
}

// IsUndefinedObject は型や拡張など未定義オブジェクトのエラーかどうかを判定します
func IsUndefinedObject(err error) bool {
	return pgErrorCode(err) == pgCodeUndefinedObject
}

// classify はスキーマ不備に起因するエラーを ErrSchema として分類します
func classify(err error) error {
	if IsUndefinedTable(err) || IsUndefinedObject(err) {
		return collection.Wrap(collection.ErrSchema, err)
	}
	return err
}

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
