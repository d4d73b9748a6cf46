package postgres

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/jinford/hybrid-rag/internal/core/collection"
)

// PgtypeToUUID converts pgtype.UUID to uuid.UUID
func PgtypeToUUID(id pgtype.UUID) uuid.UUID {
	if !id.Valid {
		return uuid.Nil
	}
	return id.Bytes
}

// tableIdent はコレクション名を引用符付きのテーブル識別子にする
func tableIdent(coll collection.Collection) string {
	return pgx.Identifier{coll.Name}.Sanitize()
}

// indexIdent はコレクション固有のインデックス識別子を返す
func indexIdent(coll collection.Collection, suffix string) string {
	return pgx.Identifier{coll.Name + "_" + suffix}.Sanitize()
}

// metadataToJSONB はメタデータを JSONB 用のバイト列に変換する
func metadataToJSONB(m collection.Metadata) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return b, nil
}

// metadataFromJSONB は JSONB のバイト列をメタデータに変換する
func metadataFromJSONB(b []byte) (collection.Metadata, error) {
	var m collection.Metadata
	if len(b) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return collection.Metadata{}, err
	}
	return m, nil
}
