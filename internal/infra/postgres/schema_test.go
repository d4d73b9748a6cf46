package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/hybrid-rag/internal/core/collection"
)

func TestSchemaStatements(t *testing.T) {
	coll := collection.Collection{Name: "documents", Dimension: 384}
	stmts := schemaStatements(coll)
	require.Len(t, stmts, 6)

	assert.Equal(t, "CREATE EXTENSION IF NOT EXISTS vector", stmts[0])
	assert.Contains(t, stmts[1], `CREATE TABLE IF NOT EXISTS "documents"`)
	assert.Contains(t, stmts[1], "embedding VECTOR(384) NOT NULL")
	assert.Contains(t, stmts[1], "DEFAULT gen_random_uuid()")
	assert.Equal(t, `CREATE INDEX IF NOT EXISTS "documents_embedding_idx" ON "documents" USING hnsw (embedding vector_cosine_ops)`, stmts[2])
	assert.Equal(t, `CREATE INDEX IF NOT EXISTS "documents_content_fts_idx" ON "documents" USING gin (to_tsvector('english', content))`, stmts[3])
	assert.Equal(t, `CREATE INDEX IF NOT EXISTS "documents_metadata_fts_idx" ON "documents" USING gin (to_tsvector('english', metadata->>'title'))`, stmts[4])
	assert.Contains(t, stmts[5], searchDocumentExpr)

	// 全ての DDL は冪等
	for _, stmt := range stmts {
		assert.Contains(t, stmt, "IF NOT EXISTS")
	}
}

func TestSchemaStatements_IndexNamesFitIdentifierLimit(t *testing.T) {
	coll := collection.Collection{Name: strings.Repeat("a", collection.MaxNameLength), Dimension: 8}
	require.NoError(t, collection.ValidateName(coll.Name))

	for _, suffix := range []string{"embedding_idx", "content_fts_idx", "metadata_fts_idx", "search_fts_idx"} {
		assert.LessOrEqual(t, len(coll.Name+"_"+suffix), 63, suffix)
	}
}

func TestStatementHead(t *testing.T) {
	stmts := schemaStatements(collection.Collection{Name: "docs", Dimension: 3})
	assert.Equal(t, `CREATE TABLE IF NOT EXISTS "docs"`, statementHead(stmts[1]))
	assert.Equal(t, "CREATE EXTENSION IF NOT EXISTS vector", statementHead(stmts[0]))
}

// fakeRow は Scan の結果を固定する pgx.Row
type fakeRow struct {
	typmod int32
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*int32)) = r.typmod
	return nil
}

type fakeQuerier struct {
	row  fakeRow
	args []any
}

func (q *fakeQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	q.args = args
	return q.row
}

func TestVerifyDimension(t *testing.T) {
	coll := collection.Collection{Name: "documents", Dimension: 384}

	tests := []struct {
		name          string
		row           fakeRow
		wantErr       bool
		wantSchemaErr bool
	}{
		{name: "次元が一致", row: fakeRow{typmod: 384}},
		{name: "次元が不一致", row: fakeRow{typmod: 1536}, wantErr: true, wantSchemaErr: true},
		{name: "embedding列が無い", row: fakeRow{err: pgx.ErrNoRows}, wantErr: true, wantSchemaErr: true},
		{name: "問い合わせ失敗", row: fakeRow{err: errors.New("conn reset")}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &fakeQuerier{row: tt.row}
			err := verifyDimension(context.Background(), q, coll)
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, []any{`"documents"`}, q.args)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantSchemaErr, errors.Is(err, collection.ErrSchema))
		})
	}
}

func TestGenerateLockID(t *testing.T) {
	a := GenerateLockID(schemaLockNamespace, "documents")
	b := GenerateLockID(schemaLockNamespace, "documents")
	c := GenerateLockID(schemaLockNamespace, "other")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestClassify(t *testing.T) {
	undefined := &pgconn.PgError{Code: pgCodeUndefinedTable, Message: `relation "documents" does not exist`}
	assert.ErrorIs(t, classify(undefined), collection.ErrSchema)
	assert.True(t, IsUndefinedTable(errors.Join(errors.New("context"), undefined)))

	other := &pgconn.PgError{Code: "23505"}
	assert.NotErrorIs(t, classify(other), collection.ErrSchema)
	assert.False(t, IsUndefinedObject(errors.New("plain")))
}

func TestEfSearch(t *testing.T) {
	assert.Equal(t, 40, efSearch(1))
	assert.Equal(t, 40, efSearch(40))
	assert.Equal(t, 100, efSearch(100))
	assert.Equal(t, 1000, efSearch(5000))
}

func TestMetadataJSONB(t *testing.T) {
	meta := collection.Metadata{Source: "a.txt", Title: "a", Extra: map[string]any{"chunk_index": 2}}
	b, err := metadataToJSONB(meta)
	require.NoError(t, err)

	got, err := metadataFromJSONB(b)
	require.NoError(t, err)
	assert.Equal(t, "a.txt", got.Source)
	assert.Equal(t, float64(2), got.Extra["chunk_index"])

	empty, err := metadataFromJSONB(nil)
	require.NoError(t, err)
	assert.Equal(t, collection.Metadata{}, empty)
}
