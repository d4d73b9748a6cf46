package postgres

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/jinford/hybrid-rag/internal/core/collection"
	"github.com/jinford/hybrid-rag/internal/core/search"
	"github.com/jinford/hybrid-rag/internal/platform/database"
)

const (
	// minEfSearch は pgvector の hnsw.ef_search のデフォルト値
	minEfSearch = 40
	// maxEfSearch は hnsw.ef_search に設定できる上限
	maxEfSearch = 1000
)

// SearchRepository はベクトル検索と全文検索のクエリを実行します
type SearchRepository struct {
	db *database.Database
}

var _ search.Repository = (*SearchRepository)(nil)

// NewSearchRepository は新しいSearchRepositoryを作成します
func NewSearchRepository(db *database.Database) *SearchRepository {
	return &SearchRepository{db: db}
}

// SearchByVector はコサイン距離の昇順で上位 k 件を返します
// Score には類似度 1 - 距離/2 を設定します
func (r *SearchRepository) SearchByVector(ctx context.Context, coll collection.Collection, queryVector []float32, k int) ([]*search.Candidate, error) {
	if k <= 0 {
		return []*search.Candidate{}, nil
	}

	// ORDER BY を距離のみにすることで HNSW インデックスを使わせる
	query := fmt.Sprintf(`SELECT id, content, metadata, (embedding <=> $1)::float8 AS distance
FROM %s
ORDER BY embedding <=> $1
LIMIT $2`, tableIdent(coll))

	var results []*search.Candidate
	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		// 上位 k 件を取りこぼさないよう探索幅を k 以上にする（トランザクション内のみ有効）
		if _, err := tx.Exec(ctx, "SELECT set_config('hnsw.ef_search', $1, true)", strconv.Itoa(efSearch(k))); err != nil {
			return fmt.Errorf("failed to set hnsw.ef_search: %w", err)
		}

		rows, err := tx.Query(ctx, query, pgvector.NewVector(queryVector), k)
		if err != nil {
			return fmt.Errorf("failed to run vector search: %w", classify(err))
		}
		defer rows.Close()

		results, err = scanCandidates(rows, func(distance float64) float64 {
			return 1 - distance/2
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// SearchByText は plainto_tsquery で解釈したクエリに一致するチャンクを ts_rank_cd の降順で返します
func (r *SearchRepository) SearchByText(ctx context.Context, coll collection.Collection, queryText string, k int) ([]*search.Candidate, error) {
	if k <= 0 {
		return []*search.Candidate{}, nil
	}

	query := fmt.Sprintf(`SELECT id, content, metadata, ts_rank_cd(%[2]s, query)::float8 AS score
FROM %[1]s, plainto_tsquery('english', $1) AS query
WHERE %[2]s @@ query
ORDER BY score DESC, id
LIMIT $2`, tableIdent(coll), searchDocumentExpr)

	var results []*search.Candidate
	err := r.db.WithConn(ctx, func(conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, query, queryText, k)
		if err != nil {
			return fmt.Errorf("failed to run full-text search: %w", classify(err))
		}
		defer rows.Close()

		results, err = scanCandidates(rows, func(score float64) float64 { return score })
		return err
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// scanCandidates は (id, content, metadata, score) の行を読み取ります
func scanCandidates(rows pgx.Rows, toScore func(float64) float64) ([]*search.Candidate, error) {
	results := make([]*search.Candidate, 0)
	for rows.Next() {
		var (
			id       pgtype.UUID
			content  string
			metadata []byte
			raw      float64
		)
		if err := rows.Scan(&id, &content, &metadata, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan search row: %w", err)
		}

		meta, err := metadataFromJSONB(metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to decode metadata of chunk %s: %w", PgtypeToUUID(id), err)
		}

		results = append(results, &search.Candidate{
			ID:       PgtypeToUUID(id),
			Content:  content,
			Metadata: meta,
			Score:    toScore(raw),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate search rows: %w", classify(err))
	}
	return results, nil
}

// efSearch は k 件を返すために必要な hnsw.ef_search を返します
func efSearch(k int) int {
	return min(max(minEfSearch, k), maxEfSearch)
}
