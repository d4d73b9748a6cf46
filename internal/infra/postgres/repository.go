package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/jinford/hybrid-rag/internal/core/collection"
	"github.com/jinford/hybrid-rag/internal/core/ingestion"
	"github.com/jinford/hybrid-rag/internal/platform/database"
)

// ChunkRepository はコレクションテーブルへのチャンクの書き込みを行います
type ChunkRepository struct {
	db *database.Database
}

var _ ingestion.Repository = (*ChunkRepository)(nil)

// NewChunkRepository は新しいChunkRepositoryを作成します
func NewChunkRepository(db *database.Database) *ChunkRepository {
	return &ChunkRepository{db: db}
}

// DeleteAll はコレクションの全チャンクを削除し、削除件数を返します
func (r *ChunkRepository) DeleteAll(ctx context.Context, coll collection.Collection) (int64, error) {
	var deleted int64
	err := r.db.WithConn(ctx, func(conn *pgxpool.Conn) error {
		tag, err := conn.Exec(ctx, fmt.Sprintf("DELETE FROM %s", tableIdent(coll)))
		if err != nil {
			return fmt.Errorf("failed to delete chunks: %w", classify(err))
		}
		deleted = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// InsertChunks はチャンクを1トランザクションで挿入し、採番された ID を各チャンクに設定します
func (r *ChunkRepository) InsertChunks(ctx context.Context, coll collection.Collection, chunks []*collection.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	query := fmt.Sprintf("INSERT INTO %s (content, metadata, embedding) VALUES ($1, $2, $3) RETURNING id", tableIdent(coll))

	batch := &pgx.Batch{}
	for _, c := range chunks {
		if len(c.Embedding) != coll.Dimension {
			return fmt.Errorf("%w: chunk embedding has dimension %d, collection expects %d",
				collection.ErrInvalidArgument, len(c.Embedding), coll.Dimension)
		}
		meta, err := metadataToJSONB(c.Metadata)
		if err != nil {
			return err
		}
		batch.Queue(query, c.Content, string(meta), pgvector.NewVector(c.Embedding))
	}

	ids := make([]pgtype.UUID, len(chunks))
	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		results := tx.SendBatch(ctx, batch)
		for i := range chunks {
			if err := results.QueryRow().Scan(&ids[i]); err != nil {
				_ = results.Close()
				return fmt.Errorf("failed to insert chunk %d: %w", i, classify(err))
			}
		}
		if err := results.Close(); err != nil {
			return fmt.Errorf("failed to close batch: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for i, c := range chunks {
		c.ID = PgtypeToUUID(ids[i])
	}
	return nil
}

// CollectionStats はコレクションの統計情報を表します
type CollectionStats struct {
	Chunks       int64
	Sources      int64
	LastLoadedAt string
}

// Stats はコレクションのチャンク数・ソース数・最終投入時刻を返します
func (r *ChunkRepository) Stats(ctx context.Context, coll collection.Collection) (*CollectionStats, error) {
	query := fmt.Sprintf(`SELECT count(*), count(DISTINCT metadata->>'source'), coalesce(max(metadata->>'loaded_at'), '')
FROM %s`, tableIdent(coll))

	stats := &CollectionStats{}
	err := r.db.WithConn(ctx, func(conn *pgxpool.Conn) error {
		if err := conn.QueryRow(ctx, query).Scan(&stats.Chunks, &stats.Sources, &stats.LastLoadedAt); err != nil {
			return fmt.Errorf("failed to query collection stats: %w", classify(err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}
