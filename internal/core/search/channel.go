package search

import (
	"context"
	"fmt"

	"github.com/jinford/hybrid-rag/internal/core/collection"
)

// vectorChannel はクエリを Embedding してコサイン距離で検索する
// 失敗はハイブリッド検索全体の失敗になる
type vectorChannel struct {
	repo     Repository
	embedder Embedder
}

func (c *vectorChannel) search(ctx context.Context, coll collection.Collection, queryText string, k int) ([]*Candidate, error) {
	queryVector, err := c.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to embed query: %w", collection.ErrVectorChannel, err)
	}
	if len(queryVector) != coll.Dimension {
		return nil, fmt.Errorf("%w: query embedding has dimension %d, collection expects %d",
			collection.ErrVectorChannel, len(queryVector), coll.Dimension)
	}

	hits, err := c.repo.SearchByVector(ctx, coll, queryVector, k)
	if err != nil {
		return nil, collection.Wrap(collection.ErrVectorChannel, err)
	}
	return hits, nil
}

// lexicalChannel は全文検索でランク付けする
// 失敗は呼び出し側で空リストに縮退させる
type lexicalChannel struct {
	repo Repository
}

func (c *lexicalChannel) search(ctx context.Context, coll collection.Collection, queryText string, k int) ([]*Candidate, error) {
	hits, err := c.repo.SearchByText(ctx, coll, queryText, k)
	if err != nil {
		return nil, collection.Wrap(collection.ErrLexicalChannel, err)
	}
	return hits, nil
}
