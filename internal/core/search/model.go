package search

import (
	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/jinford/hybrid-rag/internal/core/collection"
)

// Candidate は1チャネルが返す検索候補を表す
// Score はベクトルチャネルでは類似度（1 - 距離/2）、全文検索チャネルでは ts_rank_cd
type Candidate struct {
	ID       uuid.UUID
	Content  string
	Metadata collection.Metadata
	Score    float64
}

// ResultItem はハイブリッド検索の結果1件を表す
// チャネルごとのスコアと順位（1始まり）は、そのチャネルに出現した場合のみ存在する
type ResultItem struct {
	ID           uuid.UUID           `json:"id"`
	Content      string              `json:"content"`
	Metadata     collection.Metadata `json:"metadata"`
	VectorScore  mo.Option[float64]  `json:"vectorScore"`
	LexicalScore mo.Option[float64]  `json:"lexicalScore"`
	VectorRank   mo.Option[int]      `json:"vectorRank"`
	LexicalRank  mo.Option[int]      `json:"lexicalRank"`
	FusedScore   float64             `json:"fusedScore"`
}

// SearchResult はハイブリッド検索の結果と各チャネルの状況を表す
type SearchResult struct {
	Items []ResultItem

	VectorHits  int
	LexicalHits int

	// LexicalDegraded は全文検索チャネルが失敗し、ベクトル検索のみで結果を返したことを示す
	LexicalDegraded bool
	LexicalErr      error

	// CollectionEmpty はベクトル検索が1件も返さなかったこと（コレクションが空）を示す
	// 全件洗い替えの途中で検索した場合にも起こりうる
	CollectionEmpty bool
}
