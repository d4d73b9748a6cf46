package search

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/google/uuid"
	"github.com/samber/mo"
)

// DefaultRRFConstant は RRF の平滑化定数
const DefaultRRFConstant = 60

// RRFFusion はベクトル検索と全文検索の順位を Reciprocal Rank Fusion で統合する
//
// 順位 r（0始まり）の候補は 1 / (K + r + 1) を受け取り、両方のリストに現れた候補はその和になる。
// 同点は最初に出現した順（ベクトル → 全文検索）を保つ。
type RRFFusion struct {
	K int
}

// NewRRFFusion は K=60 の RRFFusion を作成する
func NewRRFFusion() *RRFFusion {
	return &RRFFusion{K: DefaultRRFConstant}
}

// NewRRFFusionWithK は任意の K で RRFFusion を作成する。k <= 0 なら 60
func NewRRFFusionWithK(k int) *RRFFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &RRFFusion{K: k}
}

// Fuse は2つの順位付きリストを統合し、統合スコアの降順で上位 k 件を返す
func (f *RRFFusion) Fuse(vector, lexical []*Candidate, k int) []ResultItem {
	if k <= 0 || (len(vector) == 0 && len(lexical) == 0) {
		return []ResultItem{}
	}

	items := make([]ResultItem, 0, len(vector)+len(lexical))
	index := make(map[string]int, len(vector)+len(lexical))

	getOrCreate := func(c *Candidate) *ResultItem {
		key := fusionKey(c)
		if i, ok := index[key]; ok {
			return &items[i]
		}
		items = append(items, ResultItem{
			ID:       c.ID,
			Content:  c.Content,
			Metadata: c.Metadata,
		})
		index[key] = len(items) - 1
		return &items[len(items)-1]
	}

	for rank, c := range vector {
		item := getOrCreate(c)
		// 同一リスト内の重複は最上位のみ採用する
		if item.VectorRank.IsPresent() {
			continue
		}
		item.VectorScore = mo.Some(c.Score)
		item.VectorRank = mo.Some(rank + 1)
		item.FusedScore += f.partial(rank)
	}

	for rank, c := range lexical {
		item := getOrCreate(c)
		if item.LexicalRank.IsPresent() {
			continue
		}
		item.LexicalScore = mo.Some(c.Score)
		item.LexicalRank = mo.Some(rank + 1)
		item.FusedScore += f.partial(rank)
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].FusedScore > items[j].FusedScore
	})

	if len(items) > k {
		items = items[:k]
	}
	return items
}

func (f *RRFFusion) partial(rank int) float64 {
	k := f.K
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return 1.0 / float64(k+rank+1)
}

// fusionKey は重複排除に使うキーを返す
// ID が無い候補はこの呼び出しの中でのみ本文のハッシュで同一視する
func fusionKey(c *Candidate) string {
	if c.ID != uuid.Nil {
		return "id:" + c.ID.String()
	}
	sum := sha256.Sum256([]byte(c.Content))
	return "content:" + hex.EncodeToString(sum[:])
}
