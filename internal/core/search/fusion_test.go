package search

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candidate(content string, score float64) *Candidate {
	return &Candidate{ID: uuid.New(), Content: content, Score: score}
}

func TestRRFFusion_PartialScores(t *testing.T) {
	both := candidate("both", 0.9)
	vectorOnly := candidate("vector only", 0.8)
	lexicalOnly := candidate("lexical only", 0.2)

	f := NewRRFFusion()
	items := f.Fuse(
		[]*Candidate{both, vectorOnly},
		[]*Candidate{{ID: both.ID, Content: both.Content, Score: 0.5}, lexicalOnly},
		10,
	)
	require.Len(t, items, 3)

	assert.Equal(t, both.ID, items[0].ID)
	assert.InDelta(t, 2.0/61.0, items[0].FusedScore, 1e-12)
	assert.Equal(t, 1, items[0].VectorRank.MustGet())
	assert.Equal(t, 1, items[0].LexicalRank.MustGet())
	assert.InDelta(t, 0.9, items[0].VectorScore.MustGet(), 1e-12)
	assert.InDelta(t, 0.5, items[0].LexicalScore.MustGet(), 1e-12)

	// ベクトル2位と全文検索2位は同点。先に出現したベクトル側が前に来る
	assert.Equal(t, vectorOnly.ID, items[1].ID)
	assert.InDelta(t, 1.0/62.0, items[1].FusedScore, 1e-12)
	assert.True(t, items[1].LexicalRank.IsAbsent())
	assert.Equal(t, lexicalOnly.ID, items[2].ID)
	assert.True(t, items[2].VectorScore.IsAbsent())
}

func TestRRFFusion_SingleChannelTopRank(t *testing.T) {
	top := candidate("top", 0.99)

	items := NewRRFFusion().Fuse([]*Candidate{top}, nil, 5)
	require.Len(t, items, 1)
	assert.InDelta(t, 1.0/61.0, items[0].FusedScore, 1e-12)
}

func TestRRFFusion_TruncatesAndOrders(t *testing.T) {
	var vector, lexical []*Candidate
	for i := 0; i < 10; i++ {
		vector = append(vector, candidate("v", 1))
		lexical = append(lexical, candidate("l", 1))
	}

	items := NewRRFFusion().Fuse(vector, lexical, 4)
	require.Len(t, items, 4)
	for i := 1; i < len(items); i++ {
		assert.GreaterOrEqual(t, items[i-1].FusedScore, items[i].FusedScore)
	}
	// 同順位の同点はベクトル側が先
	assert.Equal(t, vector[0].ID, items[0].ID)
	assert.Equal(t, lexical[0].ID, items[1].ID)
	assert.Equal(t, vector[1].ID, items[2].ID)
	assert.Equal(t, lexical[1].ID, items[3].ID)
}

func TestRRFFusion_EmptyInputs(t *testing.T) {
	f := NewRRFFusion()

	assert.Empty(t, f.Fuse(nil, nil, 5))
	assert.NotNil(t, f.Fuse(nil, nil, 5))
	assert.Empty(t, f.Fuse([]*Candidate{candidate("x", 1)}, nil, 0))
}

func TestRRFFusion_NilIDFallsBackToContent(t *testing.T) {
	a := &Candidate{Content: "same text", Score: 0.7}
	b := &Candidate{Content: "same text", Score: 0.3}
	c := &Candidate{Content: "other text", Score: 0.1}

	items := NewRRFFusion().Fuse([]*Candidate{a}, []*Candidate{b, c}, 10)
	require.Len(t, items, 2)
	assert.Equal(t, "same text", items[0].Content)
	assert.InDelta(t, 2.0/61.0, items[0].FusedScore, 1e-12)
	assert.Equal(t, "other text", items[1].Content)
}

func TestRRFFusion_DuplicateInOneListCountsOnce(t *testing.T) {
	dup := candidate("dup", 0.9)

	items := NewRRFFusion().Fuse([]*Candidate{dup, dup}, nil, 10)
	require.Len(t, items, 1)
	assert.InDelta(t, 1.0/61.0, items[0].FusedScore, 1e-12)
	assert.Equal(t, 1, items[0].VectorRank.MustGet())
}

func TestNewRRFFusionWithK(t *testing.T) {
	assert.Equal(t, DefaultRRFConstant, NewRRFFusionWithK(0).K)
	assert.Equal(t, 10, NewRRFFusionWithK(10).K)

	items := NewRRFFusionWithK(10).Fuse([]*Candidate{candidate("x", 1)}, nil, 1)
	require.Len(t, items, 1)
	assert.InDelta(t, 1.0/11.0, items[0].FusedScore, 1e-12)
}
