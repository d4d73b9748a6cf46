package ingestion

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBatchPlanner_Plan(t *testing.T) {
	tests := []struct {
		name    string
		planner BatchPlanner
		tokens  []int
		want    [][2]int
	}{
		{
			name:    "空入力",
			planner: BatchPlanner{MaxItems: 2, MaxTokens: 100},
			tokens:  nil,
			want:    nil,
		},
		{
			name:    "件数上限で分割",
			planner: BatchPlanner{MaxItems: 2},
			tokens:  []int{1, 1, 1, 1, 1},
			want:    [][2]int{{0, 2}, {2, 4}, {4, 5}},
		},
		{
			name:    "トークン上限で分割",
			planner: BatchPlanner{MaxItems: 10, MaxTokens: 10},
			tokens:  []int{4, 4, 4, 4},
			want:    [][2]int{{0, 2}, {2, 4}},
		},
		{
			name:    "上限を超える単独要素は1件バッチ",
			planner: BatchPlanner{MaxItems: 10, MaxTokens: 10},
			tokens:  []int{3, 50, 3},
			want:    [][2]int{{0, 1}, {1, 2}, {2, 3}},
		},
		{
			name:    "件数上限が0以下なら1件ずつ",
			planner: BatchPlanner{MaxItems: 0},
			tokens:  []int{1, 1},
			want:    [][2]int{{0, 1}, {1, 2}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.planner.Plan(tt.tokens))
		})
	}
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, estimateTokens(""))
	assert.Equal(t, 1, estimateTokens("abc"))
	assert.Equal(t, 1, estimateTokens("abcd"))
	assert.Equal(t, 2, estimateTokens("abcde"))
	assert.Equal(t, 1, estimateTokens("経費"))
}
