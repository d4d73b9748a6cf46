package ingestion

import "unicode/utf8"

// BatchPlanner は Embedding リクエスト単位のバッチを組み立てる
// 1バッチの件数は MaxItems 以下、推定トークン数の合計は MaxTokens 以下に収める
type BatchPlanner struct {
	MaxItems  int
	MaxTokens int // 0 以下ならトークン上限なし
}

// Plan は各要素のトークン数から、入力順を保ったバッチ境界を返す
// 戻り値は [start, end) のインデックス組
// 単独で MaxTokens を超える要素は1件だけのバッチになる
func (p BatchPlanner) Plan(tokens []int) [][2]int {
	maxItems := p.MaxItems
	if maxItems <= 0 {
		maxItems = MinBatchSize
	}

	var (
		batches [][2]int
		start   int
		sum     int
	)
	for i, t := range tokens {
		count := i - start
		overItems := count >= maxItems
		overTokens := p.MaxTokens > 0 && count > 0 && sum+t > p.MaxTokens
		if overItems || overTokens {
			batches = append(batches, [2]int{start, i})
			start = i
			sum = 0
		}
		sum += t
	}
	if start < len(tokens) {
		batches = append(batches, [2]int{start, len(tokens)})
	}
	return batches
}

// estimateTokens は TokenCounter が無い場合の概算（4文字で1トークン）
func estimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}
