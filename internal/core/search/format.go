package search

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatContext は検索結果を生成モデルに渡すコンテキスト文字列に整形する
func FormatContext(items []ResultItem) string {
	blocks := make([]string, 0, len(items))
	for i, item := range items {
		meta, err := json.Marshal(item.Metadata)
		if err != nil {
			meta = []byte("{}")
		}
		blocks = append(blocks, fmt.Sprintf("--- Document %d ---\n%s\nMetadata: %s", i+1, item.Content, meta))
	}
	return strings.Join(blocks, "\n\n")
}
