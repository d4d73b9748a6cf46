package tokenizer

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/jinford/hybrid-rag/internal/core/ingestion"
)

// DefaultEncoding は text-embedding-3 系と互換のエンコーディング
const DefaultEncoding = "cl100k_base"

// TokenCounter は tiktoken を利用した TokenCounter 実装
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
}

var _ ingestion.TokenCounter = (*TokenCounter)(nil)

// NewTokenCounter は指定エンコーディングの TokenCounter を作成する
// 初回はエンコーディング定義をダウンロードするためネットワークが必要
func NewTokenCounter(encoding string) (*TokenCounter, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load tiktoken encoding %q: %w", encoding, err)
	}
	return &TokenCounter{encoding: enc}, nil
}

// CountTokens はテキストのトークン数を返す
func (t *TokenCounter) CountTokens(text string) int {
	if t.encoding == nil {
		return 0
	}
	return len(t.encoding.Encode(text, nil, nil))
}

// TrimToTokenLimit はテキストを先頭 maxTokens トークンに切り詰める
func (t *TokenCounter) TrimToTokenLimit(text string, maxTokens int) string {
	if t.encoding == nil {
		return text
	}
	tokens := t.encoding.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	return t.encoding.Decode(tokens[:maxTokens])
}
