package chunk

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultChunkSize はチャンクの最大文字数のデフォルト値
	DefaultChunkSize = 1000
	// DefaultChunkOverlap は隣接チャンク間で共有する最大文字数のデフォルト値
	DefaultChunkOverlap = 150
)

// separatorLevel は分割に使う区切りの階層
// 区切り文字列は直前の断片の末尾に残す
type separatorLevel struct {
	name       string
	delimiters []string
}

// defaultLevels は優先順位順の区切り階層（段落 → 行 → 文 → 単語 → 文字）
var defaultLevels = []separatorLevel{
	{name: "paragraph", delimiters: []string{"\n\n"}},
	{name: "line", delimiters: []string{"\n"}},
	{name: "sentence", delimiters: []string{". ", "! ", "? ", "。"}},
	{name: "word", delimiters: []string{" ", "\t"}},
	{name: "character", delimiters: nil},
}

// RecursiveSplitter はテキストを重なり付きの上限サイズ以下のチャンクに分割する
// 長さはすべて rune 数で数える
type RecursiveSplitter struct {
	chunkSize    int
	chunkOverlap int
	levels       []separatorLevel
}

// NewRecursiveSplitter は新しい RecursiveSplitter を作成する
func NewRecursiveSplitter(chunkSize, chunkOverlap int) (*RecursiveSplitter, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunkSize must be positive: %d", chunkSize)
	}
	if chunkOverlap < 0 {
		return nil, fmt.Errorf("chunkOverlap must not be negative: %d", chunkOverlap)
	}
	if chunkOverlap >= chunkSize {
		return nil, fmt.Errorf("chunkOverlap (%d) must be smaller than chunkSize (%d)", chunkOverlap, chunkSize)
	}

	return &RecursiveSplitter{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		levels:       defaultLevels,
	}, nil
}

// ChunkSize はチャンクの最大文字数を返す
func (s *RecursiveSplitter) ChunkSize() int {
	return s.chunkSize
}

// ChunkOverlap は重なりの最大文字数を返す
func (s *RecursiveSplitter) ChunkOverlap() int {
	return s.chunkOverlap
}

// Split はテキストをチャンクに分割する
// 同じ入力とパラメータに対して常に同じ結果を返す
func (s *RecursiveSplitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	raw := s.splitRecursive(text, 0)

	chunks := make([]string, 0, len(raw))
	for _, c := range raw {
		trimmed := strings.TrimSpace(c)
		if trimmed == "" {
			continue
		}
		chunks = append(chunks, trimmed)
	}
	return chunks
}

// splitRecursive は指定階層の区切りで分割し、収まらない断片だけ次の階層へ再帰する
func (s *RecursiveSplitter) splitRecursive(text string, level int) []string {
	var (
		out  []string
		good []string
	)

	for _, piece := range s.levels[level].split(text) {
		if runeLen(piece) <= s.chunkSize {
			good = append(good, piece)
			continue
		}

		if len(good) > 0 {
			out = append(out, s.merge(good)...)
			good = nil
		}
		// 文字階層の断片は1文字なので、ここに来るのは文字階層より上の場合のみ
		out = append(out, s.splitRecursive(piece, level+1)...)
	}

	if len(good) > 0 {
		out = append(out, s.merge(good)...)
	}
	return out
}

// merge は chunkSize 以下の断片をチャンクサイズまで貪欲に連結する
// あふれた時点でウィンドウ先頭の断片を chunkOverlap 以下になるまで捨て、残りを次チャンクの先頭とする
func (s *RecursiveSplitter) merge(pieces []string) []string {
	var (
		chunks  []string
		window  []string
		lengths []int
		total   int
	)

	for _, piece := range pieces {
		l := runeLen(piece)

		if total+l > s.chunkSize && len(window) > 0 {
			chunks = append(chunks, strings.Join(window, ""))

			for len(window) > 0 && (total > s.chunkOverlap || total+l > s.chunkSize) {
				total -= lengths[0]
				window = window[1:]
				lengths = lengths[1:]
			}
		}

		window = append(window, piece)
		lengths = append(lengths, l)
		total += l
	}

	if len(window) > 0 {
		chunks = append(chunks, strings.Join(window, ""))
	}
	return chunks
}

// split は区切り文字列の直後で text を切る。区切りが無い階層は1文字ずつに分ける
func (l separatorLevel) split(text string) []string {
	if len(l.delimiters) == 0 {
		pieces := make([]string, 0, utf8.RuneCountInString(text))
		for _, r := range text {
			pieces = append(pieces, string(r))
		}
		return pieces
	}

	var pieces []string
	start := 0
	for i := 0; i < len(text); {
		matched := 0
		for _, d := range l.delimiters {
			if strings.HasPrefix(text[i:], d) {
				matched = len(d)
				break
			}
		}
		if matched == 0 {
			i++
			continue
		}
		i += matched
		pieces = append(pieces, text[start:i])
		start = i
	}
	if start < len(text) {
		pieces = append(pieces, text[start:])
	}
	return pieces
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
