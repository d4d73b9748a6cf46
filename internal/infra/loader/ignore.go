package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// ignoreFileNames はルートディレクトリから読み込む除外設定ファイル
var ignoreFileNames = []string{".gitignore", ".ragignore"}

// IgnoreFilter は .gitignore と .ragignore のパターンマッチングを提供します
type IgnoreFilter struct {
	patterns *gitignore.GitIgnore
}

// NewIgnoreFilter は root 配下の .gitignore と .ragignore、デフォルトの除外パターンから
// IgnoreFilter を作成します
func NewIgnoreFilter(root string, extra ...string) (*IgnoreFilter, error) {
	var patterns []string

	for _, name := range ignoreFileNames {
		lines, err := readIgnoreFile(filepath.Join(root, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		patterns = append(patterns, lines...)
	}

	patterns = append(patterns, defaultIgnorePatterns...)
	patterns = append(patterns, extra...)

	return &IgnoreFilter{
		patterns: gitignore.CompileIgnoreLines(patterns...),
	}, nil
}

// ShouldIgnore は root からの相対パスが除外対象かどうかを判定します
func (f *IgnoreFilter) ShouldIgnore(relPath string) bool {
	if f == nil || f.patterns == nil {
		return false
	}
	return f.patterns.MatchesPath(filepath.ToSlash(relPath))
}

// readIgnoreFile は ignore ファイルの有効な行を返します。ファイルが無ければ空
func readIgnoreFile(path string) ([]string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var patterns []string
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	return patterns, nil
}

// defaultIgnorePatterns は常に除外するパターン
var defaultIgnorePatterns = []string{
	// Git関連
	".git",
	".gitignore",
	".gitattributes",
	".gitmodules",
	".ragignore",

	// 依存関係・ビルド成果物
	"node_modules",
	"vendor",
	"dist",
	"build",
	"target",
	".next",

	// IDE/エディタ関連
	".vscode",
	".idea",
	".DS_Store",
	"*.swp",
	"*~",

	// 環境変数・機密情報
	".env",
	".env.*",
	"*.pem",
	"*.key",

	// キャッシュ
	".cache",
	"__pycache__",
}
