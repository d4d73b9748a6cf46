package loader

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-enry/go-enry/v2"

	"github.com/jinford/hybrid-rag/internal/core/ingestion"
)

// DefaultExtensions は拡張子の指定が無い場合に読み込む拡張子
var DefaultExtensions = []string{".txt"}

// Extra に設定するメタデータキー
const (
	MetadataKeyPath     = "path"
	MetadataKeyLanguage = "language"
)

// FilesystemLoader はディレクトリ配下のテキストファイルをドキュメントとして読み込みます
type FilesystemLoader struct {
	root         string
	extensions   map[string]struct{}
	sourcePrefix string
	extra        map[string]any
	ignore       []string
	logger       *slog.Logger
}

var _ ingestion.DocumentLoader = (*FilesystemLoader)(nil)

// FilesystemOption は FilesystemLoader のオプション
type FilesystemOption func(*FilesystemLoader)

// WithExtensions は読み込む拡張子を指定します（".md" または "md"）
func WithExtensions(exts ...string) FilesystemOption {
	return func(l *FilesystemLoader) {
		if len(exts) == 0 {
			return
		}
		l.extensions = normalizeExtensions(exts)
	}
}

// WithSourcePrefix は Document.Source の先頭に付与するプレフィックスを指定します
func WithSourcePrefix(prefix string) FilesystemOption {
	return func(l *FilesystemLoader) {
		l.sourcePrefix = strings.Trim(filepath.ToSlash(prefix), "/")
	}
}

// WithExtra は全ドキュメントに付与する追加メタデータを指定します
func WithExtra(key string, value any) FilesystemOption {
	return func(l *FilesystemLoader) {
		if l.extra == nil {
			l.extra = make(map[string]any)
		}
		l.extra[key] = value
	}
}

// WithIgnorePatterns は .gitignore 形式の除外パターンを追加します
func WithIgnorePatterns(patterns ...string) FilesystemOption {
	return func(l *FilesystemLoader) {
		l.ignore = append(l.ignore, patterns...)
	}
}

// WithLoaderLogger はロガーを指定します
func WithLoaderLogger(logger *slog.Logger) FilesystemOption {
	return func(l *FilesystemLoader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewFilesystemLoader は root 配下を読み込む FilesystemLoader を作成します
func NewFilesystemLoader(root string, opts ...FilesystemOption) *FilesystemLoader {
	l := &FilesystemLoader{
		root:       root,
		extensions: normalizeExtensions(DefaultExtensions),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load はディレクトリを辞書順に走査し、対象拡張子のテキストファイルを読み込みます
// 除外パターン・バイナリ・vendor 配下のファイルと空のファイルはスキップします
func (l *FilesystemLoader) Load(ctx context.Context) ([]ingestion.Document, error) {
	info, err := os.Stat(l.root)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", l.root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", l.root)
	}

	filter, err := NewIgnoreFilter(l.root, l.ignore...)
	if err != nil {
		return nil, fmt.Errorf("failed to create ignore filter: %w", err)
	}

	var docs []ingestion.Document
	var skipped int

	err = filepath.WalkDir(l.root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(l.root, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if filter.ShouldIgnore(rel) || enry.IsVendor(rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() || !l.accepts(rel) || filter.ShouldIgnore(rel) {
			return nil
		}

		content, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", rel, err)
		}
		if enry.IsBinary(content) || strings.TrimSpace(string(content)) == "" {
			skipped++
			l.logger.Debug("ファイルをスキップしました", "path", rel)
			return nil
		}

		docs = append(docs, l.document(rel, content))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", l.root, err)
	}

	l.logger.Info("ドキュメントを読み込みました",
		"root", l.root,
		"documents", len(docs),
		"skipped", skipped,
	)
	return docs, nil
}

func (l *FilesystemLoader) accepts(rel string) bool {
	_, ok := l.extensions[strings.ToLower(path.Ext(rel))]
	return ok
}

func (l *FilesystemLoader) document(rel string, content []byte) ingestion.Document {
	source := rel
	if l.sourcePrefix != "" {
		source = l.sourcePrefix + "/" + rel
	}

	extra := make(map[string]any, len(l.extra)+2)
	for k, v := range l.extra {
		extra[k] = v
	}
	extra[MetadataKeyPath] = rel
	if lang := enry.GetLanguage(path.Base(rel), content); lang != "" {
		extra[MetadataKeyLanguage] = lang
	}

	return ingestion.Document{
		Source:  source,
		Content: string(content),
		Extra:   extra,
	}
}

func normalizeExtensions(exts []string) map[string]struct{} {
	out := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out[ext] = struct{}{}
	}
	return out
}
