package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/jinford/hybrid-rag/internal/core/ingestion"
	"github.com/jinford/hybrid-rag/internal/infra/loader"
	"github.com/jinford/hybrid-rag/internal/platform/config"
)

// DefaultDataDir はディレクトリ未指定時に読み込むディレクトリ
const DefaultDataDir = "data"

// sourceOptions はドキュメントの読み込み元の指定
type sourceOptions struct {
	Dir        string
	GitURL     string
	Ref        string
	Extensions []string
}

// IngestAction はドキュメントを読み込んでコレクションを全件置き換えるコマンドのアクション
func IngestAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	collectionName := cmd.String("collection")
	dimension := cmd.Int("dimension")
	src := sourceOptions{
		Dir:        cmd.String("dir"),
		GitURL:     cmd.String("git"),
		Ref:        cmd.String("ref"),
		Extensions: cmd.StringSlice("ext"),
	}

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	slog.Info("インジェストを開始",
		"dir", src.Dir,
		"git", src.GitURL,
		"extensions", src.Extensions,
		"collection", collectionName,
	)

	docs, err := newLoader(appCtx.Config, src, appCtx.Logger()).Load(ctx)
	if err != nil {
		slog.Error("ドキュメントの読み込みに失敗しました", "error", err)
		return fmt.Errorf("ドキュメントの読み込みに失敗: %w", err)
	}

	result, err := appCtx.Container.Ingest(ctx, collectionName, dimension, docs)
	if err != nil {
		printIngestError(output(cmd), err)
		slog.Error("インジェストに失敗しました", "error", err)
		return err
	}

	printIngestResult(output(cmd), result)
	slog.Info("インジェストが完了しました")
	return nil
}

// newLoader は指定に応じて Git またはファイルシステムの DocumentLoader を返す
func newLoader(cfg *config.Config, src sourceOptions, logger *slog.Logger) ingestion.DocumentLoader {
	fsOpts := []loader.FilesystemOption{
		loader.WithExtensions(src.Extensions...),
		loader.WithLoaderLogger(logger),
	}

	if src.GitURL != "" {
		ref := src.Ref
		if ref == "" {
			ref = cfg.Git.DefaultBranch
		}
		return loader.NewGitLoader(src.GitURL, loader.GitConfig{
			CloneDir:    cfg.Git.CloneDir,
			Ref:         ref,
			SSHKeyPath:  cfg.Git.SSHKeyPath,
			SSHPassword: cfg.Git.SSHPassword,
		}, logger, fsOpts...)
	}

	dir := src.Dir
	if dir == "" {
		dir = DefaultDataDir
	}
	return loader.NewFilesystemLoader(dir, fsOpts...)
}

func printIngestResult(w io.Writer, result *ingestion.IngestResult) {
	fmt.Fprintf(w, "コレクション: %s\n", result.Collection)
	fmt.Fprintf(w, "ドキュメント数: %d\n", result.Documents)
	fmt.Fprintf(w, "保存したチャンク数: %d (バッチ数: %d)\n", result.ChunksWritten, result.Batches)
	fmt.Fprintf(w, "削除した既存チャンク数: %d\n", result.Deleted)
	fmt.Fprintf(w, "処理時間: %s\n", result.Duration)
}

func printIngestError(w io.Writer, err error) {
	var ingestErr *ingestion.IngestError
	if !errors.As(err, &ingestErr) {
		return
	}

	fmt.Fprintf(w, "インジェストが途中で失敗しました: %v\n", ingestErr.Err)
	fmt.Fprintf(w, "既存チャンクの削除: %t\n", ingestErr.Cleared)
	fmt.Fprintf(w, "保存済みチャンク数: %d\n", ingestErr.ChunksWritten)
	if len(ingestErr.FailedSources) > 0 {
		fmt.Fprintf(w, "未保存のチャンクを含むソース: %s\n", strings.Join(ingestErr.FailedSources, ", "))
	}
}
