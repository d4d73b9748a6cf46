package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v3"

	"github.com/jinford/hybrid-rag/internal/platform/container"
)

// SchemaEnsureAction はコレクションのテーブルとインデックスを作成・検証するコマンドのアクション
func SchemaEnsureAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	collectionName := cmd.String("collection")
	dimension := cmd.Int("dimension")

	// 対象コレクションのみを扱うため、起動時の確認は省略する
	appCtx, err := NewAppContext(ctx, envFile, container.WithoutSchemaCheck())
	if err != nil {
		return err
	}
	defer appCtx.Close()

	coll, err := appCtx.Container.EnsureSchema(ctx, collectionName, dimension)
	if err != nil {
		slog.Error("スキーマの作成に失敗しました", "error", err)
		return err
	}

	fmt.Fprintf(output(cmd), "スキーマを確認しました: %s (次元: %d, 距離: %s)\n",
		coll.Name, coll.Dimension, coll.Distance())
	return nil
}

// StatsAction はコレクションの統計情報を表示するコマンドのアクション
func StatsAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	collectionName := cmd.String("collection")

	appCtx, err := NewAppContext(ctx, envFile, container.WithoutSchemaCheck())
	if err != nil {
		return err
	}
	defer appCtx.Close()

	stats, err := appCtx.Container.Stats(ctx, collectionName)
	if err != nil {
		slog.Error("統計情報の取得に失敗しました", "error", err)
		return err
	}

	name := collectionName
	if name == "" {
		name = appCtx.Container.Collection().Name
	}

	w := output(cmd)
	fmt.Fprintf(w, "コレクション: %s\n", name)
	fmt.Fprintf(w, "チャンク数: %d\n", stats.Chunks)
	fmt.Fprintf(w, "ソース数: %d\n", stats.Sources)
	if stats.LastLoadedAt != "" {
		fmt.Fprintf(w, "最終投入時刻: %s\n", stats.LastLoadedAt)
	}
	return nil
}
