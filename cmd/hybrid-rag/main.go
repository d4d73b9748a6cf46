package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	appcli "github.com/jinford/hybrid-rag/internal/app/cli"
	"github.com/jinford/hybrid-rag/internal/infra/loader"
)

func envFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "env",
		Usage: "環境変数ファイルパス",
		Value: ".env",
	}
}

func collectionFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "collection",
		Usage: "コレクション名（省略時は PG_COLLECTION_NAME）",
	}
}

func dimensionFlag() cli.Flag {
	return &cli.IntFlag{
		Name:  "dimension",
		Usage: "Embeddingの次元数（省略時は EMBEDDING_DIMENSION）",
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "hybrid-rag",
		Usage: "PostgreSQL + pgvector 上のハイブリッド検索（ベクトル検索 + 全文検索、RRF統合）",
		Commands: []*cli.Command{
			{
				Name:  "schema",
				Usage: "スキーマ管理コマンド",
				Commands: []*cli.Command{
					{
						Name:  "ensure",
						Usage: "コレクションのテーブルとインデックスを作成し、次元を検証",
						Flags: []cli.Flag{
							envFlag(),
							collectionFlag(),
							dimensionFlag(),
						},
						Action: appcli.SchemaEnsureAction,
					},
				},
			},
			{
				Name:  "ingest",
				Usage: "ドキュメントを読み込み、コレクションを全件置き換え",
				Flags: []cli.Flag{
					envFlag(),
					collectionFlag(),
					dimensionFlag(),
					&cli.StringFlag{
						Name:  "dir",
						Usage: "読み込むディレクトリ",
						Value: appcli.DefaultDataDir,
					},
					&cli.StringSliceFlag{
						Name:  "ext",
						Usage: "読み込む拡張子（複数指定可）",
						Value: loader.DefaultExtensions,
					},
					&cli.StringFlag{
						Name:  "git",
						Usage: "GitリポジトリURL（指定時は --dir の代わりにクローンした作業ツリーを読み込む）",
					},
					&cli.StringFlag{
						Name:  "ref",
						Usage: "ブランチ名（省略時は GIT_DEFAULT_BRANCH、未設定ならリモートのHEAD）",
					},
				},
				Action: appcli.IngestAction,
			},
			{
				Name:      "search",
				Usage:     "ハイブリッド検索を実行",
				ArgsUsage: "<query>",
				Flags: []cli.Flag{
					envFlag(),
					&cli.IntFlag{
						Name:  "k",
						Usage: "取得件数（省略時は SEARCH_DEFAULT_K）",
					},
					&cli.StringFlag{
						Name:  "format",
						Usage: "出力形式（text, json, context）",
						Value: "text",
					},
				},
				Action: appcli.SearchAction,
			},
			{
				Name:  "stats",
				Usage: "コレクションの統計情報を表示",
				Flags: []cli.Flag{
					envFlag(),
					collectionFlag(),
				},
				Action: appcli.StatsAction,
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
