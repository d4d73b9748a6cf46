package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/samber/mo"
	"github.com/urfave/cli/v3"

	"github.com/jinford/hybrid-rag/internal/core/search"
)

// SearchAction はハイブリッド検索を実行して結果を表示するコマンドのアクション
func SearchAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	format := cmd.String("format")

	query := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	if query == "" {
		return fmt.Errorf("検索クエリを指定してください")
	}

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	k := appCtx.Config.Search.DefaultK
	if cmd.IsSet("k") {
		k = cmd.Int("k")
	}

	slog.Info("検索を開始", "query", query, "k", k)

	result, err := appCtx.Container.HybridSearchDetailed(ctx, query, k)
	if err != nil {
		slog.Error("検索に失敗しました", "error", err)
		return err
	}

	if result.LexicalDegraded {
		slog.Warn("全文検索が失敗したため、ベクトル検索のみの結果です", "error", result.LexicalErr)
	}
	if result.CollectionEmpty {
		slog.Warn("コレクションが空です", "collection", appCtx.Container.Collection().Name)
	}

	return printSearchResult(output(cmd), format, result)
}

func printSearchResult(w io.Writer, format string, result *search.SearchResult) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result.Items); err != nil {
			return fmt.Errorf("failed to encode results: %w", err)
		}
	case "context":
		fmt.Fprintln(w, search.FormatContext(result.Items))
	default:
		printSearchText(w, result)
	}
	return nil
}

func printSearchText(w io.Writer, result *search.SearchResult) {
	fmt.Fprintf(w, "検索結果: %d件 (ベクトル: %d件, 全文検索: %d件)\n",
		len(result.Items), result.VectorHits, result.LexicalHits)

	for i, item := range result.Items {
		fmt.Fprintf(w, "\n[%d] %s (%s) スコア: %.4f ベクトル: %s 全文検索: %s\n",
			i+1,
			item.Metadata.Title,
			item.Metadata.Source,
			item.FusedScore,
			formatRank(item.VectorRank),
			formatRank(item.LexicalRank),
		)
		fmt.Fprintln(w, snippet(item.Content, 200))
	}
}

func formatRank(rank mo.Option[int]) string {
	if r, ok := rank.Get(); ok {
		return fmt.Sprintf("#%d", r)
	}
	return "-"
}

// snippet は本文を1行にまとめ、limit 文字を超える部分を省略する
func snippet(content string, limit int) string {
	s := strings.Join(strings.Fields(content), " ")
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "…"
}
