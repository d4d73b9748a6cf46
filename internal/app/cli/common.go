package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/jinford/hybrid-rag/internal/platform/config"
	"github.com/jinford/hybrid-rag/internal/platform/container"
	"github.com/jinford/hybrid-rag/internal/platform/logger"
)

// AppContext はコマンド実行に必要な共通コンテキストを保持する
type AppContext struct {
	Config    *config.Config
	Container *container.ServiceContainer
}

// LoadConfig は設定を読み込み、設定に従ってロガーを初期化する
// ログは標準エラー出力に書き、標準出力はコマンドの結果に使う
func LoadConfig(envFile string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, nil, fmt.Errorf("設定の読み込みに失敗: %w", err)
	}

	appLogger := logger.New(logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})
	return cfg, appLogger, nil
}

// NewAppContext は設定ファイルを読み込み、DBに接続して AppContext を作成する
func NewAppContext(ctx context.Context, envFile string, opts ...container.ContainerOption) (*AppContext, error) {
	cfg, appLogger, err := LoadConfig(envFile)
	if err != nil {
		return nil, err
	}

	watchShutdown(ctx, cfg.Shutdown.ForceAfter, appLogger, os.Exit)

	opts = append([]container.ContainerOption{container.WithContainerLogger(appLogger)}, opts...)
	cont, err := container.NewContainer(ctx, cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("コンテナの初期化に失敗: %w", err)
	}

	return &AppContext{
		Config:    cfg,
		Container: cont,
	}, nil
}

// Close はAppContextが保持するリソースをクリーンアップする
// 呼び出し元のコンテキストがキャンセル済みでもプールは閉じる
func (ac *AppContext) Close() error {
	if ac == nil || ac.Container == nil {
		return nil
	}
	return ac.Container.Close(context.Background())
}

// Logger はAppContextのロガーを返す
func (ac *AppContext) Logger() *slog.Logger {
	if ac != nil && ac.Container != nil {
		return ac.Container.Logger()
	}
	return slog.Default()
}

// watchShutdown は ctx がキャンセルされてから after を過ぎても終了しない場合に exit(1) を呼ぶ
func watchShutdown(ctx context.Context, after time.Duration, logger *slog.Logger, exit func(int)) {
	if after <= 0 {
		return
	}
	go func() {
		<-ctx.Done()
		timer := time.NewTimer(after)
		defer timer.Stop()
		<-timer.C
		logger.Error("終了処理が時間内に完了しないため強制終了します", "after", after)
		exit(1)
	}()
}

// output はコマンド結果の出力先を返す
func output(cmd *cli.Command) io.Writer {
	if root := cmd.Root(); root != nil && root.Writer != nil {
		return root.Writer
	}
	return os.Stdout
}
