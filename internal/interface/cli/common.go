package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/jinford/hansard-rag/internal/platform/container"
	"github.com/jinford/hansard-rag/internal/platform/logger"
	"github.com/jinford/hansard-rag/pkg/config"
)

// shutdownTimeout は終了時に実行中ジョブを待つ上限
const shutdownTimeout = 30 * time.Second

// AppContext はコマンド実行に必要な共通コンテキストを保持する
type AppContext struct {
	Config    *config.Config
	Container *container.Container
	Logger    *slog.Logger
}

// NewAppContext は設定ファイルを読み込み、ロガーとコンテナを初期化する。
// データベースへの接続は各アクションで必要になった時点で行う
func NewAppContext(envFile string, opts ...container.Option) (*AppContext, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("設定の読み込みに失敗: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定が不正です: %w", err)
	}

	appLogger := logger.New(logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
	})

	opts = append([]container.Option{container.WithLogger(appLogger)}, opts...)
	cont, err := container.New(cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("コンテナの初期化に失敗: %w", err)
	}

	return &AppContext{
		Config:    cfg,
		Container: cont,
		Logger:    appLogger,
	}, nil
}

// Close はAppContextが保持するリソースをクリーンアップする
func (ac *AppContext) Close() {
	if ac == nil || ac.Container == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := ac.Container.Close(ctx); err != nil {
		ac.Logger.Warn("リソースの解放に失敗しました", "error", err)
	}
}

// writeJSON は結果を整形済みJSONとして標準出力へ書き出す
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func output(cmd *cli.Command) io.Writer {
	return cmd.Root().Writer
}
