package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

// MigrateAction はスキーマを適用し、コレクションを作成するコマンドのアクション
func (a *Actions) MigrateAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := a.appContext(cmd)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	c := appCtx.Container
	if err := c.Open(ctx); err != nil {
		return fmt.Errorf("データベース接続に失敗: %w", err)
	}

	appCtx.Logger.Info("スキーマを適用します", "collection", appCtx.Config.Database.Collection)
	if err := c.Store.Migrate(ctx); err != nil {
		return fmt.Errorf("マイグレーションに失敗: %w", err)
	}
	if err := c.Prepare(ctx); err != nil {
		return err
	}

	stats, err := c.Store.Stats(ctx)
	if err != nil {
		return fmt.Errorf("統計情報の取得に失敗: %w", err)
	}
	appCtx.Logger.Info("マイグレーションが完了しました",
		"dimension", stats.Dimension,
		"embeddingModel", stats.EmbeddingModel,
	)
	return writeJSON(output(cmd), stats)
}

// StatsAction はコレクションの件数を表示するコマンドのアクション
func (a *Actions) StatsAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := a.appContext(cmd)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	if err := appCtx.Container.Prepare(ctx); err != nil {
		return err
	}
	stats, err := appCtx.Container.Store.Stats(ctx)
	if err != nil {
		return fmt.Errorf("統計情報の取得に失敗: %w", err)
	}
	return writeJSON(output(cmd), stats)
}
