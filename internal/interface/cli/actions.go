package cli

import (
	"github.com/urfave/cli/v3"

	"github.com/jinford/hansard-rag/internal/platform/container"
)

// Actions は各コマンドのアクションを提供します。
// コンテナのオプションはテストでストアや Embedding バックエンドを差し替えるために使う
type Actions struct {
	options []container.Option
}

// NewActions は新しい Actions を作成します
func NewActions(opts ...container.Option) *Actions {
	return &Actions{options: opts}
}

func (a *Actions) appContext(cmd *cli.Command) (*AppContext, error) {
	return NewAppContext(cmd.String("env"), a.options...)
}
