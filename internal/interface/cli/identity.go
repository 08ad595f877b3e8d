package cli

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/jinford/hansard-rag/internal/platform/identity"
)

// IdentityAction は接続に使われるクラウドアイデンティティを表示するコマンドのアクション。
// データベースには接続しない
func (a *Actions) IdentityAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := a.appContext(cmd)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	id := appCtx.Container.Resolver.Resolve(ctx)

	out := struct {
		identity.ConnectionIdentity
		DatabaseUser string `json:"databaseUser,omitempty"`
	}{ConnectionIdentity: id}
	if id.Valid {
		out.DatabaseUser = identity.DatabaseUser(id.Principal)
		if u := appCtx.Config.Database.User; u != "" {
			out.DatabaseUser = u
		}
	}

	if err := writeJSON(output(cmd), out); err != nil {
		return err
	}
	return id.Err()
}
