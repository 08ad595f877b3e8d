package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/jinford/hansard-rag/internal/interface/mcp"
	"github.com/jinford/hansard-rag/internal/platform/identity"
)

// ServeAction は MCP サーバーを起動するコマンドのアクション
func (a *Actions) ServeAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := a.appContext(cmd)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	c := appCtx.Container
	if err := c.Prepare(ctx); err != nil {
		return err
	}

	server, err := mcp.NewServer(&mcp.Ports{
		Search: c.SearchService,
		Ingest: c.IngestService,
		Identity: func(ctx context.Context) identity.ConnectionIdentity {
			if id := c.Manager.Identity(); id.Valid {
				return id
			}
			return c.Resolver.Resolve(ctx)
		},
		DefaultPolicy: c.DuplicatePolicy,
	}, appCtx.Logger)
	if err != nil {
		return err
	}

	switch transport := cmd.String("transport"); transport {
	case "", "stdio":
		return server.Run(ctx)
	case "http":
		return server.RunHTTP(ctx, cmd.String("addr"))
	default:
		return fmt.Errorf("unknown transport %q (want stdio or http)", transport)
	}
}
