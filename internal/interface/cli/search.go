package cli

import (
	"context"
	"errors"
	"strings"

	"github.com/urfave/cli/v3"

	searchdomain "github.com/jinford/hansard-rag/internal/module/search/domain"
)

// SearchAction は意味検索を実行するコマンドのアクション
func (a *Actions) SearchAction(ctx context.Context, cmd *cli.Command) error {
	query := cmd.String("query")
	if query == "" {
		query = strings.Join(cmd.Args().Slice(), " ")
	}

	appCtx, err := a.appContext(cmd)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	if err := appCtx.Container.Prepare(ctx); err != nil {
		return err
	}

	resp, err := appCtx.Container.SearchService.Search(ctx, searchdomain.SearchParams{
		Query: query,
		K:     cmd.Int("k"),
		Filter: searchdomain.FilterInput{
			Party:    cmd.String("category"),
			Chamber:  cmd.String("chamber"),
			Speaker:  cmd.String("speaker"),
			State:    cmd.String("state"),
			DateFrom: cmd.String("from"),
			DateTo:   cmd.String("to"),
		},
	})
	if err != nil {
		return err
	}
	return writeJSON(output(cmd), resp)
}

// FetchAction はドキュメントの本文を復元して表示するコマンドのアクション
func (a *Actions) FetchAction(ctx context.Context, cmd *cli.Command) error {
	id := cmd.String("id")
	if id == "" {
		id = cmd.Args().First()
	}
	if id == "" {
		return errors.New("ドキュメントIDを指定してください")
	}

	appCtx, err := a.appContext(cmd)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	if err := appCtx.Container.Prepare(ctx); err != nil {
		return err
	}

	doc, err := appCtx.Container.SearchService.Fetch(ctx, id)
	if err != nil {
		if errors.Is(err, searchdomain.ErrDocumentNotFound) {
			return cli.Exit(err.Error(), 4)
		}
		return err
	}
	if cmd.Bool("text") {
		_, err := output(cmd).Write([]byte(doc.FullText))
		return err
	}
	return writeJSON(output(cmd), doc)
}
