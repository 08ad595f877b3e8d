package cli

import (
	"github.com/urfave/cli/v3"

	"github.com/jinford/hansard-rag/internal/module/ingestion/adapter/source"
)

func envFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "env",
		Usage: "環境変数ファイルパス",
		Value: ".env",
	}
}

func policyFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "policy",
		Usage: "既存IDの扱い: skip, overwrite, reject（省略時は INGEST_DUPLICATE_POLICY）",
	}
}

// Commands はサブコマンドの一覧を返します
func Commands(a *Actions) []*cli.Command {
	return []*cli.Command{
		{
			Name:   "migrate",
			Usage:  "スキーマを適用し、コレクションを作成",
			Flags:  []cli.Flag{envFlag()},
			Action: a.MigrateAction,
		},
		{
			Name:  "ingest",
			Usage: "発言記録の取り込みコマンド",
			Commands: []*cli.Command{
				{
					Name:      "file",
					Usage:     "ファイルを1件ずつ取り込む",
					ArgsUsage: "<file>...",
					Flags:     []cli.Flag{envFlag(), policyFlag()},
					Action:    a.IngestFileAction,
				},
				{
					Name:  "dir",
					Usage: "ディレクトリ配下を一括で取り込む",
					Flags: []cli.Flag{
						envFlag(),
						policyFlag(),
						&cli.StringFlag{
							Name:     "dir",
							Usage:    "対象ディレクトリ",
							Required: true,
						},
						&cli.StringFlag{
							Name:  "pattern",
							Usage: "glob パターン（** でディレクトリを跨ぐ）",
							Value: source.DefaultPattern,
						},
					},
					Action: a.IngestDirAction,
				},
			},
		},
		{
			Name:      "search",
			Usage:     "意味検索",
			ArgsUsage: "[query]",
			Flags: []cli.Flag{
				envFlag(),
				&cli.StringFlag{Name: "query", Aliases: []string{"q"}, Usage: "検索クエリ"},
				&cli.IntFlag{Name: "k", Usage: "最大件数（既定 5、上限 50）"},
				&cli.StringFlag{Name: "category", Usage: "政党コード（例: ALP）"},
				&cli.StringFlag{Name: "chamber", Usage: "house または senate"},
				&cli.StringFlag{Name: "speaker", Usage: "発言者名（完全一致）"},
				&cli.StringFlag{Name: "state", Usage: "州コード（例: NSW）"},
				&cli.StringFlag{Name: "from", Usage: "開始日 YYYY-MM-DD"},
				&cli.StringFlag{Name: "to", Usage: "終了日 YYYY-MM-DD"},
			},
			Action: a.SearchAction,
		},
		{
			Name:      "fetch",
			Usage:     "ドキュメントの本文を表示",
			ArgsUsage: "[id]",
			Flags: []cli.Flag{
				envFlag(),
				&cli.StringFlag{Name: "id", Usage: "ドキュメントID"},
				&cli.BoolFlag{Name: "text", Usage: "本文のみを出力"},
			},
			Action: a.FetchAction,
		},
		{
			Name:   "stats",
			Usage:  "コレクションの件数を表示",
			Flags:  []cli.Flag{envFlag()},
			Action: a.StatsAction,
		},
		{
			Name:   "identity",
			Usage:  "データベース認証に使うクラウドアイデンティティを表示",
			Flags:  []cli.Flag{envFlag()},
			Action: a.IdentityAction,
		},
		{
			Name:  "serve",
			Usage: "MCP サーバーを起動",
			Flags: []cli.Flag{
				envFlag(),
				&cli.StringFlag{Name: "transport", Usage: "stdio または http", Value: "stdio"},
				&cli.StringFlag{Name: "addr", Usage: "HTTP の待ち受けアドレス", Value: ":8080"},
			},
			Action: a.ServeAction,
		},
	}
}
