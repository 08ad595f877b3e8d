package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	hansardcli "github.com/jinford/hansard-rag/internal/interface/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:     "hansard-rag",
		Usage:    "議会発言記録の取り込みと意味検索",
		Commands: hansardcli.Commands(hansardcli.NewActions()),
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
