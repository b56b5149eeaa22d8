package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/ledgersync/internal/buildinfo"
	"github.com/dmitrijs2005/ledgersync/internal/server"
	"github.com/dmitrijs2005/ledgersync/internal/server/config"
)

func main() {

	buildinfo.PrintBuildData(os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	cfg := config.LoadConfig()

	logger, flush, err := server.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer flush()

	app, err := server.NewApp(ctx, cfg, logger)
	if err != nil {
		log.Printf("%v", err)
		return
	}
	defer app.Close()

	if err := app.Run(ctx); err != nil {
		log.Printf("%v", err)
	}
}
