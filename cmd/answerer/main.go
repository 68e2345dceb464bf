package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexflint/go-arg"
	"github.com/flare-foundation/go-flare-common/pkg/logger"
	"github.com/kpioracles/oracle-answerer/internal/app"
	"github.com/kpioracles/oracle-answerer/internal/config"
)

type CLIArgs struct {
	ConfigFile string `arg:"--config,env:CONFIG_FILE" default:"config.toml"`
}

func main() {
	var args CLIArgs
	arg.MustParse(&args)

	cfg, err := config.Load(args.ConfigFile)
	if err != nil {
		logger.Fatal(err)
	}

	logger.Set(cfg.Logger)
	defer logger.SyncFileLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = app.Run(ctx, cfg)
	if ctx.Err() != nil {
		logger.Info("shutting down")
		return
	}

	logger.Fatal(err)
}
