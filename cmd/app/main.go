package main

import (
	"context"
	"flag"
	"os"

	"github.com/rs/zerolog"

	"AlphaDesk/internal/di"
	"AlphaDesk/pkg/config"
	"AlphaDesk/pkg/logger"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML config; env vars override it")
	flag.Parse()

	boot := logger.NewWriter(os.Stderr, zerolog.InfoLevel).Component("main")

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		boot.Error("load config", logger.String("path", *configPath), logger.Error(err))
		return 2
	}
	boot.Info("starting",
		logger.String("env", cfg.Environment),
		logger.String("mode", cfg.Execution.Mode),
		logger.String("source", cfg.Source.Type),
		logger.Strings("symbols", cfg.Symbols))

	app, cleanup, err := di.InitializeApp(cfg)
	if err != nil {
		boot.Error("initialize", logger.Error(err))
		return 1
	}
	defer cleanup()

	// blocks until SIGINT/SIGTERM or a loop fails
	if err := app.Run(context.Background()); err != nil {
		boot.Error("exited with error", logger.Error(err))
		return 1
	}
	return 0
}
