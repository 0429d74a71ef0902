package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"timecapsule/internal/app"
	"timecapsule/internal/common/logger"
	"timecapsule/internal/config"
	"timecapsule/internal/service"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "timecapsule-data")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	a, err := app.New(cfg, log)
	if err != nil {
		log.Fatal("Failed to open persistence layer", zap.Error(err))
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := service.NewServer(cfg.HTTP, a.Handler(), log).Run(ctx, nil); err != nil {
		log.Error("HTTP server stopped", zap.Error(err))
	}
}
