package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/BearBump/ShipBox/config"
	"github.com/joho/godotenv"
)

func main() {
	// .env необязателен: в docker переменные приходят из окружения.
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file, using environment")
	}

	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err = RunShipmentWorker(ctx, cfg, defaultWorkerFactories(), workerOpts{
		httpAddr:    cfg.ShipBox.WorkerHTTPAddr,
		swaggerPath: os.Getenv("swaggerPath"),
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		panic(err)
	}
}
