package main

import (
	"context"
	"os/signal"
	"syscall"

	"authlabs/labserver/internal/app"
	"authlabs/labserver/internal/config"

	"github.com/sirupsen/logrus"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		logrus.Fatalf("load .env: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(cfg)
	if err != nil {
		logrus.Fatalf("create app: %v", err)
	}

	if err := a.Run(ctx); err != nil {
		logrus.Fatalf("run app: %v", err)
	}
}
