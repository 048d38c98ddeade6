package main

import (
	"context"
	"database/sql"
	"os"
	"strconv"
	"time"

	"authlabs/labserver/internal/config"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		logrus.Fatalf("load .env: %v", err)
	}

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = os.Getenv("TEST_POSTGRES_DSN")
	}
	if dsn == "" {
		logrus.Error("DATABASE_URL or TEST_POSTGRES_DSN is required")
		os.Exit(2)
	}

	timeout := 60 * time.Second
	if raw := os.Getenv("WAIT_FOR_POSTGRES_TIMEOUT_SEC"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			logrus.Errorf("invalid WAIT_FOR_POSTGRES_TIMEOUT_SEC: %q", raw)
			os.Exit(2)
		}
		timeout = time.Duration(secs) * time.Second
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logrus.Fatalf("open postgres: %v", err)
	}
	defer db.Close()

	deadline := time.Now().Add(timeout)
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := db.PingContext(ctx)
		cancel()
		if err == nil {
			logrus.WithField("attempts", attempt).Info("postgres ready")
			return
		}
		if time.Now().After(deadline) {
			logrus.WithError(err).Errorf("postgres not ready within %s", timeout)
			os.Exit(1)
		}
		logrus.WithError(err).WithField("attempt", attempt).Debug("postgres not ready yet")
		time.Sleep(2 * time.Second)
	}
}
