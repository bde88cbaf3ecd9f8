package main

// migrate applies the embedded goose migrations to DATABASE_URL.

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/lmittmann/tint"

	"github.com/printshopapp/printshop/internal/db"
)

type migrateConfig struct {
	DatabaseURL string     `env:"DATABASE_URL,required"`
	LogLevel    slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
}

func main() {
	cmd := flag.String("cmd", "up", "migration command: up|down|status|version|redo|reset")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall migration timeout")
	flag.Parse()

	var cfg migrateConfig
	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse config: %v\n", err)
		os.Exit(1)
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: cfg.LogLevel})).With("component", "migrate", "cmd", *cmd)

	switch *cmd {
	case "up", "down", "status", "version", "redo", "reset":
	default:
		logger.Error("unknown -cmd value")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := db.Connect(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: 2})
	if err != nil {
		logger.Error("resource not working: database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	logger.Info("migrate ready")
	if err := db.Migrate(ctx, pool, *cmd, flag.Args()...); err != nil {
		logger.Error("migration failed", "error", err)
		pool.Close()
		os.Exit(1)
	}
	logger.Info("migration finished")
}
