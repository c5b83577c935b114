// Package main is the entry point for the rankings server.
//
// main stays minimal: load configuration, build the logger, create the
// server, run it. Everything else lives in internal/.
package main

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/obouchta/cf-rankings/internal/config"
	"github.com/obouchta/cf-rankings/internal/server"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	// .env is a development convenience; in production the variables come
	// from the real environment and the file simply doesn't exist.
	if err := godotenv.Load(); err == nil {
		logger.Debug("loaded .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// OAuth credentials are optional — warn, don't die. The related
	// routes degrade to a redirect with an error message.
	if cfg.IntraClientID == "" || cfg.IntraClientSecret == "" {
		logger.Warn("42 Intra OAuth credentials not configured — login is disabled")
	}

	// The SQLite file's directory must exist before the driver opens it.
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			logger.Error("failed to create database directory",
				slog.String("dir", dir),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start blocks until SIGINT/SIGTERM.
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
