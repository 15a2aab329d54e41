// Command migrate applies or rolls back the PostgreSQL schema.
// Usage: migrate up | down | version
package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"pharmapos/backend/internal/config"
	"pharmapos/backend/internal/logger"
	"pharmapos/backend/internal/migrations"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg := config.Load()
	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	defer func() { _ = log.Sync() }()

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	m, err := migrations.Open(cfg.DatabaseURL, log.Named("migrate"))
	if err != nil {
		log.Fatal("open migrator", zap.Error(err))
	}
	defer func() {
		if err := m.Close(); err != nil {
			log.Warn("close migrator", zap.Error(err))
		}
	}()

	switch os.Args[1] {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	case "version":
		var (
			version uint
			dirty   bool
		)
		version, dirty, err = m.Version()
		if err == nil {
			log.Info("schema version", zap.Uint("version", version), zap.Bool("dirty", dirty))
		}
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		log.Fatal("migration command failed", zap.String("command", os.Args[1]), zap.Error(err))
	}
}

func printUsage() {
	fmt.Println(`PharmaPOS schema migrations

Usage:
  migrate <command>

Commands:
  up        Apply all pending migrations
  down      Roll back every migration
  version   Print the applied schema version
  help      Show this help

Environment Variables:
  DATABASE_URL   PostgreSQL connection string (required)`)
}
