package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"

	"github.com/technosupport/firewatch/internal/config"
	"github.com/technosupport/firewatch/internal/data"
	"github.com/technosupport/firewatch/internal/logging"
	"github.com/technosupport/firewatch/internal/platform/paths"
)

func main() {
	up := flag.Bool("up", false, "run all up migrations")
	down := flag.Bool("down", false, "roll back all migrations")
	steps := flag.Int("steps", 0, "run +/- n migrations")
	source := flag.String("source", "file://db/migrations", "migration source URL")
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger, _, err := logging.New("info", "console", "firewatch-migrator")
	if err != nil {
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg := config.Default()
	if loaded, err := config.Load(paths.ResolveConfigPath(*configPath)); err == nil {
		cfg = *loaded
	} else {
		logger.Warn("config not loaded, using defaults and env", zap.Error(err))
		cfg.Database.Host = envOr("DB_HOST", cfg.Database.Host)
		cfg.Database.User = os.Getenv("DB_USER")
		cfg.Database.Password = os.Getenv("DB_PASSWORD")
		cfg.Database.Name = envOr("DB_NAME", cfg.Database.Name)
	}

	db, err := data.Open(context.Background(), cfg.Database.DSN(), data.PoolConfig{})
	if err != nil {
		logger.Fatal("database connect failed", zap.Error(err))
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		logger.Fatal("migrate driver init failed", zap.Error(err))
	}
	m, err := migrate.NewWithDatabaseInstance(*source, "postgres", driver)
	if err != nil {
		logger.Fatal("migrate init failed", zap.Error(err))
	}

	start := time.Now()
	switch {
	case *up:
		err = m.Up()
	case *down:
		err = m.Down()
	case *steps != 0:
		err = m.Steps(*steps)
	default:
		version, dirty, verr := m.Version()
		if verr != nil {
			logger.Info("no migration applied yet", zap.Error(verr))
			return
		}
		logger.Info("current schema", zap.Uint("version", version), zap.Bool("dirty", dirty))
		return
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Fatal("migration failed", zap.Error(err))
	}
	logger.Info("migration complete", zap.Duration("took", time.Since(start)))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
