package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/technosupport/firewatch/internal/alarms"
	"github.com/technosupport/firewatch/internal/auth"
	"github.com/technosupport/firewatch/internal/config"
	"github.com/technosupport/firewatch/internal/data"
	"github.com/technosupport/firewatch/internal/logging"
	"github.com/technosupport/firewatch/internal/platform/paths"
)

// seed-admin creates the first admin account. The password is read from
// SEED_ADMIN_PASSWORD so it never shows up in the process list.
func main() {
	username := flag.String("username", "admin", "admin username")
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger, _, err := logging.New("info", "console", "firewatch-seed")
	if err != nil {
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	password := os.Getenv("SEED_ADMIN_PASSWORD")
	if len(password) < 8 {
		logger.Fatal("SEED_ADMIN_PASSWORD must be set to at least 8 characters")
	}

	cfg, err := config.Load(paths.ResolveConfigPath(*configPath))
	if err != nil {
		logger.Fatal("config load failed", zap.Error(err))
	}
	if cfg.Database.Driver != config.DriverPostgres {
		logger.Fatal("seed-admin requires database.driver postgres")
	}
	if cfg.Auth.Argon2 != nil {
		auth.SetDefaultParams(cfg.Auth.Argon2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := data.Open(ctx, cfg.Database.DSN(), cfg.Database.PoolConfig)
	if err != nil {
		logger.Fatal("database connect failed", zap.Error(err))
	}
	defer db.Close()

	hash, err := auth.HashPassword(password)
	if err != nil {
		logger.Fatal("hash failed", zap.Error(err))
	}

	u := &data.User{Username: *username, PasswordHash: hash, Role: alarms.RoleAdmin}
	err = data.UserModel{DB: db}.Create(ctx, u)
	switch {
	case errors.Is(err, data.ErrUsernameTaken):
		logger.Info("admin already exists, nothing to do", zap.String("username", *username))
	case err != nil:
		logger.Fatal("create admin failed", zap.Error(err))
	default:
		logger.Info("admin created", zap.String("username", u.Username), zap.Int64("id", u.ID))
	}
}
