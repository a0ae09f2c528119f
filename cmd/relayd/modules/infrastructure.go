package modules

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"go.uber.org/fx"

	migrations "github.com/numrelay/numrelay/db"
	"github.com/numrelay/numrelay/internal/boot"
	"github.com/numrelay/numrelay/internal/config"
	"github.com/numrelay/numrelay/internal/db"
	"github.com/numrelay/numrelay/internal/logger"
)

// Infrastructure wires configuration, logging and the sqlite database.
var Infrastructure = fx.Module(
	"infrastructure",
	fx.Provide(
		provideConfig,
		provideLogger,
		boot.ProvideRuntimeConfig,
		provideDBConn,
	),
)

func provideConfig() (config.Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, log *slog.Logger, runtimeConfig *boot.RuntimeConfig) (*sql.DB, error) {
	conn, err := db.Open(runtimeConfig.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}

	fsys, err := migrations.Migrations()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("load migrations: %w", err)
	}
	if err := db.Migrate(log, conn, fsys); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return conn.Close()
		},
	})
	return conn, nil
}
