package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "proctor",
		Short:        "On-device exam session engine for proctored tests",
		SilenceUsage: true,
	}

	serve := serveCmd()
	root.AddCommand(serve, tokenCmd(), hashPasswordCmd(), queueCmd(), migrateCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	return root
}

// loadRuntime reads configuration and builds the logger every command shares.
func loadRuntime() (*config.Config, zerolog.Logger) {
	cfg := config.Load()
	log := logger.Setup(logger.Options{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})
	return cfg, log
}

// openStore opens the configured local KV backend. The returned closer
// releases the underlying connection.
func openStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (repository.KV, func(), error) {
	switch cfg.StoreDriver {
	case "sqlite":
		db, err := database.OpenSQLite(ctx, cfg.SQLitePath, log)
		if err != nil {
			return nil, nil, err
		}
		kv, err := repository.NewSQLiteKV(ctx, db)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return kv, func() { db.Close() }, nil

	case "redis":
		rdb, err := database.OpenRedis(ctx, cfg, log)
		if err != nil {
			return nil, nil, err
		}
		return repository.NewRedisKV(rdb, cfg.DeviceID), func() { rdb.Close() }, nil

	case "postgres":
		if err := database.MigrateUp(cfg); err != nil {
			return nil, nil, err
		}
		pool, err := database.OpenPostgres(ctx, cfg, log)
		if err != nil {
			return nil, nil, err
		}
		return repository.NewPostgresKV(pool, cfg.DeviceID), pool.Close, nil

	case "memory":
		log.Warn().Msg("Using in-memory store: attempts will not survive a restart")
		return repository.NewMemoryKV(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}
