// Package repository opens the activity store selected by configuration.
package repository

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CaioWing/Ledger/internal/config"
	"github.com/CaioWing/Ledger/internal/domain"
	"github.com/CaioWing/Ledger/internal/repository/postgres"
	"github.com/CaioWing/Ledger/internal/repository/sqlite"
)

// Open migrates and connects the configured store. The returned close
// function releases the connection pool.
func Open(ctx context.Context, cfg *config.Config, log *slog.Logger) (domain.ActivityRepository, func(), error) {
	switch cfg.Ledger.Store {
	case config.StoreSQLite:
		db, err := sqlite.Open(cfg.Ledger.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		if err := sqlite.MigrateUp(db); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("migrations: %w", err)
		}
		log.Info("sqlite store ready", "path", cfg.Ledger.SQLitePath)
		return sqlite.NewActivityRepo(db), func() { db.Close() }, nil

	default:
		log.Info("running database migrations")
		if err := postgres.RunMigrations(cfg.DB.DSN()); err != nil {
			return nil, nil, fmt.Errorf("migrations: %w", err)
		}
		log.Info("migrations completed")

		pool, err := pgxpool.New(ctx, cfg.DB.DSN())
		if err != nil {
			return nil, nil, fmt.Errorf("connect db: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ping db: %w", err)
		}
		log.Info("database connected", "db_host", cfg.DB.Host)
		return postgres.NewActivityRepo(pool), pool.Close, nil
	}
}

// MigrationStatus reports the schema version of the configured store without
// applying anything.
func MigrationStatus(cfg *config.Config) (uint, bool, error) {
	if cfg.Ledger.Store == config.StoreSQLite {
		db, err := sqlite.Open(cfg.Ledger.SQLitePath)
		if err != nil {
			return 0, false, err
		}
		defer db.Close()
		return sqlite.MigrationVersion(db)
	}
	return postgres.MigrationVersion(cfg.DB.DSN())
}
