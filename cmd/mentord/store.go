package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dsamentor/mentor/internal/background"
	"github.com/dsamentor/mentor/internal/config"
	"github.com/dsamentor/mentor/internal/domain"
	"github.com/dsamentor/mentor/internal/storage/local"
	"github.com/dsamentor/mentor/internal/storage/postgres"
	"github.com/dsamentor/mentor/internal/storage/sqlite"
)

type stateStore interface {
	background.StateStore
	Close() error
}

// openStore opens the configured state store with migrations applied.
// File-backed stores default to dataDir.
func openStore(ctx context.Context, cfg config.StorageConfig, policy domain.Policy, dataDir string) (stateStore, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		if cfg.SQLitePath == "" {
			cfg.SQLitePath = filepath.Join(dataDir, "mentor.db")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		slog.Info("using sqlite store", "path", cfg.SQLitePath)
		return sqlite.NewStateStore(db, policy), nil

	case config.DriverPostgres:
		s, err := postgres.Open(ctx, cfg.PostgresURL, policy)
		if err != nil {
			return nil, err
		}
		slog.Info("using postgres store")
		return s, nil

	case config.DriverJSON, "":
		store, err := local.NewStore(dataDir)
		if err != nil {
			return nil, err
		}
		slog.Info("using json store", "dir", dataDir)
		return local.NewStateStore(store, policy), nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}
