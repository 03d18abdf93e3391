// Package repository opens the ports.Store selected by configuration.
package repository

import (
	"context"
	"fmt"

	"github.com/wsu/workorderpro/internal/config"
	"github.com/wsu/workorderpro/internal/repository/memory"
	"github.com/wsu/workorderpro/internal/repository/postgres"
	"github.com/wsu/workorderpro/internal/repository/sqlite"
	"github.com/wsu/workorderpro/ports"
)

// Open returns the store for cfg.Driver. When AutoMigrate is set the schema
// is applied before returning.
func Open(ctx context.Context, cfg config.DatabaseConfig) (ports.Store, error) {
	var (
		store ports.Store
		err   error
	)
	switch cfg.Driver {
	case "postgres":
		store, err = postgres.Open(ctx, postgres.Config{
			DSN:             cfg.DSN,
			MaxConnections:  cfg.MaxConnections,
			MaxConnIdleTime: cfg.MaxConnIdleTime,
			ConnectTimeout:  cfg.ConnectTimeout,
		})
	case "sqlite":
		store, err = sqlite.Open(cfg.DSN)
	case "memory":
		store = memory.New()
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if cfg.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return store, nil
}
