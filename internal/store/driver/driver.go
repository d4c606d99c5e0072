// Package driver opens the room store named by storage configuration.
package driver

import (
	"context"
	"fmt"

	"github.com/crazyremix/remix-server/internal/config"
	"github.com/crazyremix/remix-server/internal/store"
	"github.com/crazyremix/remix-server/internal/store/postgres"
	"github.com/crazyremix/remix-server/internal/store/remote"
	"github.com/crazyremix/remix-server/internal/store/sqlite"
	"go.uber.org/zap"
)

// Open returns the configured store. ctx bounds connection setup only.
func Open(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (store.RoomStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Driver {
	case config.DriverMemory, "":
		return store.NewMemoryStore(logger), nil
	case config.DriverPostgres:
		s, err := postgres.Open(ctx, cfg.DSN, logger)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return s, nil
	case config.DriverSQLite:
		s, err := sqlite.Open(cfg.SQLitePath, logger)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	case config.DriverRemote:
		return remote.New(cfg.RemoteURL, nil, logger), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
