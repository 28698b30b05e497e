package trafficlog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/junctionflow/junctionflow/internal/database"
)

// Log store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// OpenConfig selects and configures a log store.
type OpenConfig struct {
	Driver     string
	SQLitePath string
	Database   database.Config
}

// Open returns the configured log store and a func releasing it.
func Open(ctx context.Context, cfg OpenConfig) (Repository, func(), error) {
	switch cfg.Driver {
	case DriverMemory:
		return NewInMemoryRepository(), func() {}, nil

	case DriverSQLite:
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		repo, err := OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return repo, func() { _ = repo.Close() }, nil

	case DriverPostgres:
		pool, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		repo := NewPostgresRepository(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return repo, pool.Close, nil

	default:
		return nil, nil, fmt.Errorf("%w: unknown driver %q", ErrNotConfigured, cfg.Driver)
	}
}
