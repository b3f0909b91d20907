package storage

import (
	"context"
	"errors"
	"fmt"

	"NoiseMonitorAPI/internal/config"
	"NoiseMonitorAPI/internal/database"
	"NoiseMonitorAPI/internal/logger"
)

// ErrNotFound is returned by Get when the key has never been set or was removed.
var ErrNotFound = errors.New("storage: key not found")

// Store is the persistence port: string values under string keys.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string) error
	Remove(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// Open builds the Store selected by cfg.Driver.
func Open(ctx context.Context, cfg *config.StorageConfig, log *logger.Logger) (Store, error) {
	switch cfg.Driver {
	case config.StorageMemory:
		return NewMemoryStore(), nil

	case config.StorageFile:
		return NewFileStore(cfg.FilePath, log)

	case config.StorageRedis:
		store := NewRedisStore(NewRedisClient(&cfg.Redis), cfg.Redis.KeyPrefix)
		if err := store.Ping(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.Redis.Addr, err)
		}
		return store, nil

	case config.StoragePostgres:
		db, err := database.New(&cfg.Database)
		if err != nil {
			return nil, err
		}
		if err := db.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return NewPostgresStore(db.DB), nil

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
