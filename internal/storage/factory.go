package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/kbase/internal/config"
	"github.com/hyperjump/kbase/internal/models"
)

// BackendType names a storage implementation.
type BackendType string

const (
	// BackendFile keeps JSON files in a data directory. Default.
	BackendFile BackendType = "file"
	// BackendBolt uses a single bbolt database file.
	BackendBolt BackendType = "bolt"
	// BackendSQLite uses a SQLite database file.
	BackendSQLite BackendType = "sqlite"
	// BackendPostgres uses a PostgreSQL server reached through PostgresDSN.
	BackendPostgres BackendType = "postgres"
)

// Open creates the backend selected by cfg.Backend, wrapped in an LRU read cache
// when cfg.CacheSize is positive.
func Open(ctx context.Context, cfg config.StorageConfig) (Backend, error) {
	var (
		b   Backend
		err error
	)
	switch BackendType(cfg.Backend) {
	case BackendFile, "":
		b, err = NewFileBackend(cfg.DataDir)
	case BackendBolt:
		b, err = NewBoltBackend(cfg.BoltPath)
	case BackendSQLite:
		b, err = NewSQLiteBackend(ctx, cfg.DatabasePath)
	case BackendPostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres backend requires storage.postgres_dsn")
		}
		b, err = NewPostgresBackend(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s (supported: file, bolt, sqlite, postgres)", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	if cfg.CacheSize > 0 {
		cached, err := NewCachedBackend(b, cfg.CacheSize)
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		return cached, nil
	}
	return b, nil
}

// SeedUsers stores users when the backend has none yet. Existing users are left alone.
func SeedUsers(ctx context.Context, repo Repository, users []*models.User, logger *zap.Logger) error {
	existing, err := repo.ListUsers(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	for _, u := range users {
		if u == nil {
			continue
		}
		if err := repo.PutUser(ctx, u); err != nil {
			return err
		}
		logger.Debug("seeded user", zap.Int("id", u.ID), zap.String("name", u.Name))
	}
	return nil
}
