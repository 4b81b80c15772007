package repository

import (
	"fmt"

	"metabolism-platform/internal/config"
	"metabolism-platform/pkg/database"
	"metabolism-platform/pkg/logging"
	"metabolism-platform/pkg/metrics"
)

// Open builds the repository selected by cfg.Storage.Driver and returns
// it with a close function for whatever connection it holds.
func Open(cfg *config.Config, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) (MetabolismRepository, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Storage.Driver {
	case config.StorageMemory:
		return NewMemoryRepository(), noop, nil

	case config.StorageSQLite:
		db, err := database.NewSQLite(cfg.Storage.SQLitePath, logger, metricsCollector)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		repo, err := NewSQLiteRepository(db, logger, metricsCollector)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return repo, db.Close, nil

	case config.StoragePostgres:
		db, err := database.NewPostgres(&database.Config{
			Host:            cfg.Database.Host,
			Port:            cfg.Database.Port,
			User:            cfg.Database.User,
			Password:        cfg.Database.Password,
			Database:        cfg.Database.Database,
			SSLMode:         cfg.Database.SSLMode,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		}, logger, metricsCollector)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		return NewPostgresRepository(db, logger, metricsCollector), db.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}
