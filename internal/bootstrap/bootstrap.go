// Package bootstrap opens the backends selected by the configuration. It is
// shared by the server and the seed command.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"workflow-ingest/backend/internal/cache"
	"workflow-ingest/backend/internal/config"
	"workflow-ingest/backend/internal/logging"
	"workflow-ingest/backend/internal/repository"
)

// OpenStore connects the configured storage driver. The returned func
// releases the connection pool.
func OpenStore(ctx context.Context, cfg *config.Config, logger *logging.Logger) (repository.Store, func(), error) {
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		pool, err := openPool(ctx, cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		return repository.NewPostgresStore(pool, logger), pool.Close, nil

	case config.DriverSQLite:
		db, err := repository.OpenSQLite(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("SQLite database opened", "path", cfg.Storage.SQLitePath)
		return repository.NewSQLiteStore(db, logger), func() { _ = db.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

func openPool(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	logger.Debug("Initializing database connection")

	poolConfig, err := pgxpool.ParseConfig(cfg.DB.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if cfg.DB.MaxConns > 0 {
		poolConfig.MaxConns = cfg.DB.MaxConns
	}
	poolConfig.MinConns = cfg.DB.MinConns

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Storage.Timeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Database connected", "max_conns", poolConfig.MaxConns)
	return pool, nil
}

// WorkflowRegistry returns store, wrapped in the Redis cache when
// cache.redis_url is set. The returned func closes the Redis client.
func WorkflowRegistry(cfg *config.Config, store repository.WorkflowRegistry, logger *logging.Logger) (repository.WorkflowRegistry, func(), error) {
	if cfg.Cache.RedisURL == "" {
		return store, func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.Cache.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid cache.redis_url: %w", err)
	}
	client := redis.NewClient(opts)

	logger.Info("Workflow cache enabled", "addr", opts.Addr, "ttl", cfg.Cache.TTL)
	return cache.NewRegistry(store, client, cfg.Cache.TTL, logger), func() { _ = client.Close() }, nil
}
