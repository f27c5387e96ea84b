// Package app wires configuration into the storage, upstream and service
// layers shared by the server and the flowctl command.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"flowdeck/backend/internal/api"
	"flowdeck/backend/internal/config"
	"flowdeck/backend/internal/logging"
	"flowdeck/backend/internal/relay"
	"flowdeck/backend/internal/repository"
	"flowdeck/backend/internal/services"
	"flowdeck/backend/internal/session"
)

// RedisPrefix namespaces session keys in a shared Redis.
const RedisPrefix = "flowdeck:"

// App holds the long-lived dependencies of a process.
type App struct {
	Config    *config.Config
	Logger    *logging.Logger
	Pool      *pgxpool.Pool
	Audit     *repository.PostgresAuditStore
	Redis     *redis.Client
	Sessions  *session.Manager
	Relay     *relay.Relay
	Workflows *services.WorkflowService
}

// New connects to Postgres (and Redis when configured), migrates the audit
// schema and builds the workflow service.
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*App, error) {
	pool, err := InitDatabase(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Logger: logger, Pool: pool}
	a.Audit = repository.NewPostgresAuditStore(pool)
	if err := a.Audit.Migrate(ctx); err != nil {
		a.Close()
		return nil, err
	}

	var store session.Store = session.NewMemoryStore()
	if cfg.Redis.Addr != "" {
		a.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		store = session.NewRedisStore(a.Redis, RedisPrefix)
	} else {
		logger.Warn("Redis not configured, sessions are kept in memory")
	}
	a.Sessions = session.NewManager(store, cfg.Session.TTL)

	a.Relay, err = relay.New(cfg.Upstream.BaseURL, relay.WithLogger(logger.With("component", "relay")))
	if err != nil {
		a.Close()
		return nil, err
	}

	opts := []services.Option{
		services.WithLogger(logger.With("component", "workflows")),
		services.WithCategories(cfg.Categories),
		services.WithPreserveModes(cfg.Schedule.PreserveModes),
		services.WithRetentionDays(cfg.Audit.RetentionDays),
	}
	if len(cfg.Workflows.HiddenIDs) > 0 {
		opts = append(opts, services.WithHiddenIDs(cfg.Workflows.HiddenIDs))
	}
	a.Workflows = services.NewWorkflowService(services.NewHTTPWorkflowClient(a.Relay), a.Audit, opts...)

	return a, nil
}

// HealthChecks lists the backing services reported by /health.
func (a *App) HealthChecks() map[string]api.Pinger {
	checks := map[string]api.Pinger{"postgres": a.Audit}
	if a.Redis != nil {
		checks["redis"] = redisPinger{a.Redis}
	}
	return checks
}

// Close releases connections.
func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Error("Failed to close redis client", "error", err)
		}
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}

// InitDatabase opens and pings a pgx pool.
func InitDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	logger.Debug("Initializing database connection", "host", cfg.DB.Host, "db", cfg.DB.Name)

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
