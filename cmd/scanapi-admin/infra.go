package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/target/mmk-scan-api/internal/bootstrap"
)

// adminRuntime bundles the connections and services a command needs.
type adminRuntime struct {
	DB       *sql.DB
	Redis    redis.UniversalClient
	Services bootstrap.ServiceContainer
}

// openRuntime connects Postgres (and Redis when enabled) and wires the scan services.
func openRuntime(cmdCtx *commandContext) (*adminRuntime, error) {
	db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{
		DBConfig: cmdCtx.Config.Postgres,
		Logger:   cmdCtx.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	redisClient, err := bootstrap.ConnectRedis(bootstrap.DatabaseConfig{
		RedisConfig: cmdCtx.Config.Redis,
		Logger:      cmdCtx.Logger,
	})
	if err != nil {
		return nil, errors.Join(fmt.Errorf("connect redis: %w", err), closeInfra(db, nil))
	}

	services, err := bootstrap.NewServices(&bootstrap.ServiceDeps{
		Config:      &cmdCtx.Config,
		DB:          db,
		RedisClient: redisClient,
		Logger:      cmdCtx.Logger,
	})
	if err != nil {
		return nil, errors.Join(err, closeInfra(db, redisClient))
	}

	return &adminRuntime{DB: db, Redis: redisClient, Services: services}, nil
}

// Close waits for queued failure notifications, then releases connections.
func (rt *adminRuntime) Close() error {
	if rt == nil {
		return nil
	}
	if rt.Services.Reconciler != nil {
		rt.Services.Reconciler.Wait()
	}
	return errors.Join(rt.Services.Observability.Close(), closeInfra(rt.DB, rt.Redis))
}

func withRuntime(cmdCtx *commandContext, fn func(ctx context.Context, rt *adminRuntime) error) (err error) {
	rt, err := openRuntime(cmdCtx)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := rt.Close(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
	}()
	return fn(cmdCtx.Ctx, rt)
}

func closeInfra(db *sql.DB, redisClient redis.UniversalClient) error {
	var closeErr error
	if db != nil {
		if err := db.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close db: %w", err))
		}
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close redis: %w", err))
		}
	}
	return closeErr
}
