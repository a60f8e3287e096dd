// Package app assembles the runtime dependencies shared by the server and the
// operator CLI.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/Clark-Hu/movie-review-aggregator/internal/config"
	"github.com/Clark-Hu/movie-review-aggregator/internal/lock"
	"github.com/Clark-Hu/movie-review-aggregator/internal/omdb"
	"github.com/Clark-Hu/movie-review-aggregator/internal/repository"
	"github.com/Clark-Hu/movie-review-aggregator/internal/resolver"
	"github.com/Clark-Hu/movie-review-aggregator/internal/store"
)

// App holds the wired components.
type App struct {
	Store    *store.Store
	Repo     *repository.Repository
	Resolver *resolver.Resolver

	locker *lock.RedisLocker
	logger logrus.FieldLogger
}

// New connects to Postgres (and Redis when configured), applies migrations if
// enabled and builds the resolution pipeline.
func New(ctx context.Context, cfg config.Config, logger logrus.FieldLogger) (*App, error) {
	dbCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.DBConnTimeoutSecs)*time.Second)
	defer cancel()

	if cfg.DBAutoMigrate {
		if err := store.Migrate(cfg.DBURL, logger); err != nil {
			return nil, fmt.Errorf("migrate database: %w", err)
		}
	}

	st, err := store.New(dbCtx, cfg.DBURL, store.Options{
		MaxConns:               int32(cfg.DBMaxConns),
		MinConns:               int32(cfg.DBMinConns),
		MaxConnIdleTime:        time.Duration(cfg.DBMaxIdleSecs) * time.Second,
		MaxConnLifetime:        time.Duration(cfg.DBMaxLifeSecs) * time.Second,
		ConnTimeout:            time.Duration(cfg.DBConnTimeoutSecs) * time.Second,
		StatementCacheCapacity: cfg.DBStatementCache,
		Logger:                 logger,
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	providerTimeout := time.Duration(cfg.OMDbTimeoutSecs) * time.Second
	provider, err := omdb.NewHTTPClient(cfg.OMDbURL, cfg.OMDbAPIKey, providerTimeout, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("init omdb client: %w", err)
	}

	if err := st.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
		st.Close()
		return nil, err
	}

	a := &App{Store: st, Repo: repository.New(st), logger: logger}

	opts := resolver.Options{ProviderTimeout: providerTimeout, Logger: logger}
	if cfg.RedisAddr != "" {
		locker, err := lock.NewRedisLocker(ctx, lock.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      time.Duration(cfg.LockTTLSecs) * time.Second,
			Wait:     providerTimeout,
		}, logger)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.locker = locker
		opts.Locker = locker
	}

	a.Resolver = resolver.New(a.Repo.MovieRatings, provider, opts)
	return a, nil
}

// Close releases database and Redis connections.
func (a *App) Close() {
	if a.locker != nil {
		if err := a.locker.Close(); err != nil {
			a.logger.WithError(err).Warn("close redis")
		}
	}
	a.Store.Close()
}
