package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/trunov/heroproxy/internal/cache"
	"github.com/trunov/heroproxy/internal/config"
	"github.com/trunov/heroproxy/internal/converter"
	"github.com/trunov/heroproxy/internal/fetcher"
	"github.com/trunov/heroproxy/internal/metrics"
	"github.com/trunov/heroproxy/internal/queue"
	"github.com/trunov/heroproxy/internal/r2"
	"github.com/trunov/heroproxy/internal/transport/handler"
	"github.com/trunov/heroproxy/internal/transport/router"
	use_case "github.com/trunov/heroproxy/internal/use-case"
)

type App struct {
	HttpServer *http.Server

	cfg   *config.Config
	log   *logrus.Entry
	cache *cache.Cache
	pool  *queue.Pool
}

// NewLogger builds the process logger from the log section of the config.
func NewLogger(cfg config.LogConfig) (*logrus.Logger, error) {
	l := logrus.New()

	if cfg.Level != "" {
		level, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		l.SetLevel(level)
	}

	if cfg.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return l, nil
}

func New(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*App, error) {
	log := logrus.NewEntry(logger)

	capacity, err := cfg.Cache.CapacityBytes()
	if err != nil {
		return nil, fmt.Errorf("cache capacity: %w", err)
	}
	resultCache, err := cache.New(cache.Options{
		CapacityBytes: capacity,
		TimeToIdle:    cfg.Cache.TimeToIdle * time.Second,
		TimeToLive:    cfg.Cache.TimeToLive * time.Second,
		SweepInterval: cfg.Cache.SweepInterval * time.Second,
		EvictBatch:    cfg.Cache.EvictBatch,
		Shards:        cfg.Cache.Shards,
	})
	if err != nil {
		return nil, err
	}

	var objects fetcher.ObjectStore
	if cfg.R2.Enabled() {
		storage, err := r2.NewStorage(ctx, &cfg.R2)
		if err != nil {
			resultCache.Close()
			return nil, err
		}
		objects = storage
		log.WithField("bucket", storage.Bucket).Info("r2:// sources enabled")
	}

	f, err := fetcher.New(cfg.Fetch, objects)
	if err != nil {
		resultCache.Close()
		return nil, err
	}

	pool := queue.NewPool(cfg.Workers, f, converter.New(cfg.Proxy), log)

	uc, err := use_case.New(resultCache, pool, cfg.Proxy, log)
	if err != nil {
		resultCache.Close()
		return nil, err
	}

	m := metrics.New(resultCache, pool)
	h := handler.New(uc, resultCache, pool, log)
	r := router.NewRouter(h, m.Handler(), m.Instrument)

	s := &http.Server{
		Handler:      r,
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		ReadTimeout:  cfg.Server.ReadTimeout * time.Second,
		WriteTimeout: cfg.Server.WriteTimeout * time.Second,
	}

	log.WithFields(logrus.Fields{
		"format":   cfg.Proxy.Format,
		"workers":  pool.Workers(),
		"queue":    pool.QueueCapacity(),
		"cache":    cfg.Cache.Capacity,
		"coalesce": cfg.Proxy.Coalesce,
	}).Info("proxy configured")

	return &App{
		HttpServer: s,
		cfg:        cfg,
		log:        log,
		cache:      resultCache,
		pool:       pool,
	}, nil
}

// Start launches the workers without serving HTTP. Jobs keep running after
// ctx is cancelled so that a shutdown can drain the queue.
func (a *App) Start(ctx context.Context) {
	a.pool.Start(context.WithoutCancel(ctx))
}

// Run serves until ctx is cancelled or the listener fails, then shuts down.
func (a *App) Run(ctx context.Context) error {
	a.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("starting server on %s", a.HttpServer.Addr)
		errCh <- a.HttpServer.ListenAndServe()
	}()

	var serveErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	case <-ctx.Done():
		a.log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout*time.Second)
	defer cancel()
	if err := a.HttpServer.Shutdown(shutdownCtx); err != nil {
		a.log.WithError(err).Warn("http shutdown")
	}

	a.Close()
	return serveErr
}

// Close drains the worker pool and stops the cache sweeper.
func (a *App) Close() {
	a.pool.Close()
	a.cache.Close()
}
