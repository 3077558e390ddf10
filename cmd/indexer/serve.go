package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/emperorhan/nft-indexer/internal/api"
	"github.com/emperorhan/nft-indexer/internal/cache"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func (a *app) serve(ctx context.Context) error {
	respCache, err := cache.New(ctx, cache.Config{
		Backend:  a.cfg.Cache.Backend,
		TTL:      a.cfg.Cache.TTL,
		Capacity: a.cfg.Cache.Capacity,
		MaxBytes: a.cfg.Cache.MaxBytes,
		RedisURL: a.cfg.Cache.RedisURL,
	})
	if err != nil {
		return fmt.Errorf("response cache: %w", err)
	}
	opts := []api.ServerOption{
		api.WithIndexers(a.contract, a.orderIdx),
		api.WithPinger(a.db),
		api.WithSupplyReader(a.supply),
		api.WithMarketplaceProxy(a.proxy),
	}
	if a.names != nil {
		opts = append(opts, api.WithNameResolver(a.names))
	}
	if respCache != nil {
		defer respCache.Close()
		opts = append(opts, api.WithCache(respCache))
	}

	limiter := api.NewRateLimitMiddleware(a.logger)
	defer limiter.Stop()
	opts = append(opts, api.WithRateLimiter(limiter))

	srv := api.NewServer(a.assets, a.orders, a.logger, opts...)
	return runHTTPServer(ctx, a, srv.Handler())
}

func runHTTPServer(ctx context.Context, a *app, handler http.Handler) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.db.ReportPoolStats(gCtx, time.Duration(a.cfg.DB.PoolStatsIntervalMS)*time.Millisecond)
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Warn("api server shutdown error", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		a.logger.Info("api server started", "port", a.cfg.Server.Port, "cache", a.cfg.Cache.Backend)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	return g.Wait()
}
