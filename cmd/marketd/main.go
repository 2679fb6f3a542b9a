// Command marketd runs the edition market: registry, swap ledger, settlement
// and the HTTP API in one process.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	app "github.com/teia-market/marketd/internal/app"
	"github.com/teia-market/marketd/internal/app/httpapi"
	"github.com/teia-market/marketd/internal/app/metrics"
	metadatasvc "github.com/teia-market/marketd/internal/app/services/metadata"
	"github.com/teia-market/marketd/internal/app/services/settlement"
	"github.com/teia-market/marketd/internal/app/storage/postgres"
	"github.com/teia-market/marketd/internal/config"
	"github.com/teia-market/marketd/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.NewDefault("marketd").WithError(err).Error("load configuration")
		os.Exit(1)
	}
	log := logger.New("marketd", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Error("marketd exited with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *logger.Logger) error {
	stores := app.Stores{}
	if cfg.DatabaseURL != "" {
		pg, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pg.Close()
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
		stores.Editions = pg
		stores.Listings = pg
		log.Info("using postgres store")
	} else {
		log.Warn("DATABASE_URL not set; using in-memory store")
	}

	opts := app.Options{
		Admin:               cfg.AdminAddress,
		Operator:            cfg.OperatorAddress,
		MetadataGateway:     cfg.MetadataGateway,
		MetadataTimeout:     cfg.MetadataTimeout,
		SnapshotInterval:    cfg.SnapshotInterval,
		SnapshotConcurrency: cfg.SnapshotConcurrency,
	}

	if cfg.MetadataRedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.MetadataRedisAddr})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			log.WithError(err).Warn("redis unreachable; metadata cache stays in process")
		} else {
			opts.MetadataCache = metadatasvc.NewRedisCache(client, cfg.MetadataCacheTTL, log)
			log.Info("using redis metadata cache")
		}
	}

	if cfg.RouterURL != "" {
		router, err := settlement.NewHTTPRouter(nil, cfg.RouterURL, cfg.RouterAPIKey, log)
		if err != nil {
			return err
		}
		opts.Router = router
		log.Info("using external payment router")
	} else {
		log.Warn("ROUTER_URL not set; payment routing stays in process")
	}

	application, err := app.New(stores, opts, log)
	if err != nil {
		return err
	}
	if err := application.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := application.Stop(stopCtx); err != nil {
			log.WithError(err).Warn("application stop")
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", httpapi.NewHandler(application))

	limiter := httpapi.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, log)
	auth := httpapi.BearerAuth(cfg.BearerTokens(), log)
	handler := metrics.InstrumentHandler(limiter.Handler(auth(mux)))

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("http server listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
