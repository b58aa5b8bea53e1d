package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"hostel-allocation-backend/config"
	"hostel-allocation-backend/internal/allocation"
	"hostel-allocation-backend/internal/api"
	"hostel-allocation-backend/internal/db"
	"hostel-allocation-backend/internal/metrics"
	"hostel-allocation-backend/internal/mw"
	"hostel-allocation-backend/internal/notification"
	"hostel-allocation-backend/internal/roster"
	"hostel-allocation-backend/internal/store"
)

type loader func() (*config.Config, *zap.Logger, error)

func serveCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, roster sync and notification workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := load()
			if err != nil {
				return err
			}
			defer log.Sync()
			return serve(cfg, log)
		},
	}
}

func serve(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gormDB, err := db.Init(&cfg.Database, cfg.Log.Level, log)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	appStore := store.NewGormStore(gormDB)
	collector := metrics.New()

	engineOpts := []allocation.Option{
		allocation.WithLogger(log.Named("allocation")),
		allocation.WithRecorder(collector),
		allocation.WithRetryPolicy(allocation.RetryPolicy{
			MaxAttempts:    cfg.Allocation.MaxAttempts,
			InitialBackoff: cfg.Allocation.InitialBackoff(),
			MaxBackoff:     cfg.Allocation.MaxBackoff(),
		}),
	}

	var webpushOptions *webpush.Options
	if cfg.Push.Enabled() {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		pool := notification.NewWorkerPool(cfg.WorkerPool.Size, gormDB, webpushOptions, log.Named("notification"))
		pool.Start(ctx)
		engineOpts = append(engineOpts, allocation.WithNotifier(pool))
		log.Info("bed-available notifications enabled", zap.Int("workers", cfg.WorkerPool.Size))
	} else {
		log.Warn("VAPID keys are not configured, bed-available notifications are disabled")
	}

	engine := allocation.NewEngine(appStore, engineOpts...)

	rosterSvc := roster.NewService(&cfg.Roster, appStore, engine, log.Named("roster"))
	go rosterSvc.Run(ctx)

	routerOpts := api.RouterOptions{
		Logger:          log.Named("http"),
		Metrics:         collector.Handler(),
		RateLimitPerSec: cfg.Server.RateLimitPerSec,
		RateLimitBurst:  cfg.Server.RateLimitBurst,
		CacheTTL:        time.Duration(cfg.Server.CacheTTLSeconds) * time.Second,
	}
	if cfg.Redis.Enabled {
		rdb, err := newRedisClient(ctx, &cfg.Redis, log)
		if err != nil {
			log.Warn("redis unavailable, idempotency keys are ignored", zap.Error(err))
		} else {
			defer rdb.Close()
			routerOpts.Idempotency = mw.NewRedisStore(rdb)
			routerOpts.IdempotencyTTL = time.Duration(cfg.Redis.IdempotencyTTLSec) * time.Second
		}
	}

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	handler := api.NewHandler(appStore, engine, webpushOptions, log.Named("api"))
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewRouter(handler, routerOpts),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutdown signal received, stopping services")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown: %w", err)
	}
	log.Info("server gracefully stopped")
	return nil
}

func newRedisClient(ctx context.Context, cfg *config.RedisConfig, log *zap.Logger) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	log.Info("redis connected", zap.String("addr", cfg.Addr))
	return rdb, nil
}
