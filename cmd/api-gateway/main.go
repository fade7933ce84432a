package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/ecomstack/gateway-api/internal/handler"
	"github.com/ecomstack/gateway-api/internal/repository"
	"github.com/ecomstack/gateway-api/internal/service"
	"github.com/ecomstack/gateway-api/internal/ws"
	"github.com/ecomstack/gateway-api/pkg/cache"
	"github.com/ecomstack/gateway-api/pkg/config"
	"github.com/ecomstack/gateway-api/pkg/database"
	"github.com/ecomstack/gateway-api/pkg/jobs"
	"github.com/ecomstack/gateway-api/pkg/keyedmutex"
	"github.com/ecomstack/gateway-api/pkg/logger"
	"github.com/ecomstack/gateway-api/pkg/ratelimit"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		// The gateway degrades to uncached identity lookups without Redis.
		logr.Sugar().Warnw("redis unavailable, identity cache disabled", "error", err)
		redisClient = nil
	}

	userRepo := repository.NewUserRepository(db)
	tokenRepo := repository.NewRefreshTokenRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	metricsSvc := service.NewMetricsService()
	tokenSvc := service.NewTokenService(service.TokenConfig{
		Secret:     cfg.JWT.Secret,
		Issuer:     cfg.JWT.Issuer,
		Expiration: cfg.JWT.Expiration,
	})
	authSvc := service.NewAuthService(
		userRepo,
		tokenRepo,
		cacheRepo,
		tokenSvc,
		keyedmutex.New(),
		validator.New(),
		logr,
		service.AuthConfig{
			RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
			AccessTokenExpiry:  cfg.JWT.Expiration,
			IdentityCacheTTL:   cfg.JWT.IdentityCacheTTL,
		},
	)

	limiter := ratelimit.New(ratelimit.Config{
		Capacity:       cfg.RateLimit.Capacity,
		RefillInterval: cfg.RateLimit.RefillInterval,
		Shards:         cfg.RateLimit.Shards,
	})

	hub := ws.NewHub(logr)
	authorizer := ws.NewSubscriptionAuthorizer(metricsSvc, logr)

	r := handler.NewRouter(handler.RouterDeps{
		Config:      cfg,
		Logger:      logr,
		Tokens:      tokenSvc,
		Metrics:     metricsSvc,
		Limiter:     limiter,
		Auth:        handler.NewAuthHandler(authSvc, tokenSvc, metricsSvc),
		MetricsHTTP: handler.NewMetricsHandler(metricsSvc),
		WS:          handler.NewWSHandler(tokenSvc, hub, authorizer, cfg.WS, logr),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := jobs.NewRunner(logr)
	runner.Add(jobs.Task{
		Name:     "refresh-token-sweep",
		Interval: cfg.Jobs.SweepInterval,
		Run: func(ctx context.Context) error {
			cutoff := time.Now().UTC().Add(-cfg.Jobs.TokenRetention)
			deleted, err := tokenRepo.DeleteExpiredBefore(ctx, cutoff)
			if err != nil {
				return err
			}
			if deleted > 0 {
				logr.Sugar().Infow("swept expired refresh tokens", "deleted", deleted)
			}
			return nil
		},
	})
	runner.Add(jobs.Task{
		Name:     "rate-limit-prune",
		Interval: cfg.RateLimit.IdleTTL,
		Run: func(context.Context) error {
			limiter.Prune(cfg.RateLimit.IdleTTL)
			return nil
		},
	})
	runner.Start(ctx)
	defer runner.Stop()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
